// Package carrier talks to the telephony platform's web endpoints:
// the login form, the live-call metadata lookup and the recording
// download. All requests share one cookie jar, which is also handed to
// the socket transport so the event stream is authenticated.
package carrier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// HTTPError is returned for an unexpected status from the platform.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("carrier: %s: http %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("carrier: %s: http %d", e.Op, e.StatusCode)
}

// ErrLoginTokenMissing means the login page carried no CSRF token.
var ErrLoginTokenMissing = errors.New("carrier: login token not found")

var tokenPattern = regexp.MustCompile(`name="_token"\s+value="([^"]+)"`)

// Config holds the platform endpoints and credentials.
type Config struct {
	LoginURL string
	CallsURL string
	SoundURL string
	Email    string
	Password string

	// Timeout bounds metadata and login requests. Defaults to 20s.
	Timeout time.Duration
	// DownloadTimeout bounds a recording download. Defaults to 2m.
	DownloadTimeout time.Duration
	InsecureTLS     bool
	HTTPTransport   http.RoundTripper
	Logger          *slog.Logger
}

// Client is safe for concurrent use; the cookie jar is the only shared
// state and it synchronizes internally.
type Client struct {
	cfg       Config
	jar       http.CookieJar
	transport http.RoundTripper
	logger    *slog.Logger
}

// NewClient validates cfg and creates the shared cookie jar.
func NewClient(cfg Config) (*Client, error) {
	if cfg.LoginURL == "" || cfg.CallsURL == "" || cfg.SoundURL == "" {
		return nil, errors.New("carrier: LoginURL, CallsURL and SoundURL are required")
	}
	if cfg.Email == "" || cfg.Password == "" {
		return nil, errors.New("carrier: Email and Password are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 2 * time.Minute
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("carrier: cookie jar: %w", err)
	}

	rt := cfg.HTTPTransport
	if rt == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.InsecureTLS {
			base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via CARRIER_INSECURE_TLS
		}
		rt = base
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{cfg: cfg, jar: jar, transport: rt, logger: logger}, nil
}

// Jar returns the authenticated cookie jar.
func (c *Client) Jar() http.CookieJar { return c.jar }

func (c *Client) httpClient(timeout time.Duration) *http.Client {
	return &http.Client{Jar: c.jar, Timeout: timeout, Transport: c.transport}
}

// Login scrapes the CSRF token from the login form and posts the
// credentials. Any 2xx or 3xx answer counts as success; redirects are
// not followed so the session cookie set on the 302 is what we keep.
func (c *Client) Login(ctx context.Context) error {
	client := c.httpClient(c.cfg.Timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.LoginURL, nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("carrier: login page: %w", err)
	}
	page, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	res.Body.Close()
	if err != nil {
		return fmt.Errorf("carrier: login page: %w", err)
	}

	m := tokenPattern.FindSubmatch(page)
	if m == nil {
		return ErrLoginTokenMissing
	}

	form := url.Values{}
	form.Set("_token", string(m[1]))
	form.Set("email", c.cfg.Email)
	form.Set("password", c.cfg.Password)

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	res, err = client.Do(req)
	if err != nil {
		return fmt.Errorf("carrier: login submit: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))

	if res.StatusCode < 200 || res.StatusCode > 399 {
		return &HTTPError{Op: "login", StatusCode: res.StatusCode}
	}

	c.logger.Info("carrier login successful", "status", res.StatusCode)
	return nil
}
