package socket

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrHandshakeFailed = errors.New("socket: handshake failed")
	ErrJoinFailed      = errors.New("socket: join room failed")
	// ErrTransport wraps every I/O failure of a poll; the monitor
	// reacts to it by reconnecting.
	ErrTransport = errors.New("socket: transport failure")
	// ErrDisconnected is returned when the server sends a disconnect frame.
	ErrDisconnected = errors.New("socket: server closed the session")
	// ErrRejected is returned when the server refuses the namespace
	// connect. It wraps ErrDisconnected; the session's login is suspect.
	ErrRejected = fmt.Errorf("%w: namespace connect rejected", ErrDisconnected)
)

// maxBody bounds how much of a polling response is read.
const maxBody int64 = 8 << 20

// Session is one server-assigned transport session. It is created by
// Handshake and replaced wholesale on reconnect; nothing mutates it.
type Session struct {
	ID           string
	Jar          http.CookieJar
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// Batch is the decoded content of one poll response.
type Batch struct {
	Frames []Frame
	// Pinged is true when the batch carried a ping that was answered.
	Pinged bool
}

// Config holds what a Transport needs to reach the long-polling endpoint.
type Config struct {
	// Endpoint is the socket.io URL, e.g. https://hub.example.com/socket.io/.
	Endpoint string
	// Room is joined after every handshake.
	Room string
	// Timeout bounds each HTTP exchange. Defaults to 60s.
	Timeout     time.Duration
	InsecureTLS bool
	// HTTPTransport overrides the round tripper (tests).
	HTTPTransport http.RoundTripper
	Logger        *slog.Logger
}

// Transport performs the handshake, room join and polling I/O.
// It holds no session state of its own.
type Transport struct {
	endpoint  string
	room      string
	timeout   time.Duration
	transport http.RoundTripper
	logger    *slog.Logger
}

// NewTransport validates cfg and returns a Transport.
func NewTransport(cfg Config) (*Transport, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("socket: Endpoint is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("socket: invalid Endpoint %q: %w", cfg.Endpoint, err)
	}
	if cfg.Room == "" {
		return nil, errors.New("socket: Room is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
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

	return &Transport{
		endpoint:  cfg.Endpoint,
		room:      cfg.Room,
		timeout:   timeout,
		transport: rt,
		logger:    logger,
	}, nil
}

// handshakeResponse is the engine.io open packet body.
type handshakeResponse struct {
	SID          string `json:"sid"`
	PingInterval int64  `json:"pingInterval"`
	PingTimeout  int64  `json:"pingTimeout"`
}

// Handshake negotiates a new session using the authenticated cookie jar.
func (t *Transport) Handshake(ctx context.Context, jar http.CookieJar) (Session, error) {
	body, err := t.do(ctx, jar, http.MethodGet, "", "")
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	sid, resp, err := parseHandshake(body)
	if err != nil {
		return Session{}, err
	}

	s := Session{
		ID:           sid,
		Jar:          jar,
		PingInterval: time.Duration(resp.PingInterval) * time.Millisecond,
		PingTimeout:  time.Duration(resp.PingTimeout) * time.Millisecond,
	}
	t.logger.Info("socket handshake complete", "sid", s.ID, "ping_interval", s.PingInterval)
	return s, nil
}

// parseHandshake strips the one-character packet type and extracts sid.
func parseHandshake(body string) (string, handshakeResponse, error) {
	var resp handshakeResponse
	body = strings.TrimSpace(body)
	if len(body) < 2 {
		return "", resp, fmt.Errorf("%w: short body %q", ErrHandshakeFailed, body)
	}
	if err := json.Unmarshal([]byte(body[1:]), &resp); err != nil {
		return "", resp, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if resp.SID == "" {
		return "", resp, fmt.Errorf("%w: no sid in response", ErrHandshakeFailed)
	}
	return resp.SID, resp, nil
}

// JoinRoom connects the default namespace and asks the server to
// include this session in the account's room. Nothing waits for an ack.
func (t *Transport) JoinRoom(ctx context.Context, s Session) error {
	if _, err := t.do(ctx, s.Jar, http.MethodPost, s.ID, "40"); err != nil {
		return fmt.Errorf("%w: connect: %v", ErrJoinFailed, err)
	}

	payload, err := json.Marshal([]any{"join_user_room", map[string]string{"room": t.room}})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJoinFailed, err)
	}
	if _, err := t.do(ctx, s.Jar, http.MethodPost, s.ID, "42"+string(payload)); err != nil {
		return fmt.Errorf("%w: join: %v", ErrJoinFailed, err)
	}

	t.logger.Info("joined room", "sid", s.ID, "room", t.room)
	return nil
}

// Poll issues one polling GET and decodes every frame of the body. A
// ping anywhere in the batch is answered with one pong before Poll
// returns. The frames are returned even when the pong fails or the
// batch carries a disconnect, so calls already delivered are not lost.
func (t *Transport) Poll(ctx context.Context, s Session) (Batch, error) {
	body, err := t.do(ctx, s.Jar, http.MethodGet, s.ID, "")
	if err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var (
		batch  Batch
		pinged bool
		closed error
	)
	for _, line := range SplitPayload(body) {
		f := Decode(line)
		switch f.Kind {
		case KindPing:
			pinged = true
		case KindDisconnect:
			if closed == nil {
				closed = ErrDisconnected
				if strings.HasPrefix(f.Raw, "44") {
					closed = fmt.Errorf("%w: %s", ErrRejected, f.Raw)
				}
			}
		}
		batch.Frames = append(batch.Frames, f)
	}

	if pinged && closed == nil {
		if err := t.Pong(ctx, s); err != nil {
			return batch, err
		}
		batch.Pinged = true
	}
	return batch, closed
}

// Pong answers a server ping.
func (t *Transport) Pong(ctx context.Context, s Session) error {
	if _, err := t.do(ctx, s.Jar, http.MethodPost, s.ID, "3"); err != nil {
		return fmt.Errorf("%w: pong: %v", ErrTransport, err)
	}
	return nil
}

// do performs one exchange against the endpoint. sid is omitted for the
// handshake. A non-2xx status is an error.
func (t *Transport) do(ctx context.Context, jar http.CookieJar, method, sid, body string) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "polling")
	if sid != "" {
		q.Set("sid", sid)
	}
	u.RawQuery = q.Encode()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return "", err
	}
	if body != "" {
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	}

	client := &http.Client{Jar: jar, Timeout: t.timeout, Transport: t.transport}
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return "", err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", fmt.Errorf("http %d: %s", res.StatusCode, strings.TrimSpace(string(data)))
	}
	return string(data), nil
}
