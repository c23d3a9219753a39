package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/PratikDhanave/call-relay-service/internal/models"
)

// audioExt is the extension the platform serves recordings in.
const audioExt = "mp3"

// FetchCallInfo posts the call ID to the live-call endpoint and reads
// back its metadata. A missing or unparseable duration is zero.
func (c *Client) FetchCallInfo(ctx context.Context, callID string) (models.CallMetadata, error) {
	form := url.Values{}
	form.Set("id", callID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.CallsURL, strings.NewReader(form.Encode()))
	if err != nil {
		return models.CallMetadata{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient(c.cfg.Timeout).Do(req)
	if err != nil {
		return models.CallMetadata{}, fmt.Errorf("carrier: call info: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return models.CallMetadata{}, fmt.Errorf("carrier: call info: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return models.CallMetadata{}, &HTTPError{Op: "call info", StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return parseCallInfo(body)
}

func parseCallInfo(body []byte) (models.CallMetadata, error) {
	var fields map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return models.CallMetadata{}, fmt.Errorf("carrier: call info: %w", err)
	}

	meta := models.CallMetadata{Extra: map[string]interface{}{}}
	for k, v := range fields {
		if k == "duration" {
			meta.DurationSeconds = durationValue(v)
			continue
		}
		meta.Extra[k] = v
	}
	return meta, nil
}

// durationValue accepts a JSON number or a numeric string.
func durationValue(v interface{}) int64 {
	var s string
	switch d := v.(type) {
	case json.Number:
		s = d.String()
	case string:
		s = strings.TrimSpace(d)
	default:
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return max(n, 0)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return int64(f)
	}
	return 0
}

// AudioFileName is the staged name of a recording: <id>-<uuid>.mp3.
// Path separators in either part are neutralized.
func AudioFileName(callID, audioRef string) string {
	clean := func(s string) string {
		return strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(s)
	}
	return fmt.Sprintf("%s-%s.%s", clean(callID), clean(audioRef), audioExt)
}

// DownloadAudio streams the recording into dir. A partially written
// file is removed when the transfer fails.
func (c *Client) DownloadAudio(ctx context.Context, callID, audioRef, dir string) (models.AudioArtifact, error) {
	if audioRef == "" {
		return models.AudioArtifact{}, errors.New("carrier: no audio reference")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.AudioArtifact{}, fmt.Errorf("carrier: staging dir: %w", err)
	}

	u, err := url.Parse(c.cfg.SoundURL)
	if err != nil {
		return models.AudioArtifact{}, err
	}
	q := u.Query()
	q.Set("id", callID)
	q.Set("uuid", audioRef)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.AudioArtifact{}, err
	}

	res, err := c.httpClient(c.cfg.DownloadTimeout).Do(req)
	if err != nil {
		return models.AudioArtifact{}, fmt.Errorf("carrier: audio: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return models.AudioArtifact{}, &HTTPError{Op: "audio", StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	path := filepath.Join(dir, AudioFileName(callID, audioRef))
	f, err := os.Create(path)
	if err != nil {
		return models.AudioArtifact{}, fmt.Errorf("carrier: audio: %w", err)
	}

	n, copyErr := io.Copy(f, res.Body)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return models.AudioArtifact{}, fmt.Errorf("carrier: audio: %w", err)
	}
	if n == 0 {
		_ = os.Remove(path)
		return models.AudioArtifact{}, errors.New("carrier: audio: empty recording")
	}

	return models.AudioArtifact{LocalPath: path, SizeBytes: n}, nil
}
