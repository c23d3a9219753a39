// Package transcribe sends staged recordings to a Whisper-compatible
// speech-to-text endpoint.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = openai.Whisper1
)

// Config configures a Client. Only APIKey is required.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// HTTP overrides the default client (2 minute timeout).
	HTTP *http.Client
}

// Client is immutable after New and safe for concurrent use.
type Client struct {
	api   *openai.Client
	model string
}

// New builds a client for POST {BaseURL}/audio/transcriptions.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("transcribe: missing api key")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTP != nil {
		oc.HTTPClient = cfg.HTTP
	} else {
		oc.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{api: openai.NewClientWithConfig(oc), model: model}, nil
}

// Transcribe uploads the file and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: path,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return resp.Text, nil
}
