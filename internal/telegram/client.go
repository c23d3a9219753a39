// Package telegram delivers notifications and operator alerts through
// the Bot API: sendMessage for text and sendAudio for recordings.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DefaultBaseURL is the public Bot API.
const DefaultBaseURL = "https://api.telegram.org"

// ParseModeHTML selects Telegram's HTML subset for captions.
const ParseModeHTML = tgbotapi.ModeHTML

// APIError is a rejected Bot API call.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s: %d %s", e.Method, e.Code, e.Description)
}

// Config configures a Client.
type Config struct {
	Token string
	// BaseURL overrides DefaultBaseURL (tests, local Bot API servers).
	BaseURL string
	// HTTP is used for every call. Defaults to a client with Timeout.
	HTTP *http.Client
	// Timeout bounds one API call when HTTP is nil. Defaults to 60s.
	Timeout time.Duration
}

// Client wraps one bot. It is immutable after NewClient and safe for
// concurrent use by pipelines and the alerter.
type Client struct {
	bot   *tgbotapi.BotAPI
	http  *http.Client
	token string
}

// NewClient builds the bot without calling getMe, so a Bot API outage
// does not block startup.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: missing bot token")
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	bot := &tgbotapi.BotAPI{Token: cfg.Token, Client: httpClient, Buffer: 100}
	bot.SetAPIEndpoint(baseURL + "/bot%s/%s")
	return &Client{bot: bot, http: httpClient, token: cfg.Token}, nil
}

// SendMessage posts a text message. parseMode may be empty for plain text.
func (c *Client) SendMessage(ctx context.Context, chatID, text, parseMode string) error {
	chat, err := baseChat(chatID)
	if err != nil {
		return err
	}
	msg := tgbotapi.MessageConfig{BaseChat: chat, Text: text, ParseMode: parseMode}
	return c.send(ctx, "sendMessage", msg)
}

// SendAudio uploads the file at path with a caption.
func (c *Client) SendAudio(ctx context.Context, chatID, path, caption, parseMode string) error {
	chat, err := baseChat(chatID)
	if err != nil {
		return err
	}
	audio := tgbotapi.NewAudio(0, tgbotapi.FilePath(path))
	audio.BaseChat = chat
	audio.Caption = caption
	audio.ParseMode = parseMode
	return c.send(ctx, "sendAudio", audio)
}

// send runs one request on a per-call copy of the bot whose HTTP client
// carries ctx. The shared bot is never mutated.
func (c *Client) send(ctx context.Context, method string, msg tgbotapi.Chattable) error {
	bot := *c.bot
	bot.Client = contextDoer{ctx: ctx, next: c.http}

	if _, err := bot.Send(msg); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			desc := apiErr.Message
			if desc == "" {
				desc = "bot api error"
			}
			return &APIError{Method: method, Code: apiErr.Code, Description: desc}
		}
		// Request URLs embed the token; keep it out of logs and alerts.
		return fmt.Errorf("telegram: %s: %w", method, redact(err, c.token))
	}
	return nil
}

// baseChat accepts numeric chat IDs and @channel usernames.
func baseChat(chatID string) (tgbotapi.BaseChat, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return tgbotapi.BaseChat{}, errors.New("telegram: missing chat id")
	}
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return tgbotapi.BaseChat{ChatID: id}, nil
	}
	if strings.HasPrefix(chatID, "@") {
		return tgbotapi.BaseChat{ChannelUsername: chatID}, nil
	}
	return tgbotapi.BaseChat{}, fmt.Errorf("telegram: invalid chat id %q", chatID)
}

type contextDoer struct {
	ctx  context.Context
	next *http.Client
}

func (d contextDoer) Do(req *http.Request) (*http.Response, error) {
	return d.next.Do(req.WithContext(d.ctx))
}

func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}
