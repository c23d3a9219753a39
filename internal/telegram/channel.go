package telegram

import (
	"context"

	"github.com/PratikDhanave/call-relay-service/internal/models"
)

// Channel delivers notifications to one chat.
type Channel struct {
	Client *Client
	ChatID string
}

// Deliver sends the caption with the recording attached when there is
// one, otherwise as a text message. It makes exactly one API call.
func (ch *Channel) Deliver(ctx context.Context, n models.Notification) error {
	if n.Attachment != nil {
		return ch.Client.SendAudio(ctx, ch.ChatID, n.Attachment.LocalPath, n.CaptionText, ParseModeHTML)
	}
	return ch.Client.SendMessage(ctx, ch.ChatID, n.CaptionText, ParseModeHTML)
}

// Send posts a plain-text message; the alert path uses it.
func (ch *Channel) Send(ctx context.Context, text string) error {
	return ch.Client.SendMessage(ctx, ch.ChatID, text, "")
}
