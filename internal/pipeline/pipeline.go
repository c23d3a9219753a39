// Package pipeline turns one accepted call event into one delivered
// notification: dedup gate, settle delay, metadata, recording,
// optional transcription, caption, delivery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PratikDhanave/call-relay-service/internal/clock"
	"github.com/PratikDhanave/call-relay-service/internal/models"
	"github.com/PratikDhanave/call-relay-service/internal/store"
)

// CallSource is the platform side: metadata lookup and recording download.
type CallSource interface {
	FetchCallInfo(ctx context.Context, callID string) (models.CallMetadata, error)
	DownloadAudio(ctx context.Context, callID, audioRef, dir string) (models.AudioArtifact, error)
}

// Transcriber turns a staged recording into best-effort text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Notifier delivers a composed notification. One call is one attempt.
type Notifier interface {
	Deliver(ctx context.Context, n models.Notification) error
}

// Alerter reaches the operator. It must not fail the caller.
type Alerter interface {
	Alert(ctx context.Context, message string)
}

// Config wires a Pipeline. Transcriber is optional.
type Config struct {
	Ledger      store.Ledger
	Calls       CallSource
	Transcriber Transcriber
	Notifier    Notifier
	Alerter     Alerter
	Clock       clock.Clock

	// SettleDelay is waited after the dedup gate so the platform can
	// finalize the call duration before it is fetched.
	SettleDelay time.Duration
	DownloadDir string
	// Location is the zone the caption's time is rendered in. Defaults to time.Local.
	Location *time.Location
	Logger   *slog.Logger
}

// Pipeline runs the per-call workflow. It holds no per-call state and
// is safe to run concurrently.
type Pipeline struct {
	cfg Config
}

// New validates cfg.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("pipeline: Ledger is required")
	}
	if cfg.Calls == nil {
		return nil, errors.New("pipeline: Calls is required")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("pipeline: Notifier is required")
	}
	if cfg.Alerter == nil {
		return nil, errors.New("pipeline: Alerter is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "downloads"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{cfg: cfg}, nil
}

// Process runs every step for ev in order and reports the outcome.
// Nothing here returns an error: degraded steps are logged and the run
// continues; only the dedup gate and the delivery decide the outcome.
func (p *Pipeline) Process(ctx context.Context, runID string, ev models.CallEvent) models.Outcome {
	logger := p.cfg.Logger.With("call_id", ev.ID, "run_id", runID)

	inserted, err := p.cfg.Ledger.MarkSeen(ctx, ev.ID)
	if err != nil {
		logger.Error("dedup gate unavailable, dropping call", "error", err)
		p.cfg.Alerter.Alert(ctx, fmt.Sprintf("❌ Ledger unavailable, call %s dropped: %v", ev.ID, err))
		return models.OutcomeDropped
	}
	if !inserted {
		logger.Debug("call already seen")
		return models.OutcomeDuplicate
	}

	if err := p.settle(ctx); err != nil {
		logger.Warn("settle delay interrupted", "error", err)
	}

	meta, err := p.cfg.Calls.FetchCallInfo(ctx, ev.ID)
	if err != nil {
		logger.Warn("call info unavailable, duration defaults to 0", "error", err)
		meta = models.CallMetadata{}
	}

	var attachment *models.AudioArtifact
	if ev.AudioRef != "" {
		art, err := p.cfg.Calls.DownloadAudio(ctx, ev.ID, ev.AudioRef, p.cfg.DownloadDir)
		if err != nil {
			logger.Warn("recording unavailable, sending text only", "error", err)
		} else {
			attachment = &art
		}
	}

	code := p.detectCode(ctx, logger, attachment)

	caption := Compose(Caption{
		CountryName:     ev.CountryName,
		CountryCode:     ev.CountryCode,
		DID:             ev.DID,
		DurationSeconds: meta.DurationSeconds,
		At:              p.cfg.Clock.Now().In(p.cfg.Location),
		Code:            code,
	})

	n := models.Notification{CaptionText: caption, Attachment: attachment}
	if err := p.cfg.Notifier.Deliver(ctx, n); err != nil {
		logger.Error("delivery failed", "error", err, "with_audio", attachment != nil)
		p.cfg.Alerter.Alert(ctx, fmt.Sprintf("❌ Delivery failed for call %s: %v", ev.ID, err))
		return models.OutcomeFailed
	}

	logger.Info("call delivered",
		"duration", meta.DurationSeconds,
		"with_audio", attachment != nil,
		"code_detected", code != "",
	)
	return models.OutcomeDelivered
}

func (p *Pipeline) settle(ctx context.Context) error {
	if p.cfg.SettleDelay <= 0 {
		return nil
	}
	select {
	case <-p.cfg.Clock.After(p.cfg.SettleDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// detectCode transcribes the recording, if any, and pulls out the
// first standalone 4-8 digit run.
func (p *Pipeline) detectCode(ctx context.Context, logger *slog.Logger, art *models.AudioArtifact) string {
	if art == nil || p.cfg.Transcriber == nil {
		return ""
	}
	text, err := p.cfg.Transcriber.Transcribe(ctx, art.LocalPath)
	if err != nil {
		logger.Warn("transcription failed", "error", err)
		return ""
	}
	code, ok := ExtractCode(text)
	if !ok {
		return ""
	}
	return code
}
