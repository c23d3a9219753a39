// Package alert carries operator alerts to the admin destination.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/PratikDhanave/call-relay-service/internal/clock"
)

// Sender posts plain text to the admin destination.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Alerter logs every alert and forwards it to the admin unless the
// limiter is exhausted. A flapping transport must not flood the admin
// chat; alerts held back by the limiter are counted and reported with
// the next alert that goes out.
type Alerter struct {
	sender  Sender
	limiter *rate.Limiter
	clock   clock.Clock
	timeout time.Duration
	logger  *slog.Logger

	mu         sync.Mutex
	suppressed int
}

// Config controls alert throttling.
type Config struct {
	// Every is the sustained alert rate. Defaults to one per 10s.
	Every time.Duration
	// Burst is how many alerts may go out back to back. Defaults to 5.
	Burst   int
	Timeout time.Duration
	Clock   clock.Clock
	Logger  *slog.Logger
}

// New returns an Alerter. A nil sender makes it log-only.
func New(sender Sender, cfg Config) *Alerter {
	if cfg.Every <= 0 {
		cfg.Every = 10 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Alerter{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(cfg.Every), cfg.Burst),
		clock:   cfg.Clock,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Alert never fails the caller; send errors are logged.
func (a *Alerter) Alert(ctx context.Context, message string) {
	a.logger.Warn("operator alert", "message", message)
	if a.sender == nil {
		return
	}

	a.mu.Lock()
	if !a.limiter.AllowN(a.clock.Now(), 1) {
		a.suppressed++
		a.mu.Unlock()
		a.logger.Warn("operator alert suppressed by rate limit", "message", message)
		return
	}
	held := a.suppressed
	a.suppressed = 0
	a.mu.Unlock()

	if held > 0 {
		message = fmt.Sprintf("%s\n(%d earlier alerts suppressed, see logs)", message, held)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	if err := a.sender.Send(ctx, message); err != nil {
		a.logger.Error("admin alert failed", "error", err)
	}
}

// Suppressed returns how many alerts are waiting to be reported.
func (a *Alerter) Suppressed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.suppressed
}
