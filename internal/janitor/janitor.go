// Package janitor removes staged recordings once they outlive the
// retention window. It sweeps independently of the pipeline runs that
// created the files.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/PratikDhanave/call-relay-service/internal/clock"
)

// Config controls the sweep.
type Config struct {
	Dir      string
	MaxAge   time.Duration
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Janitor sweeps one staging directory.
type Janitor struct {
	cfg Config
}

// New applies defaults: one hour for both MaxAge and Interval.
func New(cfg Config) (*Janitor, error) {
	if cfg.Dir == "" {
		return nil, errors.New("janitor: Dir is required")
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Janitor{cfg: cfg}, nil
}

// Sweep deletes regular files directly under Dir whose modification
// time is older than MaxAge. A missing directory is not an error.
// Individual removal failures are logged and skipped.
func (j *Janitor) Sweep() (int, error) {
	entries, err := os.ReadDir(j.cfg.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("janitor: read %s: %w", j.cfg.Dir, err)
	}

	cutoff := j.cfg.Clock.Now().Add(-j.cfg.MaxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Already gone.
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(j.cfg.Dir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			j.cfg.Logger.Warn("artifact removal failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Run sweeps immediately and then every Interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := j.cfg.Clock.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		n, err := j.Sweep()
		if err != nil {
			j.cfg.Logger.Error("artifact sweep failed", "error", err)
		} else if n > 0 {
			j.cfg.Logger.Info("artifacts removed", "count", n, "dir", j.cfg.Dir)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
