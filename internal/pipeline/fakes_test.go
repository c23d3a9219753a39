package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/PratikDhanave/call-relay-service/internal/clock"
	"github.com/PratikDhanave/call-relay-service/internal/models"
	"github.com/PratikDhanave/call-relay-service/internal/store"
)

type fakeCalls struct {
	meta     models.CallMetadata
	metaErr  error
	audioErr error
	dir      string

	infoCalls  atomic.Int64
	audioCalls atomic.Int64
}

func (f *fakeCalls) FetchCallInfo(_ context.Context, _ string) (models.CallMetadata, error) {
	f.infoCalls.Add(1)
	if f.metaErr != nil {
		return models.CallMetadata{}, f.metaErr
	}
	return f.meta, nil
}

func (f *fakeCalls) DownloadAudio(_ context.Context, callID, audioRef, dir string) (models.AudioArtifact, error) {
	f.audioCalls.Add(1)
	if f.audioErr != nil {
		return models.AudioArtifact{}, f.audioErr
	}
	path := filepath.Join(dir, callID+"-"+audioRef+".mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		return models.AudioArtifact{}, err
	}
	return models.AudioArtifact{LocalPath: path, SizeBytes: 5}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error

	// release, when set, blocks Deliver until closed.
	release chan struct{}
	entered atomic.Int64
	current atomic.Int64
	peak    atomic.Int64
}

func (f *fakeNotifier) Deliver(_ context.Context, n models.Notification) error {
	f.entered.Add(1)
	cur := f.current.Add(1)
	for {
		peak := f.peak.Load()
		if cur <= peak || f.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	if f.release != nil {
		<-f.release
	}
	f.current.Add(-1)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

func (f *fakeNotifier) notifications() []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Notification(nil), f.sent...)
}

type fakeAlerter struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeAlerter) Alert(_ context.Context, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeAlerter) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.msgs...)
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(context.Context, string) (string, error) {
	return f.text, f.err
}

type failingLedger struct{ *store.MemoryStore }

func (failingLedger) MarkSeen(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	ledger   store.Ledger
	calls    *fakeCalls
	notifier *fakeNotifier
	alerter  *fakeAlerter
	pipeline *Pipeline
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		ledger:   store.NewMemoryStore(),
		calls:    &fakeCalls{meta: models.CallMetadata{DurationSeconds: 42}},
		notifier: &fakeNotifier{},
		alerter:  &fakeAlerter{},
	}
	cfg := Config{
		Ledger:      h.ledger,
		Calls:       h.calls,
		Notifier:    h.notifier,
		Alerter:     h.alerter,
		Clock:       clock.Real(),
		DownloadDir: t.TempDir(),
		Logger:      quietLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.ledger = cfg.Ledger

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	h.pipeline = p
	return h
}

func usCall(id string) models.CallEvent {
	return models.CallEvent{ID: id, DID: "15551234567", AudioRef: "u1", CountryName: "US", CountryCode: "US"}
}
