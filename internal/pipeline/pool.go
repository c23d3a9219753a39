package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/PratikDhanave/call-relay-service/internal/models"
	"github.com/PratikDhanave/call-relay-service/internal/store"
)

// ErrPoolClosed is returned by Submit after Shutdown has begun.
var ErrPoolClosed = errors.New("pipeline: pool is shut down")

// Result is what a finished run reports on the completion channel.
type Result struct {
	RunID   string
	CallID  string
	Outcome models.Outcome
}

// PoolConfig tunes the dispatcher side of the pipeline.
type PoolConfig struct {
	// MaxInFlight caps concurrently running pipelines. Defaults to 16.
	MaxInFlight int
	// CounterTimeout bounds each ledger counter update. Defaults to 10s.
	CounterTimeout time.Duration
	Logger         *slog.Logger
}

// PoolStats is a snapshot for the operator endpoint.
type PoolStats struct {
	Submitted  int64 `json:"submitted"`
	InFlight   int64 `json:"in_flight"`
	Delivered  int64 `json:"delivered"`
	Failed     int64 `json:"failed"`
	Duplicates int64 `json:"duplicates"`
	Dropped    int64 `json:"dropped"`
}

// Pool dispatches call events to pipeline runs without ever blocking
// the caller. Each submission gets its own goroutine, but at most
// MaxInFlight of them are past the semaphore at a time. Finished runs
// report on a completion channel drained by a single collector that
// owns the ledger counter updates.
type Pool struct {
	pipeline       *Pipeline
	ledger         store.Ledger
	sem            *semaphore.Weighted
	results        chan Result
	collectorDone  chan struct{}
	counterTimeout time.Duration
	logger         *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	submitted  atomic.Int64
	inFlight   atomic.Int64
	delivered  atomic.Int64
	failed     atomic.Int64
	duplicates atomic.Int64
	dropped    atomic.Int64
}

// NewPool starts the collector. Call Shutdown to drain and stop it.
func NewPool(p *Pipeline, cfg PoolConfig) *Pool {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 16
	}
	if cfg.CounterTimeout <= 0 {
		cfg.CounterTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	pool := &Pool{
		pipeline:       p,
		ledger:         p.cfg.Ledger,
		sem:            semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		results:        make(chan Result, cfg.MaxInFlight),
		collectorDone:  make(chan struct{}),
		counterTimeout: cfg.CounterTimeout,
		logger:         cfg.Logger,
	}
	go pool.collect()
	return pool
}

// Submit schedules ev and returns its run ID immediately.
func (p *Pool) Submit(ev models.CallEvent) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return "", ErrPoolClosed
	}

	runID := uuid.NewString()
	p.submitted.Add(1)
	p.wg.Add(1)
	go p.run(runID, ev)
	return runID, nil
}

// run executes one pipeline. Its context is detached from shutdown:
// once dispatched a call runs to completion.
func (p *Pool) run(runID string, ev models.CallEvent) {
	defer p.wg.Done()

	ctx := context.Background()
	// Acquire cannot fail with a background context.
	_ = p.sem.Acquire(ctx, 1)
	p.inFlight.Add(1)
	outcome := p.pipeline.Process(ctx, runID, ev)
	p.inFlight.Add(-1)
	p.sem.Release(1)

	p.results <- Result{RunID: runID, CallID: ev.ID, Outcome: outcome}
}

// collect applies counter updates in completion order.
func (p *Pool) collect() {
	defer close(p.collectorDone)
	for r := range p.results {
		var counter string
		switch r.Outcome {
		case models.OutcomeDelivered:
			p.delivered.Add(1)
			counter = store.CounterSuccess
		case models.OutcomeFailed:
			p.failed.Add(1)
			counter = store.CounterFailed
		case models.OutcomeDuplicate:
			p.duplicates.Add(1)
			continue
		default:
			p.dropped.Add(1)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.counterTimeout)
		if _, err := p.ledger.Increment(ctx, counter, 1); err != nil {
			p.logger.Error("counter update failed", "counter", counter, "call_id", r.CallID, "run_id", r.RunID, "error", err)
		}
		cancel()
	}
}

// Shutdown stops accepting work and waits for in-flight runs and their
// counter updates. If ctx expires first the runs keep going in the
// background and ctx.Err() is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	alreadyClosed := p.closed
	p.closed = true
	p.mu.Unlock()

	if !alreadyClosed {
		go func() {
			p.wg.Wait()
			close(p.results)
		}()
	}

	select {
	case <-p.collectorDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Submitted:  p.submitted.Load(),
		InFlight:   p.inFlight.Load(),
		Delivered:  p.delivered.Load(),
		Failed:     p.failed.Load(),
		Duplicates: p.duplicates.Load(),
		Dropped:    p.dropped.Load(),
	}
}
