package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Counter names shared by every backend.
const (
	CounterSuccess = "success"
	CounterFailed  = "failed"
)

// ErrUnsupportedURL is returned by Open for a ledger address it cannot route.
var ErrUnsupportedURL = errors.New("store: unsupported ledger url")

// Ledger is the durable dedup set plus counters shared by every
// pipeline run and across process restarts.
//
// MarkSeen is the only exactly-once guarantee in the relay: for a given
// call ID at most one caller, across goroutines and processes, observes
// inserted=true. IDs are never removed by the relay itself.
type Ledger interface {
	MarkSeen(ctx context.Context, callID string) (inserted bool, err error)
	Increment(ctx context.Context, counter string, delta int64) (int64, error)
	Counters(ctx context.Context) (map[string]int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open picks a backend from the ledger address:
//
//	postgres://... or postgresql://...  -> PostgresStore
//	sqlite:///path/to/ledger.db or file:... -> SQLiteStore
//	memory://                            -> MemoryStore (not durable)
func Open(ctx context.Context, ledgerURL string) (Ledger, error) {
	u := strings.TrimSpace(ledgerURL)
	switch {
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		pg, err := NewPostgresStore(ctx, u)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("store: ensure schema: %w", err)
		}
		return pg, nil
	case strings.HasPrefix(u, "sqlite://"):
		return OpenSQLite(strings.TrimPrefix(u, "sqlite://"))
	case strings.HasPrefix(u, "file:"):
		return OpenSQLite(u)
	case u == "memory://":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, ledgerURL)
}
