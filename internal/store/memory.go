package store

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore is a process-local ledger. It satisfies the same
// atomicity contract as the durable backends but forgets everything
// on restart; use it for tests and dry runs.
type MemoryStore struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	counters map[string]int64
}

// NewMemoryStore returns an empty ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seen:     map[string]struct{}{},
		counters: map[string]int64{},
	}
}

func (m *MemoryStore) MarkSeen(_ context.Context, callID string) (bool, error) {
	if callID == "" {
		return false, errors.New("store: callID required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[callID]; ok {
		return false, nil
	}
	m.seen[callID] = struct{}{}
	return true, nil
}

func (m *MemoryStore) Increment(_ context.Context, counter string, delta int64) (int64, error) {
	if counter == "" {
		return 0, errors.New("store: counter name required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[counter] += delta
	return m.counters[counter], nil
}

func (m *MemoryStore) Counters(context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int64{CounterSuccess: 0, CounterFailed: 0}
	for k, v := range m.counters {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
