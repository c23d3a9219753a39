package store

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaSQL is embedded so the relay can self-bootstrap its ledger tables.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the durable ledger backed by Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return err
}

// Ping is used by the readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// MarkSeen inserts the call ID and reports whether this call did the insert.
//
// Atomicity comes from the primary key on call_id: concurrent inserts of
// the same ID serialize in Postgres and only one of them returns a row.
func (p *PostgresStore) MarkSeen(ctx context.Context, callID string) (bool, error) {
	if callID == "" {
		return false, errors.New("store: callID required")
	}

	// RETURNING 1 only when inserted; duplicates return no rows.
	var one int
	err := p.pool.QueryRow(ctx, `
		INSERT INTO seen_calls(call_id)
		VALUES ($1)
		ON CONFLICT (call_id) DO NOTHING
		RETURNING 1
	`, callID).Scan(&one)

	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, err
}

// Increment adds delta to the named counter, creating it on first use,
// and returns the new value.
func (p *PostgresStore) Increment(ctx context.Context, counter string, delta int64) (int64, error) {
	if counter == "" {
		return 0, errors.New("store: counter name required")
	}

	var value int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO ledger_counters(name, value)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = ledger_counters.value + EXCLUDED.value
		RETURNING value
	`, counter, delta).Scan(&value)

	return value, err
}

// Counters returns every counter. Success and failure are always present.
func (p *PostgresStore) Counters(ctx context.Context) (map[string]int64, error) {
	rows, err := p.pool.Query(ctx, `SELECT name, value FROM ledger_counters`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{CounterSuccess: 0, CounterFailed: 0}
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, rows.Err()
}
