package store

import (
	"context"
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS seen_calls (
    call_id  TEXT PRIMARY KEY,
    seen_at  INTEGER NOT NULL DEFAULT (unixepoch())
);
CREATE TABLE IF NOT EXISTS ledger_counters (
    name   TEXT PRIMARY KEY,
    value  INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore is a single-node durable ledger for deployments without
// Postgres. SQLite serializes writers, so INSERT OR IGNORE plus the
// connection's change count is an atomic test-and-insert.
type SQLiteStore struct {
	pool *sqlitex.Pool
	path string
}

// OpenSQLite opens (creating if needed) the ledger database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("store: sqlite path required")
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    4,
		PrepareConn: prepareSQLiteConn,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening sqlite %s: %w", path, err)
	}
	return &SQLiteStore{pool: pool, path: path}, nil
}

func prepareSQLiteConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
}

// MarkSeen inserts the call ID and reports whether this call did the insert.
func (s *SQLiteStore) MarkSeen(ctx context.Context, callID string) (bool, error) {
	if callID == "" {
		return false, errors.New("store: callID required")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT OR IGNORE INTO seen_calls(call_id) VALUES (?)`,
		&sqlitex.ExecOptions{Args: []any{callID}})
	if err != nil {
		return false, err
	}
	return conn.Changes() == 1, nil
}

// Increment adds delta to the named counter and returns the new value.
func (s *SQLiteStore) Increment(ctx context.Context, counter string, delta int64) (int64, error) {
	if counter == "" {
		return 0, errors.New("store: counter name required")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	var value int64
	err = sqlitex.Execute(conn, `
		INSERT INTO ledger_counters(name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = value + excluded.value
		RETURNING value`,
		&sqlitex.ExecOptions{
			Args: []any{counter, delta},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnInt64(0)
				return nil
			},
		})
	return value, err
}

// Counters returns every counter. Success and failure are always present.
func (s *SQLiteStore) Counters(ctx context.Context) (map[string]int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	out := map[string]int64{CounterSuccess: 0, CounterFailed: 0}
	err = sqlitex.Execute(conn, `SELECT name, value FROM ledger_counters`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out[stmt.ColumnText(0)] = stmt.ColumnInt64(1)
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Ping borrows a connection and runs a trivial query.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)
	return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
}

// Close closes every pooled connection.
func (s *SQLiteStore) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: closing sqlite %s: %w", s.path, err)
	}
	return nil
}
