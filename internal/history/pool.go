package history

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// pool is a fixed-size SQLite connection pool with WAL journaling.
// Connections are not safe for concurrent use; callers take one, work,
// and put it back.
type pool struct {
	inner *sqlitex.Pool
	log   zerolog.Logger
	path  string
}

func openPool(path string, size int, onConnect func(conn *sqlite.Conn) error, log zerolog.Logger) (*pool, error) {
	if path == "" {
		return nil, fmt.Errorf("history: database path is required")
	}
	if size <= 0 {
		size = 4
	}

	inner, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: size,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConn(conn, onConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: opening %s: %w", path, err)
	}

	log.Info().Str("path", path).Int("pool_size", size).Msg("history database opened")
	return &pool{inner: inner, log: log, path: path}, nil
}

func (p *pool) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: take connection: %w", err)
	}
	return conn, nil
}

func (p *pool) put(conn *sqlite.Conn) { p.inner.Put(conn) }

func (p *pool) close() error {
	if err := p.inner.Close(); err != nil {
		return fmt.Errorf("history: closing %s: %w", p.path, err)
	}
	p.log.Info().Str("path", p.path).Msg("history database closed")
	return nil
}

func prepareConn(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	// WAL keeps readers unblocked by the single writer; busy_timeout
	// covers write-lock contention between pooled connections.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("history: %s: %w", pragma, err)
		}
	}
	if onConnect != nil {
		return onConnect(conn)
	}
	return nil
}
