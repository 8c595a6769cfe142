package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "tellbot/pkg/logx"

	_ "modernc.org/sqlite"
)

// Open initializes the configured backend.
func Open(ctx context.Context, cfg Config, log logx.Logger, opts ...Option) (Backend, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(opts...), nil
	case "sqlite", "sqlite3":
		b, err := openSQLite(ctx, cfg, log, opts...)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// OpenSQLite opens (and optionally provisions) a sqlite-backed SQLBackend.
// The returned backend owns the connection.
func OpenSQLite(ctx context.Context, cfg Config, log logx.Logger, opts ...Option) (*SQLBackend, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(ctx, cfg, log, opts...)
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger, opts ...Option) (*SQLBackend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	var release func() error
	if cfg.Lock {
		unlock, err := lockPath(path + ".lock")
		if err != nil {
			return nil, err
		}
		release = unlock
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		if release != nil {
			_ = release()
		}
		return nil, err
	}
	// SQLite prefers a single writer; one connection also serializes transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	b, err := NewSQL(db, cfg.Table, opts...)
	if err != nil {
		_ = db.Close()
		if release != nil {
			_ = release()
		}
		return nil, err
	}
	b.owned = true
	b.release = release

	if cfg.AutoCreate {
		if err := b.CreateSchema(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
		log.Debug("schema ensured", logx.String("table", b.table), logx.String("path", path))
	}
	return b, nil
}
