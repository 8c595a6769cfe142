package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// stampLayout is fixed-width so textual order matches chronological order.
const stampLayout = "2006-01-02 15:04:05.000000000"

// SQLBackend stores queues as rows of a single table.
//
// Both two-step sequences (count+insert, select+delete) run inside one
// transaction, so concurrent posts cannot overrun the bound and a retrieval
// never misses or duplicates rows.
type SQLBackend struct {
	db    *sql.DB
	table string
	max   atomic.Int64
	now   func() time.Time

	stampMu   sync.Mutex
	lastStamp time.Time

	// owned is true when Open created db; Close then closes it.
	owned   bool
	release func() error
	closed  atomic.Bool
}

// NewSQL wraps an existing connection. The caller keeps ownership of db.
func NewSQL(db *sql.DB, table string, opts ...Option) (*SQLBackend, error) {
	if db == nil {
		return nil, errors.New("storage: nil *sql.DB")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		table = DefaultTable
	}
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	b := &SQLBackend{db: db, table: table, now: o.now}
	b.max.Store(int64(o.maxMessages))
	return b, nil
}

// CreateSchema creates the message table and its recipient index if absent.
// It is idempotent.
func CreateSchema(ctx context.Context, db *sql.DB, table string) error {
	table = strings.TrimSpace(table)
	if table == "" {
		table = DefaultTable
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			"timestamp" TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			"sender" VARCHAR(64) NOT NULL,
			"recipient" VARCHAR(64) NOT NULL,
			"message" VARCHAR(4096) NOT NULL
		)`, quoteIdent(table)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("recipient", "timestamp")`,
			quoteIdent(table+"_recipient_idx"), quoteIdent(table)),
	}
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create schema %s: %w", table, err)
		}
	}
	return nil
}

// CreateSchema provisions this backend's table.
func (b *SQLBackend) CreateSchema(ctx context.Context) error {
	return CreateSchema(ctx, b.db, b.table)
}

// HasSchema reports whether the message table exists. It reads the sqlite
// catalog.
func (b *SQLBackend) HasSchema(ctx context.Context) (bool, error) {
	var n int
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, b.table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("schema lookup %s: %w", b.table, err)
	}
	return n > 0, nil
}

// DB exposes the underlying handle.
func (b *SQLBackend) DB() *sql.DB { return b.db }

func (b *SQLBackend) Table() string { return b.table }

func (b *SQLBackend) SetMaxMessages(n int) { b.max.Store(int64(n)) }

func (b *SQLBackend) MaxMessages() int { return int(b.max.Load()) }

func (b *SQLBackend) PostMessage(ctx context.Context, sender, recipient, body string) (ok bool, err error) {
	if b.closed.Load() {
		return false, ErrClosed
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("post message: begin: %w", err)
	}
	defer func() {
		if err != nil || !ok {
			_ = tx.Rollback()
		}
	}()

	if limit := b.MaxMessages(); limit > 0 {
		var n int
		q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE "recipient" = ?`, quoteIdent(b.table))
		if err := tx.QueryRowContext(ctx, q, recipient).Scan(&n); err != nil {
			return false, fmt.Errorf("post message: count: %w", err)
		}
		if n >= limit {
			return false, nil
		}
	}

	q := fmt.Sprintf(`INSERT INTO %s ("timestamp", "sender", "recipient", "message") VALUES (?, ?, ?, ?)`, quoteIdent(b.table))
	if _, err := tx.ExecContext(ctx, q, b.stamp().Format(stampLayout), sender, recipient, body); err != nil {
		return false, fmt.Errorf("post message: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("post message: commit: %w", err)
	}
	return true, nil
}

func (b *SQLBackend) RetrieveMessages(ctx context.Context, recipient string) (out []PendingMessage, err error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieve messages: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	q := fmt.Sprintf(`SELECT "timestamp", "sender", "message" FROM %s WHERE "recipient" = ? ORDER BY "timestamp" ASC`, quoteIdent(b.table))
	rows, err := tx.QueryContext(ctx, q, recipient)
	if err != nil {
		return nil, fmt.Errorf("retrieve messages: select: %w", err)
	}
	out = []PendingMessage{}
	for rows.Next() {
		var (
			raw any
			m   PendingMessage
		)
		if err := rows.Scan(&raw, &m.Sender, &m.Body); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("retrieve messages: scan: %w", err)
		}
		if m.Timestamp, err = parseStamp(raw); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("retrieve messages: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("retrieve messages: rows: %w", err)
	}
	_ = rows.Close()

	if len(out) > 0 {
		del := fmt.Sprintf(`DELETE FROM %s WHERE "recipient" = ?`, quoteIdent(b.table))
		if _, err := tx.ExecContext(ctx, del, recipient); err != nil {
			return nil, fmt.Errorf("retrieve messages: delete: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("retrieve messages: commit: %w", err)
	}
	return out, nil
}

func (b *SQLBackend) Stats(ctx context.Context) ([]QueueStat, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	q := fmt.Sprintf(`SELECT "recipient", COUNT(*), MIN("timestamp") FROM %s GROUP BY "recipient" ORDER BY "recipient"`, quoteIdent(b.table))
	rows, err := b.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	out := []QueueStat{}
	for rows.Next() {
		var (
			st  QueueStat
			raw any
		)
		if err := rows.Scan(&st.Recipient, &st.Count, &raw); err != nil {
			return nil, fmt.Errorf("stats: scan: %w", err)
		}
		if st.Oldest, err = parseStamp(raw); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (b *SQLBackend) Purge(ctx context.Context, before time.Time) (int, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE "timestamp" < ?`, quoteIdent(b.table))
	res, err := b.db.ExecContext(ctx, q, before.UTC().Format(stampLayout))
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func (b *SQLBackend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if b.owned {
		err = b.db.Close()
	}
	if b.release != nil {
		if rerr := b.release(); err == nil {
			err = rerr
		}
	}
	return err
}

// stamp returns a strictly increasing UTC timestamp so rows posted within the
// same clock tick keep their insertion order.
func (b *SQLBackend) stamp() time.Time {
	now := b.now().UTC()
	b.stampMu.Lock()
	defer b.stampMu.Unlock()
	if !now.After(b.lastStamp) {
		now = b.lastStamp.Add(time.Nanosecond)
	}
	b.lastStamp = now
	return now
}

var stampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

func parseStamp(v any) (time.Time, error) {
	var s string
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case string:
		s = t
	case []byte:
		s = string(t)
	case int64:
		return time.Unix(t, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
	s = strings.TrimSpace(s)
	for _, layout := range stampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
