package storage

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxMessages is the per-recipient bound applied when none is configured.
const DefaultMaxMessages = 10

// DefaultTable is the table used by the sql backend when Config.Table is empty.
const DefaultTable = "tell_messages"

var ErrClosed = errors.New("storage closed")

// PendingMessage is a stored message awaiting delivery.
type PendingMessage struct {
	Timestamp time.Time
	Sender    string
	Body      string
}

// QueueStat summarizes one recipient queue without consuming it.
type QueueStat struct {
	Recipient string
	Count     int
	Oldest    time.Time
}

// Backend is the storage contract shared by the memory and sql implementations.
//
// PostMessage returns false (and stores nothing) when the recipient already has
// MaxMessages entries and the bound is enabled. A bound <= 0 disables the limit.
// RetrieveMessages returns the queue in insertion order and empties it; an
// unknown recipient yields an empty slice and no error.
type Backend interface {
	PostMessage(ctx context.Context, sender, recipient, body string) (bool, error)
	RetrieveMessages(ctx context.Context, recipient string) ([]PendingMessage, error)
	SetMaxMessages(n int)
	MaxMessages() int

	Stats(ctx context.Context) ([]QueueStat, error)
	Purge(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// Config selects and configures a backend for Open.
//
// Driver values:
//   - "" or "memory": in-process map
//   - "sqlite" / "sqlite3": SQLite database file
type Config struct {
	Driver      string
	Path        string
	Table       string
	BusyTimeout time.Duration // sqlite only; 0 means default
	AutoCreate  bool          // provision the table on open
	Lock        bool          // hold an exclusive lock file next to Path while open
}

// Option tunes a backend at construction.
type Option func(*options)

type options struct {
	maxMessages int
	now         func() time.Time
}

func defaultOptions() options {
	return options{maxMessages: DefaultMaxMessages, now: time.Now}
}

// WithMaxMessages overrides DefaultMaxMessages.
func WithMaxMessages(n int) Option { return func(o *options) { o.maxMessages = n } }

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
