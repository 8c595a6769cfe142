package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend keeps queues in a map. Contents are lost when the process exits.
type MemoryBackend struct {
	mu     sync.Mutex
	queues map[string][]PendingMessage
	max    int
	now    func() time.Time
	closed bool
}

func NewMemory(opts ...Option) *MemoryBackend {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &MemoryBackend{
		queues: map[string][]PendingMessage{},
		max:    o.maxMessages,
		now:    o.now,
	}
}

func (m *MemoryBackend) PostMessage(ctx context.Context, sender, recipient, body string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	q := m.queues[recipient]
	if m.max > 0 && len(q) >= m.max {
		return false, nil
	}
	m.queues[recipient] = append(q, PendingMessage{
		Timestamp: m.now(),
		Sender:    sender,
		Body:      body,
	})
	return true, nil
}

func (m *MemoryBackend) RetrieveMessages(ctx context.Context, recipient string) ([]PendingMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	q, ok := m.queues[recipient]
	if !ok {
		return []PendingMessage{}, nil
	}
	delete(m.queues, recipient)
	return q, nil
}

func (m *MemoryBackend) SetMaxMessages(n int) {
	m.mu.Lock()
	m.max = n
	m.mu.Unlock()
}

func (m *MemoryBackend) MaxMessages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.max
}

func (m *MemoryBackend) Stats(ctx context.Context) ([]QueueStat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	out := make([]QueueStat, 0, len(m.queues))
	for r, q := range m.queues {
		if len(q) == 0 {
			continue
		}
		out = append(out, QueueStat{Recipient: r, Count: len(q), Oldest: q[0].Timestamp})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Recipient < out[j].Recipient })
	return out, nil
}

func (m *MemoryBackend) Purge(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	removed := 0
	for r, q := range m.queues {
		kept := q[:0]
		for _, msg := range q {
			if msg.Timestamp.Before(before) {
				removed++
				continue
			}
			kept = append(kept, msg)
		}
		if len(kept) == 0 {
			delete(m.queues, r)
		} else {
			m.queues[r] = kept
		}
	}
	return removed, nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.queues = nil
	m.mu.Unlock()
	return nil
}
