package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tellbot/internal/transport"
	logx "tellbot/pkg/logx"
)

const DefaultTimeout = 10 * time.Second

type Options struct {
	Timeout time.Duration
	// PublicNotices posts notices for the sender in the originating group
	// chat. By default they go to the sender's private chat.
	PublicNotices bool
}

// Dispatcher handles updates sequentially. Handlers for one update finish
// before the next update is read.
type Dispatcher struct {
	log     logx.Logger
	adapter transport.Adapter

	timeout atomic.Int64
	public  atomic.Bool

	mu       sync.RWMutex
	bindings map[string]map[string]Handler // owner -> event -> handler
	mw       []Middleware
}

func New(adapter transport.Adapter, log logx.Logger, opts Options) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		log:      log.With(logx.String("comp", "dispatch")),
		adapter:  adapter,
		bindings: map[string]map[string]Handler{},
	}
	d.Apply(opts)
	d.mw = []Middleware{Recover(d.log), RequestLog(d.log), Timeout(d.handlerTimeout)}
	return d
}

// Apply updates the runtime options.
func (d *Dispatcher) Apply(opts Options) {
	t := opts.Timeout
	if t == 0 {
		t = DefaultTimeout
	}
	d.timeout.Store(int64(t))
	d.public.Store(opts.PublicNotices)
}

func (d *Dispatcher) handlerTimeout() time.Duration { return time.Duration(d.timeout.Load()) }

// Bind replaces the handlers registered by owner.
func (d *Dispatcher) Bind(owner string, handlers map[string]Handler) {
	cp := make(map[string]Handler, len(handlers))
	for k, h := range handlers {
		if h != nil {
			cp[k] = h
		}
	}
	d.mu.Lock()
	d.bindings[owner] = cp
	d.mu.Unlock()
}

func (d *Dispatcher) Unbind(owner string) {
	d.mu.Lock()
	delete(d.bindings, owner)
	d.mu.Unlock()
}

// Events lists every bound event name, sorted.
func (d *Dispatcher) Events() []string {
	d.mu.RLock()
	seen := map[string]struct{}{}
	for _, hs := range d.bindings {
		for name := range hs {
			seen[name] = struct{}{}
		}
	}
	d.mu.RUnlock()
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) handlers(name string) []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	owners := make([]string, 0, len(d.bindings))
	for owner := range d.bindings {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	var out []Handler
	for _, owner := range owners {
		if h, ok := d.bindings[owner][name]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Run consumes updates until ctx is done or in is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-in:
			if !ok {
				return nil
			}
			_ = d.Handle(ctx, up)
		}
	}
}

// Handle routes one update and calls every bound handler. It returns the
// joined handler errors, which are also logged by the middleware.
func (d *Dispatcher) Handle(ctx context.Context, up transport.Update) error {
	self := ""
	if d.adapter != nil {
		self = d.adapter.Self()
	}
	events := Route(up, self)
	if len(events) == 0 {
		return nil
	}
	rid := uuid.NewString()
	sink := transport.ChatSink{Adapter: d.adapter, Origin: up.Message, Public: d.public.Load()}

	var errs []error
	for _, ev := range events {
		ev.ID = rid
		hs := d.handlers(ev.Name)
		if len(hs) == 0 {
			continue
		}
		for _, h := range hs {
			if err := Chain(h, d.mw...)(ctx, ev, sink); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
