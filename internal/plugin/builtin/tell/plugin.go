// Package tell exposes the relay coordinator as a bot plugin.
package tell

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"tellbot/internal/dispatch"
	"tellbot/internal/eventbus"
	core "tellbot/internal/plugin"
	"tellbot/internal/relay"
	"tellbot/internal/storage"
	"tellbot/internal/transport"
	logx "tellbot/pkg/logx"
)

const sweepTimeout = time.Minute

type Plugin struct {
	core.PluginBase

	store storage.Backend

	mu    sync.RWMutex
	coord *relay.Coordinator
	set   settings
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "tell" }

func (p *Plugin) Init(ctx context.Context, deps core.Deps) error {
	p.InitBase(deps, p.Name())
	base := deps.Store
	if base == nil {
		p.Log.Warn("no storage configured; messages are kept in memory")
		base = storage.NewMemory()
	}
	p.store = &observedStore{Backend: base, publish: p.PublishEvent}
	return p.apply(ctx, Config{})
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	if err := p.scheduleRetention(); err != nil {
		return err
	}
	c := p.coordinator()
	p.Log.Info("tell relay ready",
		logx.Strs("commands", c.Commands()),
		logx.Int("max_messages", c.Store().MaxMessages()),
	)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	return p.StopBase(ctx)
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	_, err = resolve(c)
	return err
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	if err := p.apply(ctx, c); err != nil {
		return err
	}
	if p.Running() {
		return p.scheduleRetention()
	}
	return nil
}

func (p *Plugin) apply(ctx context.Context, c Config) error {
	s, err := resolve(c)
	if err != nil {
		return err
	}
	opts := s.relay
	opts.Database = p.store
	coord, err := relay.New(ctx, opts)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.coord = coord
	p.set = s
	p.mu.Unlock()
	return nil
}

func (p *Plugin) coordinator() *relay.Coordinator {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.coord
}

func (p *Plugin) snapshot() settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.set
}

// Bindings wraps the coordinator's handlers for the dispatcher.
func (p *Plugin) Bindings() map[string]dispatch.Handler {
	src := p.coordinator().Bindings()
	out := make(map[string]dispatch.Handler, len(src))
	for name, h := range src {
		out[name] = adapt(h)
	}
	return out
}

func adapt(h relay.EventHandler) dispatch.Handler {
	return func(ctx context.Context, ev dispatch.Event, sink transport.Sink) error {
		return h(ctx, sink, relay.Event{Name: ev.Name, Actor: ev.Actor, Self: ev.Self, Args: ev.Args})
	}
}

func (p *Plugin) scheduleRetention() error {
	p.RemoveJobs()
	s := p.snapshot()
	if s.maxAge <= 0 {
		return nil
	}
	if p.Deps.Scheduler == nil {
		p.Log.Warn("retention configured but scheduler is not available")
		return nil
	}
	_, err := p.Cron("retention", s.sweep, sweepTimeout, p.sweep)
	return err
}

// sweep drops messages older than the configured max age.
func (p *Plugin) sweep(ctx context.Context) error {
	maxAge := p.snapshot().maxAge
	if maxAge <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-maxAge)
	n, err := p.store.Purge(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		p.Log.Info("expired messages purged", logx.Int("count", n), logx.Time("before", cutoff))
		p.PublishEvent(eventbus.TopicPurged, eventbus.Relay{Count: n})
	}
	return nil
}
