package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tellbot/internal/eventbus"
	"tellbot/internal/runtime/supervisor"
	logx "tellbot/pkg/logx"
)

// PluginBase is embedded by plugins for logging, goroutine ownership and
// scheduler access.
//
//	type Plugin struct { plugin.PluginBase }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error { p.InitBase(deps, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); return nil }
//	func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }
type PluginBase struct {
	Log    logx.Logger
	Deps   Deps
	Runner *supervisor.Supervisor

	pluginName string
	ctx        context.Context
	jobs       []string
}

// InitBase wires deps + logger.
func (b *PluginBase) InitBase(deps Deps, pluginName string) {
	b.Deps = deps
	b.pluginName = pluginName
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	b.Log = log.With(logx.String("plugin", pluginName))
}

// StartBase creates a per-plugin supervisor tied to ctx.
func (b *PluginBase) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = supervisor.New(ctx, supervisor.WithLogger(b.Log), supervisor.WithCancelOnError(false))
}

// StopBase removes scheduled jobs, cancels the runner and waits bounded by ctx.
func (b *PluginBase) StopBase(ctx context.Context) error {
	b.RemoveJobs()
	if b.Runner == nil {
		return nil
	}
	b.Runner.Cancel()
	err := b.Runner.Wait(ctx)
	b.Runner = nil
	return err
}

// Context returns the plugin runtime context (canceled on stop/disable).
func (b *PluginBase) Context() context.Context {
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// Running reports whether StartBase was called and the plugin context is live.
func (b *PluginBase) Running() bool {
	return b.ctx != nil && b.ctx.Err() == nil && b.Runner != nil
}

// Cron registers a job namespaced by plugin ("tell:retention").
func (b *PluginBase) Cron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if b.Deps.Scheduler == nil {
		return "", errors.New("scheduler not available")
	}
	id := b.ns(name)
	if err := b.Deps.Scheduler.AddCron(id, spec, timeout, job); err != nil {
		return "", err
	}
	b.trackJob(id)
	return id, nil
}

// RemoveJobs drops every job registered through Cron.
func (b *PluginBase) RemoveJobs() {
	if b.Deps.Scheduler == nil {
		b.jobs = nil
		return
	}
	for _, id := range b.jobs {
		b.Deps.Scheduler.Remove(id)
	}
	b.jobs = nil
}

func (b *PluginBase) trackJob(id string) {
	for _, j := range b.jobs {
		if j == id {
			return
		}
	}
	b.jobs = append(b.jobs, id)
}

func (b *PluginBase) ns(name string) string {
	if b.pluginName == "" {
		return name
	}
	if name == "" {
		return b.pluginName
	}
	return b.pluginName + ":" + name
}

// PublishEvent publishes to the in-process bus, if present. Publish never blocks.
func (b *PluginBase) PublishEvent(typ string, data any) {
	if b == nil || b.Deps.Bus == nil {
		return
	}
	b.Deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// DecodePluginConfig decodes a plugin's raw config section into T, rejecting
// unknown keys. Empty input yields the zero value.
func DecodePluginConfig[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("decode config: %w", err)
	}
	return out, nil
}
