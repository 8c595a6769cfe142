package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"tellbot/internal/config"
	"tellbot/internal/dispatch"
	"tellbot/internal/eventbus"
	"tellbot/internal/scheduler"
	"tellbot/internal/storage"
	"tellbot/internal/transport"
	logx "tellbot/pkg/logx"
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// ConfigValidator is an optional hook to validate plugin config before applying it.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

// BindingProvider exposes event handlers. The manager binds them to the
// dispatcher while the plugin runs and rebinds after every config apply.
type BindingProvider interface {
	Bindings() map[string]dispatch.Handler
}

type Deps struct {
	Logger     logx.Logger
	Adapter    transport.Adapter
	Config     *config.ConfigManager
	Bus        eventbus.Bus
	Store      storage.Backend
	Scheduler  *scheduler.Service
	Dispatcher *dispatch.Dispatcher
}

type pluginEvent struct {
	Plugin string `json:"plugin"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`
}

const callTimeout = 10 * time.Second

type Manager struct {
	mu sync.Mutex

	log  logx.Logger
	deps Deps
	reg  map[string]Plugin
	run  map[string]bool
	// inited plugins are not initialized again after a disable/enable cycle.
	inited  map[string]bool
	rawHash map[string]uint64
	lastErr map[string]string

	// baseCtx outlives the call-scoped contexts passed to StartAll and
	// OnConfigUpdate; plugin contexts derive from it.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	pcancel    map[string]context.CancelFunc
}

func NewManager(log logx.Logger, deps Deps) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		log:        log.With(logx.String("comp", "plugins")),
		deps:       deps,
		reg:        map[string]Plugin{},
		run:        map[string]bool{},
		inited:     map[string]bool{},
		rawHash:    map[string]uint64{},
		lastErr:    map[string]string{},
		baseCtx:    base,
		baseCancel: cancel,
		pcancel:    map[string]context.CancelFunc{},
	}
}

func (pm *Manager) Register(p ...Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		pm.reg[pl.Name()] = pl
	}
}

// StartAll starts every plugin enabled in cfg. It reports the plugins that
// are enabled but failed to start; the others keep running.
func (pm *Manager) StartAll(ctx context.Context, cfg *config.Config) error {
	pm.reconcile(ctx, cfg)
	if cfg == nil {
		return nil
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	var errs []error
	for name := range pm.reg {
		if _, enabled := cfg.Plugin(name); enabled && !pm.run[name] {
			errs = append(errs, fmt.Errorf("plugin %s: %s", name, pm.lastErr[name]))
		}
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errors.Join(errs...)
}

// OnConfigUpdate enables, disables and reconfigures plugins to match cfg.
func (pm *Manager) OnConfigUpdate(ctx context.Context, cfg *config.Config) {
	pm.reconcile(ctx, cfg)
}

// StopAll stops running plugins; ctx bounds each Stop call.
func (pm *Manager) StopAll(ctx context.Context) {
	pm.mu.Lock()
	names := make([]string, 0, len(pm.reg))
	for name := range pm.reg {
		names = append(names, name)
	}
	pm.mu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		pm.stopOne(ctx, name, "shutdown")
	}
	pm.baseCancel()
}

// ValidateConfig runs the validators of every enabled plugin against cfg.
// It is used as the config manager's reload gate.
func (pm *Manager) ValidateConfig(ctx context.Context, cfg *config.Config) error {
	pm.mu.Lock()
	type item struct {
		name string
		p    Plugin
	}
	items := make([]item, 0, len(pm.reg))
	for name, p := range pm.reg {
		items = append(items, item{name, p})
	}
	pm.mu.Unlock()

	for _, it := range items {
		raw, enabled := cfg.Plugin(it.name)
		if !enabled {
			continue
		}
		v, ok := it.p.(ConfigValidator)
		if !ok {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := pm.safeCall("plugin.validate."+it.name, func() error { return v.ValidateConfig(cctx, raw.Config) })
		cancel()
		if err != nil {
			return fmt.Errorf("plugins.%s.config: %w", it.name, err)
		}
	}
	return nil
}

func (pm *Manager) Snapshot(cfg *config.Config) Snapshot {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := Snapshot{Time: time.Now(), Plugins: make([]Status, 0, len(pm.reg))}
	for name, p := range pm.reg {
		st := Status{Name: name, Running: pm.run[name], LastErr: pm.lastErr[name]}
		if cfg != nil {
			_, st.Enabled = cfg.Plugin(name)
		}
		if bp, ok := p.(BindingProvider); ok && st.Running {
			for ev := range bp.Bindings() {
				st.Bindings = append(st.Bindings, ev)
			}
			sort.Strings(st.Bindings)
		}
		out.Plugins = append(out.Plugins, st)
	}
	sortStatuses(out.Plugins)
	return out
}

func (pm *Manager) reconcile(_ context.Context, cfg *config.Config) {
	if cfg == nil {
		return
	}
	type op struct {
		name    string
		p       Plugin
		raw     config.PluginConfigRaw
		hash    uint64
		enabled bool
		running bool
	}
	pm.mu.Lock()
	ops := make([]op, 0, len(pm.reg))
	for name, p := range pm.reg {
		raw, enabled := cfg.Plugin(name)
		ops = append(ops, op{name: name, p: p, raw: raw, hash: canonicalHashJSON(raw.Config), enabled: enabled, running: pm.run[name]})
	}
	pm.mu.Unlock()
	sort.Slice(ops, func(i, j int) bool { return ops[i].name < ops[j].name })

	for _, o := range ops {
		switch {
		case o.enabled && !o.running:
			pm.startOne(o.name, o.p, o.raw, o.hash)
		case !o.enabled && o.running:
			stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
			pm.stopOne(stopCtx, o.name, "disabled")
			cancel()
		case o.enabled && o.running:
			pm.reconfigure(o.name, o.p, o.raw, o.hash)
		}
	}
}

func (pm *Manager) startOne(name string, p Plugin, raw config.PluginConfigRaw, hash uint64) {
	pm.log.Debug("plugin enable requested", logx.String("plugin", name))
	pctx, cancel := context.WithCancel(pm.baseCtx)

	pm.mu.Lock()
	needInit := !pm.inited[name]
	pm.mu.Unlock()
	if needInit {
		ictx, icancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.init."+name, func() error { return p.Init(ictx, pm.deps) })
		icancel()
		if err != nil {
			pm.fail(name, "init", err)
			cancel()
			return
		}
		pm.mu.Lock()
		pm.inited[name] = true
		pm.mu.Unlock()
	}

	if v, ok := p.(ConfigValidator); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.validate."+name, func() error { return v.ValidateConfig(cctx, raw.Config) })
		ccancel()
		if err != nil {
			pm.fail(name, "validate", err)
			cancel()
			return
		}
	}
	if cp, ok := p.(ConfigurablePlugin); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
		ccancel()
		if err != nil {
			pm.fail(name, "config", err)
			cancel()
			return
		}
	}

	if err := pm.startWithTimeout(name, p, pctx, cancel, callTimeout); err != nil {
		pm.fail(name, "start", err)
		cancel()
		return
	}

	pm.mu.Lock()
	pm.run[name] = true
	pm.pcancel[name] = cancel
	pm.rawHash[name] = hash
	delete(pm.lastErr, name)
	pm.mu.Unlock()

	pm.bind(name, p)
	pm.log.Info("plugin started", logx.String("plugin", name))
	pm.emit("plugin.started", pluginEvent{Plugin: name})
}

func (pm *Manager) reconfigure(name string, p Plugin, raw config.PluginConfigRaw, hash uint64) {
	pm.mu.Lock()
	unchanged := pm.rawHash[name] == hash
	pm.mu.Unlock()
	if unchanged {
		pm.log.Debug("plugin config unchanged; skipping", logx.String("plugin", name))
		return
	}
	cp, ok := p.(ConfigurablePlugin)
	if !ok {
		return
	}
	if v, ok := p.(ConfigValidator); ok {
		cctx, ccancel := context.WithTimeout(pm.baseCtx, callTimeout)
		err := pm.safeCall("plugin.validate."+name, func() error { return v.ValidateConfig(cctx, raw.Config) })
		ccancel()
		if err != nil {
			// Keep the running configuration.
			pm.recordErr(name, "validate", err)
			return
		}
	}
	cctx, ccancel := context.WithTimeout(pm.baseCtx, callTimeout)
	err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
	ccancel()
	if err != nil {
		pm.recordErr(name, "config", err)
		stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
		pm.stopOne(stopCtx, name, "config_failed")
		cancel()
		return
	}
	pm.mu.Lock()
	pm.rawHash[name] = hash
	delete(pm.lastErr, name)
	pm.mu.Unlock()

	pm.bind(name, p)
	pm.log.Info("plugin config applied", logx.String("plugin", name))
	pm.emit("plugin.config_applied", pluginEvent{Plugin: name})
}

func (pm *Manager) bind(name string, p Plugin) {
	d := pm.deps.Dispatcher
	bp, ok := p.(BindingProvider)
	if d == nil || !ok {
		return
	}
	var hs map[string]dispatch.Handler
	if err := pm.safeCall("plugin.bindings."+name, func() error { hs = bp.Bindings(); return nil }); err != nil {
		pm.recordErr(name, "bindings", err)
		return
	}
	d.Bind(name, hs)
	pm.log.Debug("plugin bound", logx.String("plugin", name), logx.Int("events", len(hs)))
}

func (pm *Manager) stopOne(stopCtx context.Context, name, reason string) {
	pm.mu.Lock()
	p := pm.reg[name]
	running := pm.run[name]
	cancel := pm.pcancel[name]
	pm.mu.Unlock()
	if !running || p == nil {
		return
	}

	if d := pm.deps.Dispatcher; d != nil {
		d.Unbind(name)
	}
	start := time.Now()
	if cancel != nil {
		cancel()
	}

	// A misbehaving plugin must not block shutdown forever.
	done := make(chan struct{})
	go func() {
		_ = pm.safeCall("plugin.stop."+name, func() error { return p.Stop(stopCtx) })
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(stopCtx.Err()))
	}

	pm.mu.Lock()
	pm.run[name] = false
	delete(pm.pcancel, name)
	delete(pm.rawHash, name)
	pm.mu.Unlock()

	pm.log.Info("plugin stopped", logx.String("plugin", name), logx.String("reason", reason), logx.Duration("took", time.Since(start)))
	pm.emit("plugin.stopped", pluginEvent{Plugin: name, Reason: reason})
}

// startWithTimeout calls Start(pctx) but enforces a deadline. On timeout the
// plugin context is cancelled.
func (pm *Manager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		cancel()
		grace := time.NewTimer(2 * time.Second)
		defer grace.Stop()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("start timeout (%s): %w", timeout, err)
			}
			return fmt.Errorf("start timeout (%s)", timeout)
		case <-grace.C:
			return fmt.Errorf("start timeout (%s): start did not return after cancel", timeout)
		}
	}
}

func (pm *Manager) fail(name, stage string, err error) {
	pm.recordErr(name, stage, err)
	pm.emit("plugin."+stage+"_failed", pluginEvent{Plugin: name, Err: err.Error()})
}

func (pm *Manager) recordErr(name, stage string, err error) {
	pm.log.Error("plugin "+stage+" failed", logx.String("plugin", name), logx.Err(err))
	pm.mu.Lock()
	pm.lastErr[name] = stage + ": " + err.Error()
	pm.mu.Unlock()
}

func (pm *Manager) emit(typ string, data pluginEvent) {
	if pm.deps.Bus == nil {
		return
	}
	pm.deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (pm *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}
