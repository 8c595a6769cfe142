package relay

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"tellbot/internal/storage"
)

// Event names the coordinator listens to besides its commands.
const (
	EventJoin    = "user.join"
	EventMessage = "user.message"

	commandPrefix = "command."
	helpSuffix    = ".help"
)

// Sink receives notices addressed to a user.
type Sink interface {
	Notice(ctx context.Context, target, text string) error
}

// Event is what a host passes to a bound handler.
type Event struct {
	Name string
	// Actor is the user who joined, spoke or invoked the command.
	Actor string
	// Self is true when Actor is the bot itself.
	Self bool
	// Args holds the tokens after the command name.
	Args []string
}

// EventHandler is one entry of the binding map.
type EventHandler func(ctx context.Context, sink Sink, ev Event) error

// Invocation is a command call.
type Invocation struct {
	Invoker string
	Command string
	Args    []string
}

type Coordinator struct {
	store     storage.Backend
	commands  []string
	success   string
	full      string
	layout    string
	loc       *time.Location
	normalize func(string) string
}

// New builds a Coordinator, selecting the storage backend from opts.Database.
func New(ctx context.Context, opts Options) (*Coordinator, error) {
	store, err := selectBackend(ctx, opts)
	if err != nil {
		return nil, err
	}
	if opts.MaxMessages != nil {
		store.SetMaxMessages(*opts.MaxMessages)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	norm := opts.NormalizeRecipient
	if norm == nil {
		norm = func(s string) string { return s }
	}
	return &Coordinator{
		store:     store,
		commands:  opts.Commands.normalized(),
		success:   orDefault(opts.SuccessText, DefaultSuccessText),
		full:      orDefault(opts.FullText, DefaultFullText),
		layout:    orDefault(opts.TimeFormat, DefaultTimeFormat),
		loc:       loc,
		normalize: norm,
	}, nil
}

func selectBackend(ctx context.Context, opts Options) (storage.Backend, error) {
	switch db := opts.Database.(type) {
	case nil:
		return storage.NewMemory(), nil
	case storage.Backend:
		return db, nil
	case *sql.DB:
		b, err := storage.NewSQL(db, opts.Table)
		if err != nil {
			return nil, &ConfigError{Type: "*sql.DB", Err: err}
		}
		if opts.CreateDatabase {
			if err := b.CreateSchema(ctx); err != nil {
				return nil, err
			}
		}
		return b, nil
	default:
		return nil, &ConfigError{Type: fmt.Sprintf("%T", opts.Database)}
	}
}

// Store returns the backend the coordinator writes to.
func (c *Coordinator) Store() storage.Backend { return c.store }

// Commands returns the registered aliases in configuration order.
func (c *Coordinator) Commands() []string { return append([]string(nil), c.commands...) }

// OnActivity delivers and clears everything queued for actor.
// Nothing happens for the bot's own identity, even if messages are queued
// under it. Messages already retrieved are not re-queued when the sink fails.
func (c *Coordinator) OnActivity(ctx context.Context, sink Sink, actor string, isSelf bool) error {
	if isSelf || actor == "" {
		return nil
	}
	msgs, err := c.store.RetrieveMessages(ctx, actor)
	if err != nil {
		return fmt.Errorf("retrieve messages for %s: %w", actor, err)
	}
	for _, m := range msgs {
		if err := sink.Notice(ctx, actor, c.FormatNotice(m)); err != nil {
			return fmt.Errorf("deliver to %s: %w", actor, err)
		}
	}
	return nil
}

// FormatNotice renders "(<time>) <sender>: <body>".
func (c *Coordinator) FormatNotice(m storage.PendingMessage) string {
	return fmt.Sprintf("(%s) %s: %s", m.Timestamp.In(c.loc).Format(c.layout), m.Sender, m.Body)
}

// OnCommand queues a message from inv.Invoker. Malformed arguments produce
// usage guidance instead of an error.
func (c *Coordinator) OnCommand(ctx context.Context, sink Sink, inv Invocation) error {
	cmd, ok := ParseCommand(inv.Args)
	if !ok {
		if err := sink.Notice(ctx, inv.Invoker, invalidText); err != nil {
			return err
		}
		return c.usage(ctx, sink, inv.Invoker, inv.Command)
	}
	recipient := c.normalize(cmd.Recipient)
	if recipient == "" {
		if err := sink.Notice(ctx, inv.Invoker, invalidText); err != nil {
			return err
		}
		return c.usage(ctx, sink, inv.Invoker, inv.Command)
	}

	posted, err := c.store.PostMessage(ctx, inv.Invoker, recipient, cmd.Body)
	if err != nil {
		return fmt.Errorf("post message to %s: %w", recipient, err)
	}
	if posted {
		return sink.Notice(ctx, inv.Invoker, c.success)
	}
	return sink.Notice(ctx, inv.Invoker, c.full)
}

// OnHelp sends the usage lines. inv.Command may carry the ".help" suffix;
// without a command name the first argument is used.
func (c *Coordinator) OnHelp(ctx context.Context, sink Sink, inv Invocation) error {
	name := strings.TrimSuffix(inv.Command, helpSuffix)
	if name == "" && len(inv.Args) > 0 {
		name = inv.Args[0]
	}
	return c.usage(ctx, sink, inv.Invoker, name)
}

func (c *Coordinator) usage(ctx context.Context, sink Sink, target, command string) error {
	if err := sink.Notice(ctx, target, "Usage: "+command+" <nickname> <message>"); err != nil {
		return err
	}
	return sink.Notice(ctx, target, descriptionText)
}

// CommandBindings maps command.<alias> and command.<alias>.help for every
// alias, and nothing else.
func (c *Coordinator) CommandBindings() map[string]EventHandler {
	out := make(map[string]EventHandler, 2*len(c.commands))
	for _, name := range c.commands {
		name := name
		out[commandPrefix+name] = func(ctx context.Context, sink Sink, ev Event) error {
			return c.OnCommand(ctx, sink, Invocation{Invoker: ev.Actor, Command: name, Args: ev.Args})
		}
		out[commandPrefix+name+helpSuffix] = func(ctx context.Context, sink Sink, ev Event) error {
			return c.OnHelp(ctx, sink, Invocation{Invoker: ev.Actor, Command: name, Args: ev.Args})
		}
	}
	return out
}

// Bindings is CommandBindings plus delivery on join and on any message.
func (c *Coordinator) Bindings() map[string]EventHandler {
	out := c.CommandBindings()
	deliver := func(ctx context.Context, sink Sink, ev Event) error {
		return c.OnActivity(ctx, sink, ev.Actor, ev.Self)
	}
	out[EventJoin] = deliver
	out[EventMessage] = deliver
	return out
}

// BindingNames returns the sorted keys of Bindings.
func (c *Coordinator) BindingNames() []string {
	b := c.Bindings()
	out := make([]string, 0, len(b))
	for k := range b {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
