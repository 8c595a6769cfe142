package dispatch

import (
	"strings"

	"tellbot/internal/transport"
)

const (
	EventJoin     = "user.join"
	EventMessage  = "user.message"
	CommandPrefix = "command."
	HelpSuffix    = ".help"
)

// Event is one named occurrence derived from an update.
type Event struct {
	ID     string
	Name   string
	Actor  string
	Self   bool
	Args   []string
	Origin *transport.Message
}

// Route derives the events for up, in handling order. A command message yields
// user.message first so queued messages reach the sender before the reply.
// self is the bot's own identifier.
func Route(up transport.Update, self string) []Event {
	m := up.Message
	if m == nil {
		return nil
	}
	actor := m.Actor()
	base := Event{
		Actor:  actor,
		Self:   m.FromSelf || (self != "" && actor == self),
		Origin: m,
	}

	switch up.Kind {
	case transport.UpdateJoin:
		ev := base
		ev.Name = EventJoin
		return []Event{ev}
	case transport.UpdateMessage:
	default:
		return nil
	}

	msg := base
	msg.Name = EventMessage
	out := []Event{msg}

	name, args, ok := parseCommand(m.Text, self)
	if !ok {
		return out
	}
	cmd := base
	cmd.Args = args
	if name == "help" && len(args) > 0 {
		cmd.Name = CommandPrefix + strings.TrimPrefix(args[0], "/") + HelpSuffix
		cmd.Args = args[1:]
	} else {
		cmd.Name = CommandPrefix + name
	}
	return append(out, cmd)
}

// parseCommand splits "/name@bot arg..." into name and args. Commands
// addressed to another bot are ignored.
func parseCommand(text, self string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	head := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		target := head[at+1:]
		head = head[:at]
		if self != "" && !strings.EqualFold(target, self) {
			return "", nil, false
		}
	}
	if head == "" {
		return "", nil, false
	}
	return head, fields[1:], true
}
