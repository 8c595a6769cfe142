package transport

import (
	"context"
	"strconv"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateJoin    UpdateKind = "join"
)

// Update is one inbound event. For UpdateJoin, Message.Text is empty and the
// From* fields describe the user who joined.
type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
	// FromSelf marks updates produced by the bot's own account.
	FromSelf bool
}

// Actor is the identifier messages are addressed to: the username when set,
// otherwise "id<FromID>".
func (m *Message) Actor() string {
	if m == nil {
		return ""
	}
	if m.FromUsername != "" {
		return m.FromUsername
	}
	if m.FromID != 0 {
		return "id" + strconv.FormatInt(m.FromID, 10)
	}
	return ""
}

func (m *Message) Chat() ChatTarget {
	if m == nil {
		return ChatTarget{}
	}
	return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string) (MessageRef, error)
	// Self is the bot's own identifier, comparable with Message.Actor.
	Self() string
}

// Sink receives notices addressed to a user identifier.
type Sink interface {
	Notice(ctx context.Context, target, text string) error
}
