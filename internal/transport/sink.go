package transport

import (
	"context"
	"errors"
)

// ChatSink delivers notices produced while handling one update.
//
// Notices to the update's own sender go to their private chat unless Public
// is set. When the private send fails (Telegram refuses bots that were never
// started by the user) a hint without the notice text is posted in the
// originating chat and the send error is returned.
// Public notices are posted in the originating chat, prefixed with "@target"
// in groups so the addressee is notified.
type ChatSink struct {
	Adapter Adapter
	Origin  *Message
	Public  bool
}

func (s ChatSink) Notice(ctx context.Context, target, text string) error {
	if s.Adapter == nil || s.Origin == nil {
		return nil
	}
	if !s.Public && s.Origin.IsGroup && s.Origin.FromID != 0 && target == s.Origin.Actor() {
		_, err := s.Adapter.SendText(ctx, ChatTarget{ChatID: s.Origin.FromID}, text)
		if err == nil {
			return nil
		}
		_, herr := s.Adapter.SendText(ctx, s.Origin.Chat(), s.mention(target, privateHint(s.Adapter.Self())))
		return errors.Join(err, herr)
	}
	_, err := s.Adapter.SendText(ctx, s.Origin.Chat(), s.mention(target, text))
	return err
}

func (s ChatSink) mention(target, text string) string {
	if s.Origin.IsGroup && target != "" && s.Origin.FromUsername != "" && target == s.Origin.FromUsername {
		return "@" + target + " " + text
	}
	return text
}

func privateHint(self string) string {
	if self == "" {
		return "I couldn't message you privately. Start a private chat with me first."
	}
	return "I couldn't message you privately. Start a private chat with @" + self + " first."
}
