package tell

import (
	"context"

	"tellbot/internal/eventbus"
	"tellbot/internal/storage"
)

// observedStore publishes a bus event for every post and non-empty retrieval.
type observedStore struct {
	storage.Backend
	publish func(typ string, data any)
}

func (s *observedStore) PostMessage(ctx context.Context, sender, recipient, body string) (bool, error) {
	ok, err := s.Backend.PostMessage(ctx, sender, recipient, body)
	if err != nil {
		return ok, err
	}
	topic := eventbus.TopicPosted
	if !ok {
		topic = eventbus.TopicRejected
	}
	s.publish(topic, eventbus.Relay{Sender: sender, Recipient: recipient, Count: 1})
	return ok, nil
}

func (s *observedStore) RetrieveMessages(ctx context.Context, recipient string) ([]storage.PendingMessage, error) {
	msgs, err := s.Backend.RetrieveMessages(ctx, recipient)
	if err == nil && len(msgs) > 0 {
		s.publish(eventbus.TopicDelivered, eventbus.Relay{Recipient: recipient, Count: len(msgs)})
	}
	return msgs, err
}
