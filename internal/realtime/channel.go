package realtime

import (
	"context"
	"errors"

	"github.com/DoyleJ11/foodfps/pkg/types"
)

var ErrClosed = errors.New("realtime channel closed")

// Handler receives events for a subscribed topic. Delivery is at most once and
// there is no ordering across senders.
type Handler func(types.Event)

type Subscription struct {
	ID    string
	Topic string
}

// Channel is a topic scoped publish/subscribe transport.
type Channel interface {
	Subscribe(topic string, h Handler) (Subscription, error)
	Publish(ctx context.Context, topic string, ev types.Event) error
	Unsubscribe(sub Subscription) error
}

// RoomTopic is the topic all events of a room travel on.
func RoomTopic(code string) string {
	return "room:" + code
}
