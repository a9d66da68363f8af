package hub

import (
	"context"
	"strconv"

	"github.com/DoyleJ11/foodfps/internal/realtime"
	"github.com/DoyleJ11/foodfps/pkg/types"
	"go.uber.org/zap"
)

const subscriberBuffer = 64

type HubMsg interface{ isHubMsg() }

type Subscribe struct {
	Topic   string
	Handler realtime.Handler
	Reply   chan realtime.Subscription
}

type Unsubscribe struct {
	Sub realtime.Subscription
}

type Publish struct {
	Topic string
	Event types.Event
}

type CountSubscribers struct {
	Topic string
	Reply chan int
}

type ShutdownHub struct{}

func (Subscribe) isHubMsg()        {}
func (Unsubscribe) isHubMsg()      {}
func (Publish) isHubMsg()          {}
func (CountSubscribers) isHubMsg() {}
func (ShutdownHub) isHubMsg()      {}

// subscriber owns a buffered outbox drained by its own goroutine, so a slow
// handler never stalls the hub loop.
type subscriber struct {
	handler realtime.Handler
	outbox  chan types.Event
}

// Hub is an in-process realtime broker. One goroutine owns the topic table;
// everything else talks to it through the inbox.
type Hub struct {
	inbox  chan HubMsg
	topics map[string]map[string]*subscriber
	nextID int
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ realtime.Channel = (*Hub)(nil)

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 256),
		topics: make(map[string]map[string]*subscriber),
		log:    log.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub has shut down.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) Subscribe(topic string, handler realtime.Handler) (realtime.Subscription, error) {
	reply := make(chan realtime.Subscription, 1)
	if err := h.send(context.Background(), Subscribe{Topic: topic, Handler: handler, Reply: reply}); err != nil {
		return realtime.Subscription{}, err
	}
	select {
	case sub := <-reply:
		return sub, nil
	case <-h.done:
		return realtime.Subscription{}, realtime.ErrClosed
	}
}

// Publish queues ev for every subscriber of topic without waiting for delivery.
func (h *Hub) Publish(ctx context.Context, topic string, ev types.Event) error {
	return h.send(ctx, Publish{Topic: topic, Event: ev})
}

func (h *Hub) Unsubscribe(sub realtime.Subscription) error {
	return h.send(context.Background(), Unsubscribe{Sub: sub})
}

func (h *Hub) Subscribers(topic string) int {
	reply := make(chan int, 1)
	if err := h.send(context.Background(), CountSubscribers{Topic: topic, Reply: reply}); err != nil {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-h.done:
		return 0
	}
}

func (h *Hub) Shutdown() {
	_ = h.send(context.Background(), ShutdownHub{})
	<-h.done
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	if h.ctx.Err() != nil {
		return realtime.ErrClosed
	}
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return realtime.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Subscribe:
				h.nextID++
				sub := realtime.Subscription{ID: strconv.Itoa(h.nextID), Topic: msg.Topic}
				s := &subscriber{handler: msg.Handler, outbox: make(chan types.Event, subscriberBuffer)}
				if h.topics[msg.Topic] == nil {
					h.topics[msg.Topic] = make(map[string]*subscriber)
				}
				h.topics[msg.Topic][sub.ID] = s
				go s.drain()
				msg.Reply <- sub

			case Unsubscribe:
				subs := h.topics[msg.Sub.Topic]
				if s, ok := subs[msg.Sub.ID]; ok {
					close(s.outbox)
					delete(subs, msg.Sub.ID)
				}
				if len(subs) == 0 {
					delete(h.topics, msg.Sub.Topic)
				}

			case Publish:
				h.broadcast(msg.Topic, msg.Event)

			case CountSubscribers:
				msg.Reply <- len(h.topics[msg.Topic])

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) broadcast(topic string, ev types.Event) {
	for id, s := range h.topics[topic] {
		select {
		case s.outbox <- ev:
			//ok
		default:
			// Subscriber is slow/full - drop the event, keep the subscriber.
			h.log.Warn("dropping event for slow subscriber",
				zap.String("topic", topic),
				zap.String("subscription", id),
				zap.String("type", string(ev.Type)))
		}
	}
}

func (h *Hub) shutdown() {
	for topic, subs := range h.topics {
		for id, s := range subs {
			close(s.outbox)
			delete(subs, id)
		}
		delete(h.topics, topic)
	}
}

func (s *subscriber) drain() {
	for ev := range s.outbox {
		s.handler(ev)
	}
}
