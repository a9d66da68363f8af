package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	wire "github.com/DoyleJ11/foodfps/internal/types"
	"github.com/DoyleJ11/foodfps/pkg/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// WSChannel is a Channel backed by a websocket connection to the relay
// server. Handlers run on the read goroutine in arrival order.
type WSChannel struct {
	conn  *websocket.Conn
	codec Codec
	log   *zap.Logger

	mu       sync.Mutex
	handlers map[string]map[string]Handler
	nextID   int
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Channel = (*WSChannel)(nil)

// DialWS connects to the relay websocket endpoint at rawURL.
func DialWS(ctx context.Context, rawURL string, codec Codec, log *zap.Logger) (*WSChannel, error) {
	if log == nil {
		log = zap.NewNop()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("codec", codec.Name())
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &WSChannel{
		conn:     conn,
		codec:    codec,
		log:      log.Named("ws-channel"),
		handlers: make(map[string]map[string]Handler),
		ctx:      cctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *WSChannel) Subscribe(topic string, h Handler) (Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Subscription{}, ErrClosed
	}
	c.nextID++
	sub := Subscription{ID: strconv.Itoa(c.nextID), Topic: topic}
	first := len(c.handlers[topic]) == 0
	if first {
		c.handlers[topic] = make(map[string]Handler)
	}
	c.handlers[topic][sub.ID] = h
	c.mu.Unlock()

	if first {
		if err := c.send(c.ctx, wire.ClientMessage{Type: wire.MsgSubscribe, Topic: topic}); err != nil {
			c.remove(sub)
			return Subscription{}, err
		}
	}
	return sub, nil
}

func (c *WSChannel) Publish(ctx context.Context, topic string, ev types.Event) error {
	return c.send(ctx, wire.ClientMessage{Type: wire.MsgPublish, Topic: topic, Event: &ev})
}

func (c *WSChannel) Unsubscribe(sub Subscription) error {
	if !c.remove(sub) {
		return nil
	}
	return c.send(c.ctx, wire.ClientMessage{Type: wire.MsgUnsubscribe, Topic: sub.Topic})
}

func (c *WSChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	c.cancel()
	<-c.done
	return err
}

// remove drops the handler and reports whether the topic has no handlers left.
func (c *WSChannel) remove(sub Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	hs, ok := c.handlers[sub.Topic]
	if !ok {
		return false
	}
	if _, ok := hs[sub.ID]; !ok {
		return false
	}
	delete(hs, sub.ID)
	if len(hs) == 0 {
		delete(c.handlers, sub.Topic)
		return true
	}
	return false
}

func (c *WSChannel) send(ctx context.Context, msg wire.ClientMessage) error {
	payload, err := c.codec.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(wctx, c.messageType(), payload); err != nil {
		return fmt.Errorf("write %s frame: %w", msg.Type, err)
	}
	return nil
}

func (c *WSChannel) messageType() websocket.MessageType {
	if c.codec.Binary() {
		return websocket.MessageBinary
	}
	return websocket.MessageText
}

func (c *WSChannel) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled):
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
				websocket.CloseStatus(err) == websocket.StatusGoingAway:
			default:
				c.log.Warn("relay read failed", zap.Error(err))
			}
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			return
		}

		var sm wire.ServerMessage
		if err := c.codec.Unmarshal(data, &sm); err != nil {
			c.log.Warn("bad frame from relay", zap.Error(err))
			continue
		}

		switch sm.Type {
		case wire.MsgEvent:
			if sm.Event == nil {
				continue
			}
			for _, h := range c.handlersFor(sm.Topic) {
				h(*sm.Event)
			}
		case wire.MsgError:
			c.log.Warn("relay error", zap.String("topic", sm.Topic), zap.String("error", sm.Error))
		}
	}
}

func (c *WSChannel) handlersFor(topic string) []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	hs := make([]Handler, 0, len(c.handlers[topic]))
	for _, h := range c.handlers[topic] {
		hs = append(hs, h)
	}
	return hs
}
