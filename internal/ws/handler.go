package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/foodfps/internal/realtime"
	"github.com/DoyleJ11/foodfps/internal/types"
	pkgtypes "github.com/DoyleJ11/foodfps/pkg/types"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	outboxSize   = 64
	writeTimeout = 3 * time.Second
	readLimit    = 64 << 10
)

type Options struct {
	// OriginPatterns are passed to websocket.Accept. Empty means same origin only.
	OriginPatterns []string
	Logger         *zap.Logger
}

// Handler relays realtime frames between a websocket client and the broker.
// The client picks its codec with ?codec=json|msgpack.
func Handler(h realtime.Channel, opts Options) http.HandlerFunc {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		codec, err := realtime.CodecByName(r.URL.Query().Get("codec"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(readLimit)

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()

		c := &client{
			id:    uuid.NewString(),
			ctx:   writeCtx,
			hub:   h,
			conn:  conn,
			codec: codec,
			out:   make(chan types.ServerMessage, outboxSize),
			subs:  make(map[string]realtime.Subscription),
		}
		c.log = log.With(zap.String("client", c.id), zap.String("codec", codec.Name()))
		c.log.Debug("client connected")
		go c.writeLoop(writeCtx)

		defer c.unsubscribeAll()
		c.readLoop(r.Context())
	}
}

// client is one relay connection. subs is only touched by the reader.
type client struct {
	id    string
	hub   realtime.Channel
	conn  *websocket.Conn
	codec realtime.Codec
	log   *zap.Logger
	ctx   context.Context
	out   chan types.ServerMessage
	subs  map[string]realtime.Subscription
}

func (c *client) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					c.log.Debug("read failed", zap.Error(err))
				}
			}
			return
		}

		var cm types.ClientMessage
		if err := c.codec.Unmarshal(data, &cm); err != nil {
			c.enqueue(types.ServerMessage{Type: types.MsgError, Error: "bad frame"})
			continue
		}
		if cm.Topic == "" {
			c.enqueue(types.ServerMessage{Type: types.MsgError, Error: "missing topic"})
			continue
		}

		switch cm.Type {
		case types.MsgSubscribe:
			c.subscribe(cm.Topic)
		case types.MsgUnsubscribe:
			c.unsubscribe(cm.Topic)
		case types.MsgPublish:
			if cm.Event == nil {
				c.enqueue(types.ServerMessage{Type: types.MsgError, Topic: cm.Topic, Error: "missing event"})
				continue
			}
			if err := c.hub.Publish(ctx, cm.Topic, *cm.Event); err != nil {
				c.log.Warn("publish failed", zap.String("topic", cm.Topic), zap.Error(err))
				return
			}
		default:
			c.enqueue(types.ServerMessage{Type: types.MsgError, Topic: cm.Topic, Error: "unknown type"})
		}
	}
}

func (c *client) subscribe(topic string) {
	if _, ok := c.subs[topic]; ok {
		return
	}
	sub, err := c.hub.Subscribe(topic, func(ev pkgtypes.Event) {
		c.enqueue(types.ServerMessage{Type: types.MsgEvent, Topic: topic, Event: &ev})
	})
	if err != nil {
		c.enqueue(types.ServerMessage{Type: types.MsgError, Topic: topic, Error: err.Error()})
		return
	}
	c.subs[topic] = sub
	c.log.Debug("subscribed", zap.String("topic", topic))
}

func (c *client) unsubscribe(topic string) {
	sub, ok := c.subs[topic]
	if !ok {
		return
	}
	delete(c.subs, topic)
	if err := c.hub.Unsubscribe(sub); err != nil {
		c.log.Debug("unsubscribe failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (c *client) unsubscribeAll() {
	for topic := range c.subs {
		c.unsubscribe(topic)
	}
	c.log.Debug("client disconnected")
}

// enqueue never blocks the hub; a client that cannot keep up loses frames.
func (c *client) enqueue(m types.ServerMessage) {
	select {
	case c.out <- m:
	case <-c.ctx.Done():
	default:
		c.log.Warn("client outbox full, dropping frame", zap.String("topic", m.Topic))
	}
}

func (c *client) writeLoop(ctx context.Context) {
	typ := websocket.MessageText
	if c.codec.Binary() {
		typ = websocket.MessageBinary
	}
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.out:
			payload, err := c.codec.Marshal(m)
			if err != nil {
				c.log.Warn("encode frame failed", zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.conn.Write(wctx, typ, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
