package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/DoyleJ11/foodfps/pkg/types"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes frames and event payloads.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, v any) error
	Binary() bool
}

type jsonCodec struct{}

func (jsonCodec) Name() string                    { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (jsonCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (jsonCodec) Binary() bool                    { return false }

type msgpackCodec struct{}

func (msgpackCodec) Name() string                    { return "msgpack" }
func (msgpackCodec) Marshal(v any) ([]byte, error)   { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(b []byte, v any) error { return msgpack.Unmarshal(b, v) }
func (msgpackCodec) Binary() bool                    { return true }

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// NewEvent wraps payload in an envelope stamped with sender and send time.
func NewEvent(c Codec, t types.EventType, sender string, at time.Time, payload any) (types.Event, error) {
	if t == "" {
		return types.Event{}, fmt.Errorf("trying to encode event with empty type")
	}
	pb, err := c.Marshal(payload)
	if err != nil {
		return types.Event{}, err
	}
	return types.Event{Type: t, Sender: sender, SentAt: at.UnixMilli(), Payload: pb}, nil
}

func DecodePayload[T any](c Codec, ev types.Event) (T, error) {
	var out T
	if len(ev.Payload) == 0 {
		return out, fmt.Errorf("empty payload for event %q", ev.Type)
	}
	err := c.Unmarshal(ev.Payload, &out)
	return out, err
}
