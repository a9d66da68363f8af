package types

import "github.com/DoyleJ11/foodfps/pkg/types"

// ClientMessage is a frame sent from a realtime client to the relay.
type ClientMessage struct {
	Type  string       `json:"type" msgpack:"type"` // "Subscribe" | "Unsubscribe" | "Publish"
	Topic string       `json:"topic" msgpack:"topic"`
	Event *types.Event `json:"event,omitempty" msgpack:"event,omitempty"`
}

// ServerMessage is a frame sent from the relay to a client.
type ServerMessage struct {
	Type  string       `json:"type" msgpack:"type"` // "Event" | "Error"
	Topic string       `json:"topic,omitempty" msgpack:"topic,omitempty"`
	Event *types.Event `json:"event,omitempty" msgpack:"event,omitempty"`
	Error string       `json:"error,omitempty" msgpack:"error,omitempty"`
}

const (
	MsgSubscribe   = "Subscribe"
	MsgUnsubscribe = "Unsubscribe"
	MsgPublish     = "Publish"
	MsgEvent       = "Event"
	MsgError       = "Error"
)
