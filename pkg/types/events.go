package types

// EventType names a realtime event broadcast on a room topic.
type EventType string

const (
	EventPlayerMove  EventType = "player_move"
	EventBulletFired EventType = "bullet_fired"
	EventGameStart   EventType = "game_start"
)

// Event is the envelope every realtime transport carries. Payload is encoded
// with the transport codec.
type Event struct {
	Type    EventType `json:"type" msgpack:"type"`
	Sender  string    `json:"sender" msgpack:"sender"`
	SentAt  int64     `json:"sent_at" msgpack:"sent_at"` // unix ms
	Payload []byte    `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

// player_move
type PlayerMove struct {
	Name   string   `json:"name,omitempty" msgpack:"name,omitempty"`
	X      float64  `json:"x" msgpack:"x"`
	Y      float64  `json:"y" msgpack:"y"`
	Health int      `json:"health" msgpack:"health"`
	Weapon string   `json:"weapon" msgpack:"weapon"`
	Angle  *float64 `json:"angle,omitempty" msgpack:"angle,omitempty"`
}

// bullet_fired
type BulletEvent struct {
	Owner     string  `json:"owner" msgpack:"owner"`
	X         float64 `json:"x" msgpack:"x"`
	Y         float64 `json:"y" msgpack:"y"`
	VX        float64 `json:"vx" msgpack:"vx"`
	VY        float64 `json:"vy" msgpack:"vy"`
	Radius    float64 `json:"radius" msgpack:"radius"`
	Lifetime  float64 `json:"lifetime" msgpack:"lifetime"` // seconds remaining
	Damage    int     `json:"damage" msgpack:"damage"`
	Color     string  `json:"color" msgpack:"color"`
	Timestamp int64   `json:"timestamp" msgpack:"timestamp"` // sender clock, unix ms
}

// game_start. MatchMinutes is zero for untimed matches.
type GameStart struct {
	HostID       string `json:"host_id" msgpack:"host_id"`
	MatchMinutes int    `json:"match_minutes,omitempty" msgpack:"match_minutes,omitempty"`
}
