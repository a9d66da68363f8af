package roomstore

import (
	"context"
	"errors"
	"time"
)

var ErrRoomNotFound = errors.New("room not found or ended")
var ErrCodeTaken = errors.New("room code already in use")

type Room struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	HostID    string     `json:"host_id"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Membership is one player's record in a room. PlayerID is the account id,
// or the display name for players without one.
type Membership struct {
	RoomID      string    `json:"room_id"`
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Health      int       `json:"health"`
	Score       int       `json:"score"`
	Weapon      string    `json:"weapon"`
	Alive       bool      `json:"alive"`
	Angle       *float64  `json:"angle,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
}

type ChangeOp string

const (
	ChangeInsert ChangeOp = "INSERT"
	ChangeUpdate ChangeOp = "UPDATE"
	ChangeDelete ChangeOp = "DELETE"
	// ChangeStarted is sent once when the room's game starts. PlayerID is empty.
	ChangeStarted ChangeOp = "STARTED"
)

// Change is a notification that a membership row or the room's start state
// changed.
type Change struct {
	Op       ChangeOp `json:"op"`
	RoomID   string   `json:"room_id"`
	PlayerID string   `json:"player_id"`
}

const (
	DefaultHealth = 100
	DefaultWeapon = "pepper_pistol"
)

// Store is the durable room/membership backend. Implementations enforce code
// uniqueness among rooms that have not ended and report it as ErrCodeTaken.
type Store interface {
	CreateRoom(ctx context.Context, code, hostID string) (Room, error)
	InsertMembership(ctx context.Context, roomID, playerID, displayName string) error
	FindActiveRoomByCode(ctx context.Context, code string) (Room, error)
	ListMemberships(ctx context.Context, roomID string) ([]Membership, error)
	DeleteMembership(ctx context.Context, roomID, playerID string) error
	MarkRoomStarted(ctx context.Context, roomID string) error
	// WatchMemberships calls fn for every membership change in roomID, and
	// once when the room is marked started, until stop is called. fn runs on
	// a store goroutine.
	WatchMemberships(roomID string, fn func(Change)) (stop func(), err error)
}

func newMembership(roomID, playerID, displayName string, now time.Time) Membership {
	if displayName == "" {
		displayName = playerID
	}
	return Membership{
		RoomID:      roomID,
		PlayerID:    playerID,
		DisplayName: displayName,
		Health:      DefaultHealth,
		Weapon:      DefaultWeapon,
		Alive:       true,
		JoinedAt:    now,
	}
}
