package roomstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	members  map[string][]Membership
	watchers watcherSet
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:   make(map[string]*Room),
		members: make(map[string][]Membership),
		now:     time.Now,
	}
}

func (s *MemoryStore) CreateRoom(ctx context.Context, code, hostID string) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activeByCode(code); ok {
		return Room{}, ErrCodeTaken
	}
	room := &Room{
		ID:        uuid.NewString(),
		Code:      code,
		HostID:    hostID,
		CreatedAt: s.now(),
	}
	s.rooms[room.ID] = room
	return *room, nil
}

// InsertMembership is a no-op when the player is already in the room.
func (s *MemoryStore) InsertMembership(ctx context.Context, roomID, playerID, displayName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.rooms[roomID]; !ok {
		s.mu.Unlock()
		return ErrRoomNotFound
	}
	for _, m := range s.members[roomID] {
		if m.PlayerID == playerID {
			s.mu.Unlock()
			return nil
		}
	}
	s.members[roomID] = append(s.members[roomID], newMembership(roomID, playerID, displayName, s.now()))
	s.mu.Unlock()

	notify(s.watchers.snapshot(roomID), Change{Op: ChangeInsert, RoomID: roomID, PlayerID: playerID})
	return nil
}

func (s *MemoryStore) FindActiveRoomByCode(ctx context.Context, code string) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.activeByCode(code)
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return *room, nil
}

func (s *MemoryStore) ListMemberships(ctx context.Context, roomID string) ([]Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Return a copy to prevent external modification
	out := make([]Membership, len(s.members[roomID]))
	copy(out, s.members[roomID])
	return out, nil
}

func (s *MemoryStore) DeleteMembership(ctx context.Context, roomID, playerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	list := s.members[roomID]
	removed := false
	for i, m := range list {
		if m.PlayerID == playerID {
			s.members[roomID] = append(list[:i:i], list[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()

	if removed {
		notify(s.watchers.snapshot(roomID), Change{Op: ChangeDelete, RoomID: roomID, PlayerID: playerID})
	}
	return nil
}

func (s *MemoryStore) MarkRoomStarted(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return ErrRoomNotFound
	}
	first := room.StartedAt == nil
	if first {
		now := s.now()
		room.StartedAt = &now
	}
	s.mu.Unlock()

	if first {
		notify(s.watchers.snapshot(roomID), Change{Op: ChangeStarted, RoomID: roomID})
	}
	return nil
}

// EndRoom marks a room ended; its code becomes free and joins fail.
func (s *MemoryStore) EndRoom(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if room.EndedAt == nil {
		now := s.now()
		room.EndedAt = &now
	}
	return nil
}

func (s *MemoryStore) WatchMemberships(roomID string, fn func(Change)) (func(), error) {
	return s.watchers.add(roomID, fn), nil
}

// WatcherCount is the number of live watches on roomID.
func (s *MemoryStore) WatcherCount(roomID string) int {
	return s.watchers.count(roomID)
}

func (s *MemoryStore) activeByCode(code string) (*Room, bool) {
	for _, r := range s.rooms {
		if r.Code == code && r.EndedAt == nil {
			return r, true
		}
	}
	return nil, false
}

// Notifications are asynchronous, like a database change feed.
func notify(fns []func(Change), c Change) {
	for _, fn := range fns {
		go fn(c)
	}
}
