package session

import (
	"slices"
	"strings"
	"time"

	"github.com/DoyleJ11/foodfps/internal/engine"
	"github.com/DoyleJ11/foodfps/internal/roomstore"
	"github.com/DoyleJ11/foodfps/pkg/types"
)

// State is owned by the session loop. Remote player entries mirror the last
// broadcast or fetch seen; the local entry is authoritative.
type State struct {
	engine.State
	Room         *roomstore.Room
	Players      map[string]roomstore.Membership
	Bullets      *BulletCache
	MatchMinutes int
}

// View is a copy of State handed to callers.
type View struct {
	Version      int
	Phase        engine.Phase
	Role         engine.Role
	Room         *roomstore.Room
	Players      []roomstore.Membership // ordered by player id
	Bullets      map[string][]types.BulletEvent
	GameStarted  bool
	MatchMinutes int
}

// Player returns the entry for id, if known.
func (v View) Player(id string) (roomstore.Membership, bool) {
	for _, p := range v.Players {
		if p.PlayerID == id {
			return p, true
		}
	}
	return roomstore.Membership{}, false
}

type NoticeKind string

const (
	NoticeGameStarted  NoticeKind = "game_started"
	NoticePlayerJoined NoticeKind = "player_joined"
	NoticePlayerLeft   NoticeKind = "player_left"
)

// Notice is a user facing message.
type Notice struct {
	Kind     NoticeKind
	PlayerID string
	Message  string
	At       time.Time
}

func newState(matchMinutes int, retention time.Duration) State {
	return State{
		State:        engine.NewIdleState(),
		Players:      make(map[string]roomstore.Membership),
		Bullets:      NewBulletCache(retention),
		MatchMinutes: matchMinutes,
	}
}

func (s State) view(version int) View {
	v := View{
		Version:      version,
		Phase:        s.Phase,
		Role:         s.Role,
		Players:      make([]roomstore.Membership, 0, len(s.Players)),
		Bullets:      s.Bullets.Snapshot(),
		GameStarted:  s.GameStarted,
		MatchMinutes: s.MatchMinutes,
	}
	if s.Room != nil {
		room := *s.Room
		v.Room = &room
	}
	for _, p := range s.Players {
		v.Players = append(v.Players, p)
	}
	slices.SortFunc(v.Players, func(a, b roomstore.Membership) int {
		return strings.Compare(a.PlayerID, b.PlayerID)
	})
	return v
}
