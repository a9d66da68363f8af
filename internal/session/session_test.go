package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DoyleJ11/foodfps/internal/engine"
	"github.com/DoyleJ11/foodfps/internal/hub"
	"github.com/DoyleJ11/foodfps/internal/realtime"
	"github.com/DoyleJ11/foodfps/internal/roomstore"
	"github.com/DoyleJ11/foodfps/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor   = time.Second
	pollEvery = 5 * time.Millisecond
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func fixedCodes(codes ...string) func() (string, error) {
	var mu sync.Mutex
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(codes) == 0 {
			return "", errors.New("out of codes")
		}
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
}

type env struct {
	hub   *hub.Hub
	store *roomstore.MemoryStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	h := hub.NewHub(context.Background(), nil)
	t.Cleanup(h.Shutdown)
	return &env{hub: h, store: roomstore.NewMemoryStore()}
}

func (e *env) session(t *testing.T, id Identity, mod func(*Options)) *Session {
	t.Helper()
	opts := Options{Identity: id, Store: e.store, Channel: e.hub}
	if mod != nil {
		mod(&opts)
	}
	s, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func mustView(t *testing.T, s *Session) View {
	t.Helper()
	v, err := s.View(context.Background())
	require.NoError(t, err)
	return v
}

func publish(t *testing.T, e *env, topic, sender string, typ types.EventType, payload any) {
	t.Helper()
	ev, err := realtime.NewEvent(realtime.JSON, typ, sender, time.Now(), payload)
	require.NoError(t, err)
	require.NoError(t, e.hub.Publish(context.Background(), topic, ev))
}

func recvNotice(t *testing.T, ch <-chan Notice, kind NoticeKind) Notice {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case n, ok := <-ch:
			require.True(t, ok, "notices closed")
			if n.Kind == kind {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s notice", kind)
			return Notice{}
		}
	}
}

func TestSession_LobbyHappyPath(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	host := e.session(t, Identity{AccountID: "host-1", DisplayName: "Chef"}, func(o *Options) {
		o.NewCode = fixedCodes("48213")
	})
	guest := e.session(t, Identity{AccountID: "guest-1", DisplayName: "Sous"}, nil)

	code, err := host.CreateRoom(ctx)
	require.NoError(t, err)
	assert.Equal(t, "48213", code)

	v := mustView(t, host)
	assert.Equal(t, engine.PhaseInLobby, v.Phase)
	assert.Equal(t, engine.RoleHost, v.Role)
	require.Len(t, v.Players, 1)

	require.NoError(t, guest.JoinRoom(ctx, "48213"))
	gv := mustView(t, guest)
	assert.Equal(t, engine.RoleGuest, gv.Role)
	assert.Len(t, gv.Players, 2, "guest sees host and itself right after joining")

	require.Eventually(t, func() bool {
		return len(mustView(t, host).Players) == 2
	}, waitFor, pollEvery, "host observes the guest through the membership feed")
	n := recvNotice(t, host.Notices(), NoticePlayerJoined)
	assert.Equal(t, "guest-1", n.PlayerID)

	require.NoError(t, host.StartGame(ctx))
	assert.True(t, mustView(t, host).GameStarted)

	require.Eventually(t, func() bool {
		return mustView(t, guest).GameStarted
	}, waitFor, pollEvery)
	assert.Equal(t, engine.PhaseInGame, mustView(t, guest).Phase)
	recvNotice(t, guest.Notices(), NoticeGameStarted)

	require.Eventually(t, func() bool {
		room, err := e.store.FindActiveRoomByCode(ctx, "48213")
		return err == nil && room.StartedAt != nil
	}, waitFor, pollEvery, "room is stamped as started")
}

func TestSession_SelfFilter(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	host := e.session(t, Identity{AccountID: "host", DisplayName: "Chef"}, func(o *Options) {
		o.NewCode = fixedCodes("10001")
	})
	guest := e.session(t, Identity{AccountID: "guest", DisplayName: "Sous"}, nil)

	_, err := host.CreateRoom(ctx)
	require.NoError(t, err)
	require.NoError(t, guest.JoinRoom(ctx, "10001"))

	require.NoError(t, host.BroadcastBullet(types.BulletEvent{X: 1, Y: 2, VX: 3, Damage: 10}))
	require.Eventually(t, func() bool {
		return len(mustView(t, guest).Bullets["host"]) == 1
	}, waitFor, pollEvery)

	require.NoError(t, guest.BroadcastBullet(types.BulletEvent{X: 5, Damage: 10}))
	require.Eventually(t, func() bool {
		return len(mustView(t, host).Bullets["guest"]) == 1
	}, waitFor, pollEvery)

	hv := mustView(t, host)
	assert.NotContains(t, hv.Bullets, "host")
	got := mustView(t, guest).Bullets["host"][0]
	assert.Equal(t, "host", got.Owner)
	assert.NotZero(t, got.Timestamp)

	require.NoError(t, host.UpdateLocalPlayerState(PlayerUpdate{X: 40, Y: 41, Health: 90, Weapon: "baguette"}))
	require.Eventually(t, func() bool {
		p, ok := mustView(t, guest).Player("host")
		return ok && p.X == 40 && p.Weapon == "baguette"
	}, waitFor, pollEvery)

	p, ok := mustView(t, host).Player("host")
	require.True(t, ok)
	assert.Equal(t, 41.0, p.Y, "local entry reflects the local update")
}

func TestSession_RemoteMoveSynthesizesUnknownPlayer(t *testing.T) {
	e := newEnv(t)
	s := e.session(t, Identity{AccountID: "host"}, func(o *Options) {
		o.NewCode = fixedCodes("20002")
	})
	_, err := s.CreateRoom(context.Background())
	require.NoError(t, err)

	angle := 1.5
	publish(t, e, realtime.RoomTopic("20002"), "ghost", types.EventPlayerMove,
		types.PlayerMove{Name: "Ghost", X: 7, Y: 8, Health: 60, Weapon: "fork", Angle: &angle})

	require.Eventually(t, func() bool {
		_, ok := mustView(t, s).Player("ghost")
		return ok
	}, waitFor, pollEvery)
	p, _ := mustView(t, s).Player("ghost")
	assert.Equal(t, "Ghost", p.DisplayName)
	assert.Equal(t, 60, p.Health)
	require.NotNil(t, p.Angle)
	assert.Equal(t, 1.5, *p.Angle)

	publish(t, e, realtime.RoomTopic("99999"), "other", types.EventPlayerMove, types.PlayerMove{X: 1})
	publish(t, e, realtime.RoomTopic("20002"), "ghost", types.EventPlayerMove, types.PlayerMove{X: 9, Health: 50})
	require.Eventually(t, func() bool {
		p, _ := mustView(t, s).Player("ghost")
		return p.X == 9
	}, waitFor, pollEvery)
	_, ok := mustView(t, s).Player("other")
	assert.False(t, ok, "events from other rooms are ignored")
}

func TestSession_BulletRetention(t *testing.T) {
	e := newEnv(t)
	clock := newFakeClock()
	s := e.session(t, Identity{AccountID: "host"}, func(o *Options) {
		o.NewCode = fixedCodes("30003")
		o.Now = clock.Now
	})
	_, err := s.CreateRoom(context.Background())
	require.NoError(t, err)
	topic := realtime.RoomTopic("30003")

	publish(t, e, topic, "ghost", types.EventBulletFired, types.BulletEvent{X: 1})
	require.Eventually(t, func() bool { return len(mustView(t, s).Bullets["ghost"]) == 1 }, waitFor, pollEvery)

	clock.Advance(2 * time.Second)
	publish(t, e, topic, "ghost", types.EventBulletFired, types.BulletEvent{X: 2})
	require.Eventually(t, func() bool { return len(mustView(t, s).Bullets["ghost"]) == 2 }, waitFor, pollEvery)

	clock.Advance(1500 * time.Millisecond)
	bullets := mustView(t, s).Bullets["ghost"]
	require.Len(t, bullets, 1, "first bullet aged out after 3.5s")
	assert.Equal(t, 2.0, bullets[0].X)

	clock.Advance(2 * time.Second)
	assert.NotContains(t, mustView(t, s).Bullets, "ghost", "empty sender lists are removed")
}

func TestSession_StartGameIsIdempotentAndHostOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	host := e.session(t, Identity{AccountID: "host"}, func(o *Options) {
		o.NewCode = fixedCodes("40004")
	})
	guest := e.session(t, Identity{AccountID: "guest"}, nil)

	_, err := host.CreateRoom(ctx)
	require.NoError(t, err)
	require.NoError(t, guest.JoinRoom(ctx, "40004"))

	assert.ErrorIs(t, guest.StartGame(ctx), ErrNotHost)

	var starts atomic.Int32
	_, err = e.hub.Subscribe(realtime.RoomTopic("40004"), func(ev types.Event) {
		if ev.Type == types.EventGameStart {
			starts.Add(1)
		}
	})
	require.NoError(t, err)

	require.NoError(t, host.StartGame(ctx))
	require.NoError(t, host.StartGame(ctx))

	require.Eventually(t, func() bool { return starts.Load() == 1 }, waitFor, pollEvery)
	require.Never(t, func() bool { return starts.Load() > 1 }, 100*time.Millisecond, pollEvery)
	assert.True(t, mustView(t, host).GameStarted)
}

func TestSession_TimedMatchLengthPropagates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	host := e.session(t, Identity{AccountID: "host"}, func(o *Options) {
		o.NewCode = fixedCodes("50005")
		o.MatchMinutes = 7
	})
	guest := e.session(t, Identity{AccountID: "guest"}, nil)

	_, err := host.CreateRoom(ctx)
	require.NoError(t, err)
	require.NoError(t, guest.JoinRoom(ctx, "50005"))
	assert.Zero(t, mustView(t, guest).MatchMinutes)

	require.NoError(t, host.StartGame(ctx))
	require.Eventually(t, func() bool { return mustView(t, guest).GameStarted }, waitFor, pollEvery)
	assert.Equal(t, 7, mustView(t, guest).MatchMinutes)
}

func TestSession_StartMatchOverridesConfiguredLength(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	host := e.session(t, Identity{AccountID: "host"}, func(o *Options) {
		o.NewCode = fixedCodes("50015")
		o.MatchMinutes = 2
	})
	guest := e.session(t, Identity{AccountID: "guest"}, func(o *Options) {
		o.MatchMinutes = 3
	})

	_, err := host.CreateRoom(ctx)
	require.NoError(t, err)
	require.NoError(t, guest.JoinRoom(ctx, "50015"))

	require.NoError(t, host.StartMatch(ctx, 9))
	assert.Equal(t, 9, mustView(t, host).MatchMinutes)
	require.Eventually(t, func() bool { return mustView(t, guest).MatchMinutes == 9 }, waitFor, pollEvery)
	assert.True(t, mustView(t, guest).GameStarted)
}

func TestSession_JoinStartedRoomEntersGame(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	host := e.session(t, Identity{AccountID: "host"}, func(o *Options) {
		o.NewCode = fixedCodes("51015")
	})
	_, err := host.CreateRoom(ctx)
	require.NoError(t, err)
	require.NoError(t, e.store.MarkRoomStarted(ctx, mustView(t, host).Room.ID))

	guest := e.session(t, Identity{AccountID: "late"}, nil)
	require.NoError(t, guest.JoinRoom(ctx, "51015"))

	v := mustView(t, guest)
	assert.True(t, v.GameStarted)
	assert.Equal(t, engine.PhaseInGame, v.Phase)
	n := recvNotice(t, guest.Notices(), NoticeGameStarted)
	assert.Equal(t, "host", n.PlayerID)
}

func TestSession_MissedStartBroadcastRecoveredFromRoom(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	host := e.session(t, Identity{AccountID: "host"}, func(o *Options) {
		o.NewCode = fixedCodes("52025")
	})
	guest := e.session(t, Identity{AccountID: "guest"}, nil)

	_, err := host.CreateRoom(ctx)
	require.NoError(t, err)
	require.NoError(t, guest.JoinRoom(ctx, "52025"))
	require.False(t, mustView(t, guest).GameStarted)

	// Only the room row changes; no game_start reaches the channel.
	require.NoError(t, e.store.MarkRoomStarted(ctx, mustView(t, host).Room.ID))

	require.Eventually(t, func() bool { return mustView(t, guest).GameStarted }, waitFor, pollEvery)
	assert.Equal(t, engine.PhaseInGame, mustView(t, guest).Phase)
	recvNotice(t, guest.Notices(), NoticeGameStarted)
}

func TestSession_JoinMissingRoom(t *testing.T) {
	e := newEnv(t)
	s := e.session(t, Identity{DisplayName: "Walk-in"}, nil)

	err := s.JoinRoom(context.Background(), "00000")
	require.ErrorIs(t, err, ErrRoomNotFound)

	v := mustView(t, s)
	assert.Equal(t, engine.PhaseIdle, v.Phase)
	assert.Nil(t, v.Room)
	assert.Empty(t, v.Players)
}

func TestSession_RequiresIdentity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	guestOnly := e.session(t, Identity{DisplayName: "Walk-in"}, nil)
	_, err := guestOnly.CreateRoom(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated, "hosting needs an account")

	nobody := e.session(t, Identity{}, nil)
	assert.ErrorIs(t, nobody.JoinRoom(ctx, "12345"), ErrNotAuthenticated)
	assert.Equal(t, engine.PhaseIdle, mustView(t, nobody).Phase)
}

type failingStore struct {
	*roomstore.MemoryStore
	insertErr error
}

func (f *failingStore) InsertMembership(ctx context.Context, roomID, playerID, displayName string) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.MemoryStore.InsertMembership(ctx, roomID, playerID, displayName)
}

func TestSession_TransportFailureReturnsToIdle(t *testing.T) {
	e := newEnv(t)
	boom := errors.New("connection reset")
	s := e.session(t, Identity{AccountID: "host"}, func(o *Options) {
		o.Store = &failingStore{MemoryStore: e.store, insertErr: boom}
		o.NewCode = fixedCodes("60006", "60007")
	})

	_, err := s.CreateRoom(context.Background())
	require.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, boom)

	v := mustView(t, s)
	assert.Equal(t, engine.PhaseIdle, v.Phase)
	assert.Equal(t, 0, e.hub.Subscribers(realtime.RoomTopic("60006")))
	assert.ErrorIs(t, s.BroadcastBullet(types.BulletEvent{}), ErrNotInRoom)
}

func TestSession_LeaveReleasesEverything(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.session(t, Identity{AccountID: "host"}, func(o *Options) {
		o.NewCode = fixedCodes("70007")
		o.ReconcileInterval = 10 * time.Millisecond
	})

	_, err := s.CreateRoom(ctx)
	require.NoError(t, err)
	room := mustView(t, s).Room
	require.NotNil(t, room)
	topic := realtime.RoomTopic("70007")
	assert.Equal(t, 1, e.hub.Subscribers(topic))
	assert.Equal(t, 1, e.store.WatcherCount(room.ID))

	require.NoError(t, s.Leave(ctx))

	assert.Equal(t, 0, e.hub.Subscribers(topic))
	assert.Equal(t, 0, e.store.WatcherCount(room.ID))
	members, err := e.store.ListMemberships(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, members)

	v := mustView(t, s)
	assert.Equal(t, engine.PhaseIdle, v.Phase)
	assert.Nil(t, v.Room)
	assert.ErrorIs(t, s.UpdateLocalPlayerState(PlayerUpdate{X: 1}), ErrNotInRoom)
	assert.NoError(t, s.Leave(ctx), "leaving twice is harmless")
}

func TestSession_ReconcileDropsDepartedPlayers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	host := e.session(t, Identity{AccountID: "host"}, func(o *Options) {
		o.NewCode = fixedCodes("80008")
	})
	guest := e.session(t, Identity{AccountID: "guest", DisplayName: "Sous"}, nil)

	_, err := host.CreateRoom(ctx)
	require.NoError(t, err)
	require.NoError(t, guest.JoinRoom(ctx, "80008"))
	require.NoError(t, guest.BroadcastBullet(types.BulletEvent{X: 1}))
	require.Eventually(t, func() bool {
		v := mustView(t, host)
		return len(v.Players) == 2 && len(v.Bullets["guest"]) == 1
	}, waitFor, pollEvery)

	require.NoError(t, guest.Leave(ctx))

	require.Eventually(t, func() bool {
		return len(mustView(t, host).Players) == 1
	}, waitFor, pollEvery)
	assert.NotContains(t, mustView(t, host).Bullets, "guest")
	n := recvNotice(t, host.Notices(), NoticePlayerLeft)
	assert.Equal(t, "Sous left", n.Message)
}

func TestSession_DuplicateJoinKeepsOneMembership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	host := e.session(t, Identity{AccountID: "host"}, func(o *Options) {
		o.NewCode = fixedCodes("90009")
	})
	_, err := host.CreateRoom(ctx)
	require.NoError(t, err)
	room := mustView(t, host).Room

	// A membership left behind by an earlier tab of the same player.
	require.NoError(t, e.store.InsertMembership(ctx, room.ID, "guest", "Sous"))

	guest := e.session(t, Identity{AccountID: "guest", DisplayName: "Sous"}, nil)
	require.NoError(t, guest.JoinRoom(ctx, "90009"))

	members, err := e.store.ListMemberships(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	assert.ErrorIs(t, guest.JoinRoom(ctx, "90009"), engine.ErrWrongPhase)
}

func TestSession_CodeCollisionRetries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	codes := fixedCodes("11111", "11111", "22222")
	first := e.session(t, Identity{AccountID: "a"}, func(o *Options) { o.NewCode = codes })
	second := e.session(t, Identity{AccountID: "b"}, func(o *Options) { o.NewCode = codes })

	c1, err := first.CreateRoom(ctx)
	require.NoError(t, err)
	c2, err := second.CreateRoom(ctx)
	require.NoError(t, err)

	assert.Equal(t, "11111", c1)
	assert.Equal(t, "22222", c2)
}

func TestSession_ParentCancelCleansUp(t *testing.T) {
	e := newEnv(t)
	parent, cancel := context.WithCancel(context.Background())
	s, err := New(parent, Options{
		Identity: Identity{AccountID: "host"},
		Store:    e.store,
		Channel:  e.hub,
		NewCode:  fixedCodes("12121"),
	})
	require.NoError(t, err)

	_, err = s.CreateRoom(context.Background())
	require.NoError(t, err)
	room := mustView(t, s).Room

	views := make(chan View, 1)
	require.NoError(t, s.Watch("ui", views))

	cancel()

	require.Eventually(t, func() bool {
		return e.hub.Subscribers(realtime.RoomTopic("12121")) == 0 && e.store.WatcherCount(room.ID) == 0
	}, waitFor, pollEvery)

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-views:
			return !ok
		default:
			return false
		}
	}, waitFor, pollEvery, "watch channel is closed")

	_, err = s.View(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close(context.Background()))
}

func TestSession_WatchKeepsLatestView(t *testing.T) {
	e := newEnv(t)
	s := e.session(t, Identity{AccountID: "host"}, func(o *Options) {
		o.NewCode = fixedCodes("13131")
	})

	views := make(chan View, 1)
	require.NoError(t, s.Watch("ui", views))
	_, err := s.CreateRoom(context.Background())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.UpdateLocalPlayerState(PlayerUpdate{X: float64(i), Health: 100}))
	}

	want := mustView(t, s).Version
	require.Eventually(t, func() bool {
		select {
		case v := <-views:
			me, _ := v.Player("host")
			return v.Version >= want && me.X == 4
		default:
			return false
		}
	}, waitFor, pollEvery)
	require.NoError(t, s.Unwatch("ui"))
}
