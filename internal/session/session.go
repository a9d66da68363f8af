package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DoyleJ11/foodfps/internal/engine"
	"github.com/DoyleJ11/foodfps/internal/realtime"
	"github.com/DoyleJ11/foodfps/internal/roomstore"
	"github.com/DoyleJ11/foodfps/pkg/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	maxCodeAttempts = 5
	publishTimeout  = 2 * time.Second
	fetchTimeout    = 5 * time.Second
	teardownTimeout = 3 * time.Second
)

// Identity is who the local player is. AccountID is empty for players who
// have not signed in; they are known by DisplayName instead.
type Identity struct {
	AccountID   string
	DisplayName string
}

func (i Identity) PlayerID() string {
	if i.AccountID != "" {
		return i.AccountID
	}
	return i.DisplayName
}

type PlayerUpdate struct {
	X      float64
	Y      float64
	Health int
	Weapon string
	Angle  *float64
}

type Options struct {
	Identity Identity
	Store    roomstore.Store
	Channel  realtime.Channel
	Codec    realtime.Codec // defaults to realtime.JSON
	Logger   *zap.Logger

	// MatchMinutes is the agreed match length for timed lobbies, zero otherwise.
	MatchMinutes int

	BulletRetention   time.Duration // defaults to DefaultBulletRetention
	ReconcileInterval time.Duration // zero disables periodic reconciliation

	Now     func() time.Time
	NewCode func() (string, error)
}

// Session keeps one player's view of one room in sync. A single goroutine
// owns the state; inbound events and caller requests are messages to it.
//
// Trust model: every client reports its own state and the host capability
// is only checked here. A modified client can spoof either.
type Session struct {
	me             Identity
	store          roomstore.Store
	channel        realtime.Channel
	codec          realtime.Codec
	log            *zap.Logger
	now            func() time.Time
	newCode        func() (string, error)
	matchMinutes   int
	retention      time.Duration
	reconcileEvery time.Duration

	inbox   chan msg
	outbox  chan outbound
	notices chan Notice

	// owned by loop
	state     State
	version   int
	watchers  map[string]chan View
	sub       *realtime.Subscription
	stopWatch func()
	ticker    *time.Ticker
	fetching  bool
	refetch   bool

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func New(parent context.Context, opts Options) (*Session, error) {
	if opts.Store == nil || opts.Channel == nil {
		return nil, errors.New("session: store and channel are required")
	}
	if opts.Codec == nil {
		opts.Codec = realtime.JSON
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewCode == nil {
		opts.NewCode = GenerateCode
	}
	if opts.BulletRetention <= 0 {
		opts.BulletRetention = DefaultBulletRetention
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		me:             opts.Identity,
		store:          opts.Store,
		channel:        opts.Channel,
		codec:          opts.Codec,
		log:            opts.Logger.Named("session").With(zap.String("player", opts.Identity.PlayerID())),
		now:            opts.Now,
		newCode:        opts.NewCode,
		matchMinutes:   opts.MatchMinutes,
		retention:      opts.BulletRetention,
		reconcileEvery: opts.ReconcileInterval,
		inbox:          make(chan msg, 128),
		outbox:         make(chan outbound, 128),
		notices:        make(chan Notice, 16),
		state:          newState(opts.MatchMinutes, opts.BulletRetention),
		watchers:       make(map[string]chan View),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	go s.loop()
	go s.sendLoop()
	return s, nil
}

func (s *Session) Identity() Identity { return s.me }

// Notices delivers user facing notices. Closed when the session shuts down.
func (s *Session) Notices() <-chan Notice { return s.notices }

// CreateRoom opens a new room with the local player as host and returns its code.
func (s *Session) CreateRoom(ctx context.Context) (string, error) {
	if s.me.AccountID == "" {
		return "", ErrNotAuthenticated
	}
	if err := s.apply(ctx, engine.Command{Type: engine.CmdBeginCreate}); err != nil {
		return "", err
	}

	room, err := s.createRoom(ctx)
	if err != nil {
		s.abort()
		return "", err
	}
	if err := s.store.InsertMembership(ctx, room.ID, s.me.PlayerID(), s.me.DisplayName); err != nil {
		s.abort()
		return "", s.transportErr("register host", err)
	}
	if err := s.enter(ctx, room); err != nil {
		s.abort()
		s.dropMembership(room.ID)
		return "", err
	}

	s.log.Info("room created", zap.String("code", room.Code), zap.String("room_id", room.ID))
	return room.Code, nil
}

func (s *Session) createRoom(ctx context.Context) (roomstore.Room, error) {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return roomstore.Room{}, fmt.Errorf("generate room code: %w", err)
		}
		room, err := s.store.CreateRoom(ctx, code, s.me.PlayerID())
		if errors.Is(err, roomstore.ErrCodeTaken) {
			s.log.Debug("collision on code, regenerating", zap.String("code", code), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return roomstore.Room{}, s.transportErr("create room", err)
		}
		return room, nil
	}
	return roomstore.Room{}, s.transportErr("create room", roomstore.ErrCodeTaken)
}

// JoinRoom enters the active room with the given code. Joining a room the
// player is already a member of succeeds without a second membership.
func (s *Session) JoinRoom(ctx context.Context, code string) error {
	me := s.me.PlayerID()
	if me == "" {
		return ErrNotAuthenticated
	}
	if err := s.apply(ctx, engine.Command{Type: engine.CmdBeginJoin}); err != nil {
		return err
	}

	room, err := s.store.FindActiveRoomByCode(ctx, code)
	if err != nil {
		s.abort()
		if errors.Is(err, roomstore.ErrRoomNotFound) {
			return fmt.Errorf("%w: code %s", ErrRoomNotFound, code)
		}
		return s.transportErr("find room", err)
	}

	members, err := s.store.ListMemberships(ctx, room.ID)
	if err != nil {
		s.abort()
		return s.transportErr("list memberships", err)
	}
	inserted := false
	if hasPlayer(members, me) {
		s.log.Debug("already a member, rejoining", zap.String("code", code))
	} else {
		if err := s.store.InsertMembership(ctx, room.ID, me, s.me.DisplayName); err != nil {
			s.abort()
			return s.transportErr("insert membership", err)
		}
		inserted = true
	}

	if err := s.enter(ctx, room); err != nil {
		s.abort()
		if inserted {
			s.dropMembership(room.ID)
		}
		return err
	}

	s.log.Info("joined room", zap.String("code", code), zap.String("room_id", room.ID))
	return nil
}

// enter subscribes to the room topic, watches memberships and hands the
// resources to the loop. On failure everything acquired is released.
func (s *Session) enter(ctx context.Context, room roomstore.Room) (err error) {
	topic := realtime.RoomTopic(room.Code)
	sub, err := s.channel.Subscribe(topic, func(ev types.Event) {
		s.post(inbound{topic: topic, event: ev})
	})
	if err != nil {
		return s.transportErr("subscribe", err)
	}
	defer func() {
		if err != nil {
			_ = s.channel.Unsubscribe(sub)
		}
	}()

	stop, err := s.store.WatchMemberships(room.ID, func(c roomstore.Change) {
		s.post(membersChanged{roomID: c.RoomID})
	})
	if err != nil {
		return s.transportErr("watch memberships", err)
	}
	defer func() {
		if err != nil {
			stop()
		}
	}()

	members, err := s.store.ListMemberships(ctx, room.ID)
	if err != nil {
		return s.transportErr("list memberships", err)
	}

	reply, err := call(ctx, s, func(r chan error) msg {
		return entered{room: room, members: members, sub: sub, stopWatch: stop, reply: r}
	})
	if err != nil {
		return err
	}
	return reply
}

// UpdateLocalPlayerState records the local player's state and broadcasts it.
// It does not wait for delivery.
func (s *Session) UpdateLocalPlayerState(u PlayerUpdate) error {
	t, err := call(context.Background(), s, func(r chan target) msg {
		return localMove{update: u, reply: r}
	})
	if err != nil {
		return err
	}
	if t.err != nil {
		return t.err
	}

	s.enqueue(t.topic, types.EventPlayerMove, types.PlayerMove{
		Name:   s.me.DisplayName,
		X:      u.X,
		Y:      u.Y,
		Health: u.Health,
		Weapon: u.Weapon,
		Angle:  u.Angle,
	})
	return nil
}

// BroadcastBullet stamps b with the local identity and send time and
// broadcasts it. It does not wait for delivery.
func (s *Session) BroadcastBullet(b types.BulletEvent) error {
	t, err := call(context.Background(), s, func(r chan target) msg {
		return roomTarget{reply: r}
	})
	if err != nil {
		return err
	}
	if t.err != nil {
		return t.err
	}

	b.Owner = s.me.PlayerID()
	b.Timestamp = s.now().UnixMilli()
	s.enqueue(t.topic, types.EventBulletFired, b)
	return nil
}

// StartGame signals the match start to the room with the session's
// configured match length. Host only; calls after the first are no-ops.
func (s *Session) StartGame(ctx context.Context) error {
	return s.StartMatch(ctx, 0)
}

// StartMatch is StartGame with an explicit match length. A positive minutes
// overrides the configured length and is what guests receive.
func (s *Session) StartMatch(ctx context.Context, minutes int) error {
	res, err := call(ctx, s, func(r chan startResult) msg {
		return startReq{minutes: minutes, reply: r}
	})
	if err != nil {
		return err
	}
	if res.err != nil {
		return res.err
	}
	if !res.started {
		return nil
	}

	s.enqueue(res.topic, types.EventGameStart, types.GameStart{
		HostID:       s.me.PlayerID(),
		MatchMinutes: res.minutes,
	})

	go func(roomID string) {
		mctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := s.store.MarkRoomStarted(mctx, roomID); err != nil {
			s.log.Warn("mark room started failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}(res.roomID)

	s.log.Info("game started", zap.String("topic", res.topic), zap.Int("match_minutes", res.minutes))
	return nil
}

// Leave releases the room: unsubscribes, stops watching memberships and
// deletes the local membership. Every step runs even if an earlier one fails.
func (s *Session) Leave(ctx context.Context) error {
	res, err := call(ctx, s, func(r chan resources) msg {
		return detach{reply: r}
	})
	if err != nil {
		return err
	}
	return s.release(ctx, res)
}

// Close leaves the current room and stops the session.
func (s *Session) Close(ctx context.Context) error {
	err := s.Leave(ctx)
	if errors.Is(err, ErrClosed) {
		err = nil
	}
	s.closeOnce.Do(s.cancel)
	<-s.done
	return err
}

func (s *Session) View(ctx context.Context) (View, error) {
	return call(ctx, s, func(r chan View) msg {
		return getView{reply: r}
	})
}

// Watch registers out to receive a View after every state change, starting
// with the current one. A slow watcher misses intermediate views, never the
// latest. out is closed when the session shuts down.
func (s *Session) Watch(id string, out chan View) error {
	return s.send(context.Background(), watch{id: id, out: out})
}

func (s *Session) Unwatch(id string) error {
	return s.send(context.Background(), unwatch{id: id})
}

func (s *Session) release(ctx context.Context, res resources) error {
	if res.room == nil {
		return nil
	}

	var errs error
	if res.stopWatch != nil {
		res.stopWatch()
	}
	if res.sub != nil {
		errs = multierr.Append(errs, s.channel.Unsubscribe(*res.sub))
	}
	errs = multierr.Append(errs, s.store.DeleteMembership(ctx, res.room.ID, s.me.PlayerID()))
	if errs != nil {
		return s.transportErr("leave", errs)
	}

	s.log.Info("left room", zap.String("code", res.room.Code))
	return nil
}

func (s *Session) apply(ctx context.Context, cmd engine.Command) error {
	reply, err := call(ctx, s, func(r chan error) msg {
		return applyCmd{cmd: cmd, reply: r}
	})
	if err != nil {
		return err
	}
	return reply
}

func (s *Session) abort() {
	if err := s.apply(context.Background(), engine.Command{Type: engine.CmdAbort}); err != nil {
		s.log.Debug("abort skipped", zap.Error(err))
	}
}

func (s *Session) dropMembership(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := s.store.DeleteMembership(ctx, roomID, s.me.PlayerID()); err != nil {
		s.log.Warn("drop membership failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

func (s *Session) enqueue(topic string, t types.EventType, payload any) {
	ev, err := realtime.NewEvent(s.codec, t, s.me.PlayerID(), s.now(), payload)
	if err != nil {
		s.log.Warn("encode event failed", zap.String("type", string(t)), zap.Error(err))
		return
	}
	select {
	case s.outbox <- outbound{topic: topic, event: ev}:
	default:
		s.log.Warn("outbox full, dropping event", zap.String("type", string(t)))
	}
}

func (s *Session) sendLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case o := <-s.outbox:
			ctx, cancel := context.WithTimeout(s.ctx, publishTimeout)
			if err := s.channel.Publish(ctx, o.topic, o.event); err != nil {
				s.log.Warn("publish failed",
					zap.String("topic", o.topic),
					zap.String("type", string(o.event.Type)),
					zap.Error(err))
			}
			cancel()
		}
	}
}

func (s *Session) transportErr(op string, err error) error {
	s.log.Warn(op+" failed", zap.Error(err))
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

func (s *Session) send(ctx context.Context, m msg) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case s.inbox <- m:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers a message from a store or channel goroutine.
func (s *Session) post(m msg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

func call[T any](ctx context.Context, s *Session, build func(chan T) msg) (T, error) {
	var zero T
	reply := make(chan T, 1)
	if err := s.send(ctx, build(reply)); err != nil {
		return zero, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func hasPlayer(members []roomstore.Membership, id string) bool {
	for _, m := range members {
		if m.PlayerID == id {
			return true
		}
	}
	return false
}
