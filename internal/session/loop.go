package session

import (
	"context"
	"fmt"
	"time"

	"github.com/DoyleJ11/foodfps/internal/engine"
	"github.com/DoyleJ11/foodfps/internal/realtime"
	"github.com/DoyleJ11/foodfps/internal/roomstore"
	"github.com/DoyleJ11/foodfps/pkg/types"
	"go.uber.org/zap"
)

func (s *Session) loop() {
	defer close(s.done)
	for {
		var tick <-chan time.Time
		if s.ticker != nil {
			tick = s.ticker.C
		}

		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case <-tick:
			s.state.Bullets.Prune(s.now())
			s.reconcile()

		case m := <-s.inbox:
			s.handle(m)
		}
	}
}

func (s *Session) handle(m msg) {
	switch msg := m.(type) {
	case applyCmd:
		events, next, err := engine.Apply(s.state.State, msg.cmd)
		if err != nil {
			msg.reply <- err
			return
		}
		s.state.State = next
		if engine.ContainsEvent(events, engine.EvtAborted) {
			s.resetRoom()
		}
		if len(events) > 0 {
			s.publishView()
		}
		msg.reply <- nil

	case entered:
		_, next, err := engine.Apply(s.state.State, engine.Command{Type: engine.CmdEnter})
		if err != nil {
			msg.reply <- err
			return
		}
		room := msg.room
		sub := msg.sub
		s.state.State = next
		s.state.Room = &room
		s.sub = &sub
		s.stopWatch = msg.stopWatch
		s.setMembers(msg.members, false)
		if room.StartedAt != nil {
			s.remoteStart(room.HostID)
		}
		if s.reconcileEvery > 0 {
			s.ticker = time.NewTicker(s.reconcileEvery)
		}
		s.publishView()
		// Broadcasts and store changes that landed before this point were
		// dropped, so read the room once more.
		s.reconcile()
		msg.reply <- nil

	case inbound:
		s.ingest(msg.topic, msg.event)

	case membersChanged:
		if s.state.Room != nil && s.state.Room.ID == msg.roomID {
			s.reconcile()
		}

	case reconciled:
		s.fetching = false
		if s.state.Room == nil || s.state.Room.ID != msg.roomID {
			return
		}
		if msg.err != nil {
			s.log.Warn("membership refresh failed", zap.String("room_id", msg.roomID), zap.Error(msg.err))
		} else {
			s.setMembers(msg.members, true)
			if msg.started {
				s.remoteStart(s.state.Room.HostID)
			}
			s.publishView()
		}
		if s.refetch {
			s.refetch = false
			s.reconcile()
		}

	case localMove:
		topic, err := s.currentTopic()
		if err == nil {
			s.applyMove(msg.update)
			s.publishView()
		}
		msg.reply <- target{topic: topic, err: err}

	case roomTarget:
		topic, err := s.currentTopic()
		msg.reply <- target{topic: topic, err: err}

	case startReq:
		topic, err := s.currentTopic()
		if err != nil {
			msg.reply <- startResult{err: err}
			return
		}
		events, next, err := engine.Apply(s.state.State, engine.Command{Type: engine.CmdStartGame})
		if err != nil {
			msg.reply <- startResult{err: err}
			return
		}
		s.state.State = next
		started := engine.ContainsEvent(events, engine.EvtGameStarted)
		if started && msg.minutes > 0 {
			s.state.MatchMinutes = msg.minutes
		}
		if started {
			s.notify(NoticeGameStarted, s.me.PlayerID(), "Game started")
			s.publishView()
		}
		msg.reply <- startResult{
			topic:   topic,
			roomID:  s.state.Room.ID,
			minutes: s.state.MatchMinutes,
			started: started,
		}

	case detach:
		msg.reply <- s.detachResources()

	case getView:
		msg.reply <- s.currentView()

	case watch:
		s.watchers[msg.id] = msg.out
		deliver(msg.out, s.currentView())

	case unwatch:
		delete(s.watchers, msg.id)
	}
}

// ingest applies one broadcast event from the room topic. Events from the
// local player and from other topics are dropped.
func (s *Session) ingest(topic string, ev types.Event) {
	if s.state.Room == nil || topic != realtime.RoomTopic(s.state.Room.Code) {
		return
	}
	if ev.Sender == "" || ev.Sender == s.me.PlayerID() {
		return
	}

	switch ev.Type {
	case types.EventPlayerMove:
		pm, err := realtime.DecodePayload[types.PlayerMove](s.codec, ev)
		if err != nil {
			s.log.Debug("bad player_move payload", zap.String("sender", ev.Sender), zap.Error(err))
			return
		}
		s.applyRemoteMove(ev.Sender, pm)

	case types.EventBulletFired:
		b, err := realtime.DecodePayload[types.BulletEvent](s.codec, ev)
		if err != nil {
			s.log.Debug("bad bullet_fired payload", zap.String("sender", ev.Sender), zap.Error(err))
			return
		}
		s.state.Bullets.Append(ev.Sender, b, s.now())

	case types.EventGameStart:
		gs, err := realtime.DecodePayload[types.GameStart](s.codec, ev)
		if err != nil {
			// A start signal without a readable payload still starts the game.
			s.log.Debug("bad game_start payload", zap.String("sender", ev.Sender), zap.Error(err))
		}
		before := s.state.MatchMinutes
		s.adoptMatchMinutes(gs.MatchMinutes)
		// The room row may already have started the game; the length still
		// has to reach watchers.
		if !s.remoteStart(ev.Sender) && s.state.MatchMinutes == before {
			return
		}

	default:
		s.log.Debug("unknown event type", zap.String("type", string(ev.Type)))
		return
	}
	s.publishView()
}

// remoteStart enters the game on a start made by another player, reported by
// a broadcast or by the room's start time.
func (s *Session) remoteStart(by string) bool {
	events, next, err := engine.Apply(s.state.State, engine.Command{Type: engine.CmdRemoteStart})
	if err != nil {
		s.log.Debug("ignoring remote start", zap.String("phase", string(s.state.Phase)), zap.Error(err))
		return false
	}
	s.state.State = next
	if !engine.ContainsEvent(events, engine.EvtGameStarted) {
		return false
	}
	s.notify(NoticeGameStarted, by, "Game started")
	return true
}

func (s *Session) adoptMatchMinutes(minutes int) {
	if minutes <= 0 {
		return
	}
	if s.matchMinutes > 0 && s.matchMinutes != minutes {
		s.log.Warn("host match length differs from local setting",
			zap.Int("host", minutes),
			zap.Int("local", s.matchMinutes))
	}
	s.state.MatchMinutes = minutes
}

func (s *Session) applyRemoteMove(sender string, pm types.PlayerMove) {
	p, ok := s.state.Players[sender]
	if !ok {
		name := pm.Name
		if name == "" {
			name = sender
		}
		p = roomstore.Membership{
			RoomID:      s.state.Room.ID,
			PlayerID:    sender,
			DisplayName: name,
			Alive:       true,
			JoinedAt:    s.now(),
		}
	}
	p.X, p.Y = pm.X, pm.Y
	p.Health = pm.Health
	p.Weapon = pm.Weapon
	p.Angle = pm.Angle
	p.Alive = pm.Health > 0
	s.state.Players[sender] = p
}

func (s *Session) applyMove(u PlayerUpdate) {
	me := s.me.PlayerID()
	p, ok := s.state.Players[me]
	if !ok {
		p = roomstore.Membership{
			RoomID:      s.state.Room.ID,
			PlayerID:    me,
			DisplayName: s.me.DisplayName,
			JoinedAt:    s.now(),
		}
	}
	p.X, p.Y = u.X, u.Y
	p.Health = u.Health
	p.Weapon = u.Weapon
	p.Angle = u.Angle
	p.Alive = u.Health > 0
	s.state.Players[me] = p
}

// reconcile starts a full membership fetch unless one is in flight, in which
// case another is queued behind it. The room row is read too so a start that
// was never seen on the channel still moves the session into the game.
func (s *Session) reconcile() {
	if s.state.Room == nil {
		return
	}
	if s.fetching {
		s.refetch = true
		return
	}
	s.fetching = true
	roomID, code := s.state.Room.ID, s.state.Room.Code
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, fetchTimeout)
		defer cancel()
		members, err := s.store.ListMemberships(ctx, roomID)
		started := false
		if err == nil {
			// A failed room lookup only delays noticing the start.
			room, rerr := s.store.FindActiveRoomByCode(ctx, code)
			started = rerr == nil && room.ID == roomID && room.StartedAt != nil
		}
		s.post(reconciled{roomID: roomID, members: members, started: started, err: err})
	}()
}

// setMembers makes the fetched list the set of players in the room. Rows are
// not written on every movement tick, so a player already known keeps the
// position, health and weapon last seen on the channel. Remote players
// missing from the list are dropped along with their bullets.
func (s *Session) setMembers(members []roomstore.Membership, announce bool) {
	me := s.me.PlayerID()
	next := make(map[string]roomstore.Membership, len(members))
	for _, m := range members {
		if known, ok := s.state.Players[m.PlayerID]; ok {
			known.DisplayName = m.DisplayName
			known.Score = m.Score
			known.JoinedAt = m.JoinedAt
			next[m.PlayerID] = known
			continue
		}
		next[m.PlayerID] = m
	}
	if local, ok := s.state.Players[me]; ok {
		next[me] = local
	}

	for id, p := range next {
		if _, known := s.state.Players[id]; !known && id != me && announce {
			s.notify(NoticePlayerJoined, id, fmt.Sprintf("%s joined", p.DisplayName))
		}
	}
	for id, p := range s.state.Players {
		if _, still := next[id]; still || id == me {
			continue
		}
		s.state.Bullets.Evict(id)
		if announce {
			s.notify(NoticePlayerLeft, id, fmt.Sprintf("%s left", p.DisplayName))
		}
	}
	s.state.Players = next
}

func (s *Session) currentTopic() (string, error) {
	if s.state.Room == nil || !engine.InRoom(s.state.Phase) {
		return "", ErrNotInRoom
	}
	return realtime.RoomTopic(s.state.Room.Code), nil
}

// detachResources moves the session back to idle and hands over everything
// that has to be released.
func (s *Session) detachResources() resources {
	res := resources{room: s.state.Room, sub: s.sub, stopWatch: s.stopWatch}
	if _, next, err := engine.Apply(s.state.State, engine.Command{Type: engine.CmdLeave}); err == nil {
		s.state.State = next
	}
	s.resetRoom()
	s.publishView()
	return res
}

func (s *Session) resetRoom() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	s.sub = nil
	s.stopWatch = nil
	s.fetching = false
	s.refetch = false
	s.state = State{
		State:        s.state.State,
		Players:      make(map[string]roomstore.Membership),
		Bullets:      NewBulletCache(s.retention),
		MatchMinutes: s.matchMinutes,
	}
}

func (s *Session) currentView() View {
	s.state.Bullets.Prune(s.now())
	return s.state.view(s.version)
}

func (s *Session) publishView() {
	s.version++
	v := s.currentView()
	for _, out := range s.watchers {
		deliver(out, v)
	}
}

// deliver hands v to out, replacing an unread older view if out is full.
// Unbuffered watchers only get views they are ready for.
func deliver(out chan View, v View) {
	if cap(out) == 0 {
		select {
		case out <- v:
		default:
		}
		return
	}
	for {
		select {
		case out <- v:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}

func (s *Session) notify(kind NoticeKind, playerID, text string) {
	n := Notice{Kind: kind, PlayerID: playerID, Message: text, At: s.now()}
	select {
	case s.notices <- n:
	default:
		s.log.Debug("notice dropped", zap.String("kind", string(kind)))
	}
}

func (s *Session) shutdown() {
	res := s.detachResources()
	if res.room != nil {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		if err := s.release(ctx, res); err != nil {
			s.log.Warn("release on shutdown failed", zap.Error(err))
		}
		cancel()
	}
	for id, out := range s.watchers {
		close(out)
		delete(s.watchers, id)
	}
	close(s.notices)
}
