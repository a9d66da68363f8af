package session

import (
	"github.com/DoyleJ11/foodfps/internal/engine"
	"github.com/DoyleJ11/foodfps/internal/realtime"
	"github.com/DoyleJ11/foodfps/internal/roomstore"
	"github.com/DoyleJ11/foodfps/pkg/types"
)

type msg interface{ isSessionMsg() }

type applyCmd struct {
	cmd   engine.Command
	reply chan error
}

type entered struct {
	room      roomstore.Room
	members   []roomstore.Membership
	sub       realtime.Subscription
	stopWatch func()
	reply     chan error
}

// inbound is an event delivered by the channel subscription for topic.
type inbound struct {
	topic string
	event types.Event
}

type membersChanged struct{ roomID string }

type reconciled struct {
	roomID  string
	members []roomstore.Membership
	started bool
	err     error
}

type localMove struct {
	update PlayerUpdate
	reply  chan target
}

type roomTarget struct{ reply chan target }

type startReq struct {
	minutes int
	reply   chan startResult
}

type detach struct{ reply chan resources }

type getView struct{ reply chan View }

type watch struct {
	id  string
	out chan View
}

type unwatch struct{ id string }

func (applyCmd) isSessionMsg()       {}
func (entered) isSessionMsg()        {}
func (inbound) isSessionMsg()        {}
func (membersChanged) isSessionMsg() {}
func (reconciled) isSessionMsg()     {}
func (localMove) isSessionMsg()      {}
func (roomTarget) isSessionMsg()     {}
func (startReq) isSessionMsg()       {}
func (detach) isSessionMsg()         {}
func (getView) isSessionMsg()        {}
func (watch) isSessionMsg()          {}
func (unwatch) isSessionMsg()        {}

type target struct {
	topic string
	err   error
}

type startResult struct {
	topic   string
	roomID  string
	minutes int
	started bool
	err     error
}

// resources are what a session holds while in a room and must give back.
type resources struct {
	room      *roomstore.Room
	sub       *realtime.Subscription
	stopWatch func()
}

type outbound struct {
	topic string
	event types.Event
}
