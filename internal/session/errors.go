package session

import (
	"errors"

	"github.com/DoyleJ11/foodfps/internal/engine"
	"github.com/DoyleJ11/foodfps/internal/roomstore"
)

var (
	ErrNotAuthenticated = errors.New("no player identity")
	ErrTransport        = errors.New("transport failure")
	ErrNotInRoom        = errors.New("not in a room")
	ErrClosed           = errors.New("session closed")

	ErrRoomNotFound = roomstore.ErrRoomNotFound
	ErrNotHost      = engine.ErrNotHost
)
