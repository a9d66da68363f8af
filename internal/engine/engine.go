package engine

import (
	"errors"
	"slices"
)

var ErrWrongPhase = errors.New("operation not allowed in current phase")
var ErrNotHost = errors.New("only the host can start the game")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseCreating Phase = "creating"
	PhaseJoining  Phase = "joining"
	PhaseInLobby  Phase = "in_lobby"
	PhaseInGame   Phase = "in_game"
)

type Role string

const (
	RoleNone  Role = ""
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// State is the session lifecycle. GameStarted only goes false -> true until
// the session is torn down with CmdLeave.
type State struct {
	Phase       Phase
	Role        Role
	GameStarted bool
}

type CommandType string

const (
	CmdBeginCreate CommandType = "BeginCreate"
	CmdBeginJoin   CommandType = "BeginJoin"
	CmdEnter       CommandType = "Enter"
	CmdAbort       CommandType = "Abort"
	CmdStartGame   CommandType = "StartGame"
	CmdRemoteStart CommandType = "RemoteStart"
	CmdLeave       CommandType = "Leave"
)

/*
	CmdBeginCreate -> EvtCreating        (idle -> creating, role host)
	CmdBeginJoin   -> EvtJoining         (idle -> joining, role guest)
	CmdEnter       -> EvtEnteredLobby    (creating|joining -> in_lobby)
	CmdAbort       -> EvtAborted         (creating|joining -> idle)
	CmdStartGame   -> EvtGameStarted     (host only, first call only)
	CmdRemoteStart -> EvtGameStarted     (game_start seen on the channel)
	CmdLeave       -> EvtLeft            (anything but idle -> idle)
*/

type Command struct {
	Type CommandType
}

type EventType string

const (
	EvtCreating     EventType = "Creating"
	EvtJoining      EventType = "Joining"
	EvtEnteredLobby EventType = "EnteredLobby"
	EvtAborted      EventType = "Aborted"
	EvtGameStarted  EventType = "GameStarted"
	EvtLeft         EventType = "Left"
)

type Event struct {
	Type EventType
	Role Role
}

func Apply(s State, cmd Command) ([]Event, State, error) {
	allowed, ok := Transitions[s.Phase]
	if !ok {
		return nil, s, ErrWrongPhase
	}
	if !slices.Contains(allowed, cmd.Type) {
		if isKnown(cmd.Type) {
			return nil, s, ErrWrongPhase
		}
		return nil, s, ErrUnsupportedCommand
	}

	newState := s

	switch cmd.Type {
	case CmdBeginCreate:
		newState.Phase = PhaseCreating
		newState.Role = RoleHost
		return []Event{{Type: EvtCreating, Role: RoleHost}}, newState, nil

	case CmdBeginJoin:
		newState.Phase = PhaseJoining
		newState.Role = RoleGuest
		return []Event{{Type: EvtJoining, Role: RoleGuest}}, newState, nil

	case CmdEnter:
		newState.Phase = PhaseInLobby
		return []Event{{Type: EvtEnteredLobby, Role: s.Role}}, newState, nil

	case CmdAbort:
		return []Event{{Type: EvtAborted, Role: s.Role}}, NewIdleState(), nil

	case CmdStartGame:
		// Host is a client-side capability; nothing upstream enforces it.
		if s.Role != RoleHost {
			return nil, s, ErrNotHost
		}
		return start(s)

	case CmdRemoteStart:
		return start(s)

	case CmdLeave:
		if s.Phase == PhaseIdle {
			return nil, s, nil
		}
		return []Event{{Type: EvtLeft, Role: s.Role}}, NewIdleState(), nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func start(s State) ([]Event, State, error) {
	if s.GameStarted {
		return nil, s, nil
	}
	newState := s
	newState.GameStarted = true
	newState.Phase = PhaseInGame
	return []Event{{Type: EvtGameStarted, Role: s.Role}}, newState, nil
}

func isKnown(t CommandType) bool {
	for _, cmds := range Transitions {
		if slices.Contains(cmds, t) {
			return true
		}
	}
	return false
}
