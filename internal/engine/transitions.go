package engine

// Transitions lists the commands each phase accepts.
var Transitions = map[Phase][]CommandType{
	PhaseIdle:     {CmdBeginCreate, CmdBeginJoin, CmdLeave},
	PhaseCreating: {CmdEnter, CmdAbort, CmdLeave},
	PhaseJoining:  {CmdEnter, CmdAbort, CmdLeave},
	PhaseInLobby:  {CmdStartGame, CmdRemoteStart, CmdLeave},
	PhaseInGame:   {CmdStartGame, CmdRemoteStart, CmdLeave},
}
