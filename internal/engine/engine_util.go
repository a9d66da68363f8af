package engine

func NewIdleState() State {
	return State{Phase: PhaseIdle, Role: RoleNone}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// InRoom reports whether the phase has a room to publish to.
func InRoom(p Phase) bool {
	return p == PhaseInLobby || p == PhaseInGame
}
