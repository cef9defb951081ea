package backend

// State represents the lifecycle state of the backend process
type State string

const (
	// StateNotStarted is the state before the first spawn
	StateNotStarted State = "not_started"

	// StateStarting means the process was spawned but has not been confirmed serving
	StateStarting State = "starting"

	// StateRunning means the backend announced its port or answered a probe
	StateRunning State = "running"

	// StateStopping means termination was requested and exit is pending
	StateStopping State = "stopping"

	// StateStopped means the process exited normally or after a requested stop
	StateStopped State = "stopped"

	// StateFailed means the spawn failed or the process exited non-zero on its own
	StateFailed State = "failed"
)

// Active reports whether a process of this state may still serve requests.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning
}

// Terminal reports whether the process for this generation is gone.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

var validTransitions = map[State][]State{
	StateNotStarted: {
		StateStarting,
	},
	StateStarting: {
		StateRunning,
		StateStopping,
		StateStopped,
		StateFailed,
	},
	StateRunning: {
		StateStopping,
		StateStopped,
		StateFailed,
	},
	StateStopping: {
		StateStopped,
		StateFailed,
	},
	StateStopped: {
		StateStarting, // Relaunch, new generation
	},
	StateFailed: {
		StateStarting, // Relaunch, new generation
	},
}

// CanTransition checks if a transition from one state to another is valid
func CanTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
