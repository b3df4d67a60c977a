package job

// State is the lifecycle state of a tracked or scheduler-observed job.
type State string

const (
	StateUnsubmitted State = "unsubmitted"
	StateQueued      State = "queued"
	StateRunning     State = "running"
	StateHeld        State = "held"
	StateMoving      State = "moving"
	StateWaiting     State = "waiting"
	StateSuspended   State = "suspended"
	StateExiting     State = "exiting"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateAlert       State = "alert"
	StateUnknown     State = "unknown"
)

// States lists every valid state.
var States = []State{
	StateUnsubmitted, StateQueued, StateRunning, StateHeld, StateMoving,
	StateWaiting, StateSuspended, StateExiting, StateCompleted, StateFailed,
	StateAlert, StateUnknown,
}

// Valid reports whether s is one of the enumerated states.
func (s State) Valid() bool {
	for _, v := range States {
		if s == v {
			return true
		}
	}
	return false
}

// ParseStateCode maps a PBS single-letter job_state to a State.
// Unrecognized codes map to StateUnknown.
func ParseStateCode(code string) State {
	switch code {
	case "E":
		return StateExiting
	case "H":
		return StateHeld
	case "Q":
		return StateQueued
	case "R":
		return StateRunning
	case "T":
		return StateMoving
	case "W":
		return StateWaiting
	case "S":
		return StateSuspended
	case "U":
		return StateUnsubmitted
	default:
		return StateUnknown
	}
}
