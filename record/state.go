package record

import "fmt"

// State is the recording coordinator's lifecycle state. Exactly one
// recording session exists while the state is Starting, Recording, Stopping,
// or Saving.
type State int

// Coordinator states.
const (
	StateIdle State = iota
	StateStarting
	StateRecording
	StateStopping
	StateSaving
	StateError
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateSaving:
		return "saving"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// EventKind distinguishes state transitions from progress ticks on the
// coordinator's event channel.
type EventKind int

// Event kinds.
const (
	EventState EventKind = iota
	EventProgress
)

// Event is one coordinator notification. State events carry the new state
// and a human-readable status message (plus Err when the state is
// StateError); progress events carry the 0..1 fraction of the recording cap
// elapsed. Events are emitted off the session queue: consumers may be slow
// without stalling capture.
type Event struct {
	Kind     EventKind
	State    State
	Message  string
	Progress float64
	Err      error
}
