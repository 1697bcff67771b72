package recording

import (
	"errors"
	"slices"
)

// State is the lifecycle state of the capture session.
type State string

const (
	// StateIdle means no capture is active.
	StateIdle State = "idle"
	// StateRequestingDevice means the input device is being acquired.
	StateRequestingDevice State = "requesting_device"
	// StateRecording means chunks are being captured.
	StateRecording State = "recording"
	// StateFinalizing means the capture is being joined and persisted.
	StateFinalizing State = "finalizing"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("recording: invalid state transition")

// validTransitions defines which state transitions are allowed.
// Every state may fall back to idle on error.
var validTransitions = map[State][]State{
	StateIdle:             {StateRequestingDevice},
	StateRequestingDevice: {StateRecording, StateIdle},
	StateRecording:        {StateFinalizing, StateIdle},
	StateFinalizing:       {StateIdle},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}
