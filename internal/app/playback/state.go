// Package playback provides the per-channel playback session and its
// state machine.
package playback

// State represents the playback state of a session.
type State int

const (
	StateIdle    State = iota // Transport connected, nothing playing
	StatePlaying              // Track is playing
	StatePaused               // Track is paused
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}
