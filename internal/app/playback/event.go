package playback

import "github.com/hiroq/otobox/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted EventType = iota // Transport playback began for a track
	EventTrackEnded                    // Track finished normally
	EventTrackFailed                   // Transport reported a playback error
	EventTrackSkipped                  // Track was skipped by a caller
	EventStateChanged                  // Playback state changed (pause/resume)
	EventQueueEmpty                    // Queue drained, session went idle
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackFailed:
		return "track_failed"
	case EventTrackSkipped:
		return "track_skipped"
	case EventStateChanged:
		return "state_changed"
	case EventQueueEmpty:
		return "queue_empty"
	default:
		return "unknown"
	}
}

// Event represents a playback event emitted by a session.
type Event struct {
	Type  EventType
	Key   string       // Session key
	Track *track.Track // Affected track (nil for some events)
	State State        // Session state after the event
}
