package playback

import (
	"context"

	"github.com/hiroq/otobox/internal/domain/track"
)

// FinishFunc is invoked by the transport exactly once per playback
// attempt, with a nil error on normal end and a non-nil error when the
// transport failed mid-track.
type FinishFunc func(err error)

// Transport establishes audio connections to output channels.
type Transport interface {
	// Connect binds a connection to the given channel and returns a
	// handle for it.
	Connect(ctx context.Context, channelRef string) (Handle, error)
}

// Handle is a live transport connection borrowed by a session.
// Play must not invoke the finish callback synchronously.
type Handle interface {
	Play(ctx context.Context, t track.Track, onFinished FinishFunc) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Move(ctx context.Context, channelRef string) error
	Disconnect(ctx context.Context) error
}
