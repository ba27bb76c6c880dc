// Package resolver provides track resolver implementations.
package resolver

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/hiroq/otobox/internal/domain/track"
)

var (
	// ErrNotFound marks queries and entry IDs that resolve to nothing.
	ErrNotFound = errors.New("track not found")
	// ErrUnplayable marks tracks that exist but cannot be streamed.
	ErrUnplayable = errors.New("track not playable")
)

// Resolver turns queries, URLs and playlist references into tracks.
type Resolver interface {
	// Resolve returns the track for a query, URL or entry ID.
	Resolve(ctx context.Context, queryOrURL string) (track.Track, error)
	// ListPlaylist returns the entry IDs of a playlist, in order,
	// without resolving the entries.
	ListPlaylist(ctx context.Context, sourceRef string) ([]string, error)
}
