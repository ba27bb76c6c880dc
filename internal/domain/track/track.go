// Package track provides the Track domain entity.
package track

import "time"

// Track is an immutable descriptor of a playable audio item.
// Produced by the track resolver or the ingestion pipeline; never
// mutated after creation.
type Track struct {
	StreamLocator string        // Locator handed to the audio transport
	Title         string        // Display title
	Duration      time.Duration // Track duration (0 = unknown)
	DisplayURL    string        // Public page URL (optional)
	ThumbnailURL  string        // Thumbnail image URL (optional)
}

// HasDuration reports whether the track's duration is known.
func (t Track) HasDuration() bool {
	return t.Duration > 0
}

// TotalDuration returns the summed duration of the given tracks.
// Tracks with unknown duration contribute zero.
func TotalDuration(tracks []Track) time.Duration {
	var total time.Duration
	for _, t := range tracks {
		total += t.Duration
	}
	return total
}
