// Package ingest provides the two-phase playlist ingestion pipeline.
package ingest

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/hiroq/otobox/internal/app/playback"
	"github.com/hiroq/otobox/internal/domain/track"
)

// ErrEmptyPlaylist reports a playlist listing with nothing to add.
// This is a distinct outcome, not a resolution failure.
var ErrEmptyPlaylist = errors.New("playlist has no entries")

// Resolver turns queries, URLs and playlist entry IDs into tracks.
type Resolver interface {
	Resolve(ctx context.Context, queryOrURL string) (track.Track, error)
	ListPlaylist(ctx context.Context, sourceRef string) ([]string, error)
}

// Notifier receives the final report once a background batch completes.
type Notifier interface {
	IngestCompleted(sessionKey string, accepted int, failed []string)
}

// Report summarizes the synchronous phase of an ingestion.
type Report struct {
	Accepted int      // Tracks resolved and enqueued so far
	Failed   []string // Entry IDs that could not be resolved
	Pending  int      // Entries left to the background batch
}

// Ingestor resolves playlist entries into a session's queue: an
// immediate batch resolved before returning, then the remainder in the
// background. Network resolution never holds the session lock; only
// the brief queue append does.
type Ingestor struct {
	resolver     Resolver
	notifier     Notifier
	initialBatch int
}

// NewIngestor creates an ingestor. initialBatch caps the synchronous
// phase (default 5).
func NewIngestor(resolver Resolver, notifier Notifier, initialBatch int) *Ingestor {
	if initialBatch <= 0 {
		initialBatch = 5
	}
	return &Ingestor{
		resolver:     resolver,
		notifier:     notifier,
		initialBatch: initialBatch,
	}
}

// Ingest fetches the playlist listing, resolves the first
// min(initialBatch, total) entries synchronously into the session's
// queue, and hands any remainder to a background task bound to the
// session's lifetime. Per-entry failures are collected, never fatal to
// the batch. An empty listing returns ErrEmptyPlaylist.
func (ing *Ingestor) Ingest(ctx context.Context, sess *playback.Session, sourceRef string) (Report, error) {
	ids, err := ing.resolver.ListPlaylist(ctx, sourceRef)
	if err != nil {
		return Report{}, errors.Wrap(err, "list playlist")
	}
	if len(ids) == 0 {
		return Report{}, ErrEmptyPlaylist
	}

	initial := ing.initialBatch
	if initial > len(ids) {
		initial = len(ids)
	}

	accepted, failed := ing.resolveInto(ctx, sess, ids[:initial])
	rep := Report{Accepted: accepted, Failed: failed, Pending: len(ids) - initial}

	zlog.Info().Msgf("ingest: initial batch done: key=%s source=%s accepted=%d failed=%d pending=%d",
		sess.Key(), sourceRef, rep.Accepted, len(rep.Failed), rep.Pending)

	if rep.Pending > 0 {
		go ing.ingestRemainder(sess, ids[initial:], rep.Accepted, rep.Failed)
	}
	return rep, nil
}

// ingestRemainder resolves the background batch under the session's
// context so that destroying the session cancels the work. The final
// report counts both phases.
func (ing *Ingestor) ingestRemainder(sess *playback.Session, ids []string, accepted int, failed []string) {
	ctx := sess.Context()

	more, moreFailed := ing.resolveInto(ctx, sess, ids)
	if ctx.Err() != nil {
		zlog.Debug().Msgf("ingest: background batch cancelled: key=%s resolved=%d", sess.Key(), more)
		return
	}

	accepted += more
	failed = append(failed, moreFailed...)
	zlog.Info().Msgf("ingest: background batch done: key=%s accepted=%d failed=%d",
		sess.Key(), accepted, len(failed))
	if ing.notifier != nil {
		ing.notifier.IngestCompleted(sess.Key(), accepted, failed)
	}
}

// resolveInto resolves entries one at a time, appending each success
// to the session queue in listing order. The session starts playing on
// the first append if it was idle.
func (ing *Ingestor) resolveInto(ctx context.Context, sess *playback.Session, ids []string) (int, []string) {
	accepted := 0
	var failed []string

	for _, id := range ids {
		if ctx.Err() != nil {
			return accepted, failed
		}
		t, err := ing.resolver.Resolve(ctx, id)
		if err != nil {
			zlog.Warn().Msgf("ingest: entry resolution failed: key=%s entry=%s err=%v", sess.Key(), id, err)
			failed = append(failed, id)
			continue
		}
		sess.Enqueue(t)
		accepted++
	}
	return accepted, failed
}
