// Package session provides the session registry, the entry point for
// all external playback commands.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/hiroq/otobox/internal/app/ingest"
	"github.com/hiroq/otobox/internal/app/notification"
	"github.com/hiroq/otobox/internal/app/playback"
	"github.com/hiroq/otobox/internal/domain/track"
	"github.com/hiroq/otobox/internal/infra/metrics"
)

var (
	// ErrNoSession is returned for commands addressing a key with no
	// live session.
	ErrNoSession = errors.New("no session for key")
	// ErrConnectionFailed marks transport connection failures. No
	// partial session is registered when it occurs.
	ErrConnectionFailed = errors.New("transport connection failed")
)

// Resolver turns a query or URL into a single track.
type Resolver interface {
	Resolve(ctx context.Context, queryOrURL string) (track.Track, error)
}

// Config holds registry configuration.
type Config struct {
	MaxConsecutiveFailures int              // Per-session failure cap before going idle
	UpcomingCount          int              // Tracks shown in snapshots (default 10)
	Now                    func() time.Time // Clock source for sessions (defaults to time.Now)
}

// Registry owns the key→session map and enforces one session per key.
// It never reaches into session internals; all mutation goes through
// session methods.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*playback.Session

	transport playback.Transport
	resolver  Resolver
	ingestor  *ingest.Ingestor
	notifier  *notification.Manager
	metrics   *metrics.Metrics
	cfg       Config
}

// New creates a registry.
func New(
	transport playback.Transport,
	resolver Resolver,
	ingestor *ingest.Ingestor,
	notifier *notification.Manager,
	m *metrics.Metrics,
	cfg Config,
) *Registry {
	if cfg.UpcomingCount <= 0 {
		cfg.UpcomingCount = 10
	}
	return &Registry{
		sessions:  make(map[string]*playback.Session),
		transport: transport,
		resolver:  resolver,
		ingestor:  ingestor,
		notifier:  notifier,
		metrics:   m,
		cfg:       cfg,
	}
}

// GetOrCreate returns the session for key, creating and registering
// one bound to channelRef if none exists. On connection failure
// nothing is registered.
func (r *Registry) GetOrCreate(ctx context.Context, key, channelRef string) (*playback.Session, error) {
	r.mu.RLock()
	s := r.sessions[key]
	r.mu.RUnlock()
	if s != nil {
		return s, nil
	}

	// Connect before taking the map entry so a failed connection
	// leaves no partial state behind.
	handle, err := r.transport.Connect(ctx, channelRef)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "connect channel %s", channelRef), ErrConnectionFailed)
	}

	r.mu.Lock()
	if existing := r.sessions[key]; existing != nil {
		r.mu.Unlock()
		// Lost a creation race; release our connection and reuse.
		_ = handle.Disconnect(ctx)
		return existing, nil
	}
	s = playback.NewSession(key, channelRef, handle, playback.Config{
		MaxConsecutiveFailures: r.cfg.MaxConsecutiveFailures,
		Now:                    r.cfg.Now,
	})
	r.sessions[key] = s
	r.mu.Unlock()

	r.metrics.SessionsCreated.Inc()
	r.metrics.ActiveSessions.Inc()
	go r.forwardEvents(s)

	zlog.Info().Msgf("session: created: key=%s channel=%s id=%s", key, channelRef, s.ID())
	return s, nil
}

// Get returns the session for key, or nil.
func (r *Registry) Get(key string) *playback.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[key]
}

// Destroy tears down the session for key and removes it. Destroying a
// non-existent key is a no-op.
func (r *Registry) Destroy(key string) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	s.Destroy()
	r.metrics.SessionsDestroyed.Inc()
	r.metrics.ActiveSessions.Dec()
	r.notifier.Broadcast(&notification.Notification{
		Type:       notification.TypeSessionDestroyed,
		SessionKey: key,
	})
}

// DestroyIfIdle destroys the session for key only if it is still idle
// past the timeout at destroy time. The freshness re-check under the
// session lock closes the race with activity arriving between an idle
// scan and the destroy decision.
func (r *Registry) DestroyIfIdle(key string, timeout time.Duration) bool {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if !ok {
		// Already gone; treat as handled.
		r.mu.Unlock()
		return false
	}
	if !s.IdleFor(timeout) {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, key)
	r.mu.Unlock()

	zlog.Info().Msgf("session: idle timeout: key=%s last_activity=%v", key, s.LastActivity())
	s.Destroy()
	r.metrics.SessionsDestroyed.Inc()
	r.metrics.IdleDisconnects.Inc()
	r.metrics.ActiveSessions.Dec()
	r.notifier.Broadcast(&notification.Notification{
		Type:       notification.TypeSessionDestroyed,
		SessionKey: key,
	})
	return true
}

// Move relocates an existing session's transport to a different
// channel without resetting queue or playback state.
func (r *Registry) Move(ctx context.Context, key, channelRef string) error {
	s := r.Get(key)
	if s == nil {
		return ErrNoSession
	}
	return s.MoveTo(ctx, channelRef)
}

// Enqueue resolves a query or URL and appends the track to the
// session's queue, creating the session if needed. Returns the
// accepted track.
func (r *Registry) Enqueue(ctx context.Context, key, channelRef, queryOrURL string) (track.Track, error) {
	s, err := r.GetOrCreate(ctx, key, channelRef)
	if err != nil {
		return track.Track{}, err
	}

	t, err := r.resolver.Resolve(ctx, queryOrURL)
	if err != nil {
		return track.Track{}, errors.Wrapf(err, "resolve %q", queryOrURL)
	}

	started := s.Enqueue(t)
	r.metrics.TracksEnqueued.Inc()
	zlog.Info().Msgf("session: enqueued: key=%s title=%s started=%t", key, t.Title, started)
	return t, nil
}

// EnqueuePlaylist ingests a playlist into the session's queue: the
// first entries synchronously, the remainder in the background. The
// background summary arrives through the notification hub.
func (r *Registry) EnqueuePlaylist(ctx context.Context, key, channelRef, sourceRef string) (ingest.Report, error) {
	s, err := r.GetOrCreate(ctx, key, channelRef)
	if err != nil {
		return ingest.Report{}, err
	}
	r.metrics.IngestRequests.Inc()
	return r.ingestor.Ingest(ctx, s, sourceRef)
}

// Pause pauses playback for key.
func (r *Registry) Pause(key string) error {
	s := r.Get(key)
	if s == nil {
		return ErrNoSession
	}
	return s.Pause()
}

// Resume resumes paused playback for key.
func (r *Registry) Resume(key string) error {
	s := r.Get(key)
	if s == nil {
		return ErrNoSession
	}
	return s.Resume()
}

// Skip advances past the current track for key.
func (r *Registry) Skip(key string) error {
	s := r.Get(key)
	if s == nil {
		return ErrNoSession
	}
	return s.Skip()
}

// Stop halts playback and clears the queue for key, keeping the
// session connected.
func (r *Registry) Stop(key string) error {
	s := r.Get(key)
	if s == nil {
		return ErrNoSession
	}
	return s.Stop()
}

// Leave disconnects and forgets the session for key.
func (r *Registry) Leave(key string) {
	r.Destroy(key)
}

// ToggleLoop flips the loop flag for key and returns the new value.
func (r *Registry) ToggleLoop(key string) (bool, error) {
	s := r.Get(key)
	if s == nil {
		return false, ErrNoSession
	}
	return s.ToggleLoop(), nil
}

// Shuffle randomizes the queue order for key.
func (r *Registry) Shuffle(key string) error {
	s := r.Get(key)
	if s == nil {
		return ErrNoSession
	}
	s.Shuffle()
	return nil
}

// Clear empties the queue for key, returning the removed count.
func (r *Registry) Clear(key string) (int, error) {
	s := r.Get(key)
	if s == nil {
		return 0, ErrNoSession
	}
	return s.Clear(), nil
}

// Snapshot returns an atomic view of the session for key.
func (r *Registry) Snapshot(key string) (playback.Snapshot, error) {
	s := r.Get(key)
	if s == nil {
		return playback.Snapshot{}, ErrNoSession
	}
	return s.Snapshot(r.cfg.UpcomingCount), nil
}

// Touch records channel activity for key (e.g. a presence signal from
// the front-end), deferring idle disconnection. Unknown keys are
// ignored.
func (r *Registry) Touch(key string) {
	if s := r.Get(key); s != nil {
		s.Touch()
	}
}

// Keys returns the keys of all live sessions.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	return keys
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshots returns snapshots of all live sessions.
func (r *Registry) Snapshots() []playback.Snapshot {
	keys := r.Keys()
	snaps := make([]playback.Snapshot, 0, len(keys))
	for _, k := range keys {
		if s := r.Get(k); s != nil {
			snaps = append(snaps, s.Snapshot(r.cfg.UpcomingCount))
		}
	}
	return snaps
}

// Close destroys all sessions.
func (r *Registry) Close() {
	for _, key := range r.Keys() {
		r.Destroy(key)
	}
}

// forwardEvents relays one session's events to the notification hub
// and metrics until the session is destroyed.
func (r *Registry) forwardEvents(s *playback.Session) {
	for {
		select {
		case <-s.Context().Done():
			return
		case e := <-s.Events():
			r.handleEvent(e)
		}
	}
}

func (r *Registry) handleEvent(e playback.Event) {
	switch e.Type {
	case playback.EventTrackStarted:
		r.metrics.TracksPlayed.Inc()
		r.notifier.Broadcast(&notification.Notification{
			Type:       notification.TypeTrackStarted,
			SessionKey: e.Key,
			Track:      e.Track,
			State:      e.State.String(),
		})
	case playback.EventTrackFailed:
		r.metrics.PlaybackFailures.Inc()
		r.notifier.Broadcast(&notification.Notification{
			Type:       notification.TypeTrackFailed,
			SessionKey: e.Key,
			Track:      e.Track,
			State:      e.State.String(),
		})
	case playback.EventStateChanged:
		r.notifier.Broadcast(&notification.Notification{
			Type:       notification.TypeStateChanged,
			SessionKey: e.Key,
			Track:      e.Track,
			State:      e.State.String(),
		})
	case playback.EventQueueEmpty:
		r.notifier.Broadcast(&notification.Notification{
			Type:       notification.TypeQueueEmpty,
			SessionKey: e.Key,
			State:      e.State.String(),
		})
	case playback.EventTrackEnded, playback.EventTrackSkipped:
		// The follow-up TrackStarted or QueueEmpty carries the news.
	}
}
