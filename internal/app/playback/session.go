package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/hiroq/otobox/internal/domain/queue"
	"github.com/hiroq/otobox/internal/domain/track"
)

// ErrInvalidState is returned when a command does not apply to the
// session's current state (e.g. Resume while not paused). Callers treat
// it as a no-op, not a failure.
var ErrInvalidState = errors.New("request not valid in current playback state")

// Config holds session configuration.
type Config struct {
	MaxConsecutiveFailures int              // Stop auto-advancing after this many failures in a row
	Now                    func() time.Time // Clock source (defaults to time.Now)
}

// Session owns the playback state for one output channel: the queue,
// the current track, the state machine, loop behavior and timing.
// All transitions are serialized by the session's mutex; concurrent
// events (user commands, transport completion signals, ingestion
// appends) are applied one at a time.
type Session struct {
	mu sync.Mutex

	id         string
	key        string
	channelRef string
	handle     Handle

	queue   *queue.Queue
	current *track.Track
	state   State
	loop    bool

	startedAt   time.Time
	pausedAt    time.Time // zero when not paused
	pausedTotal time.Duration

	lastActivity time.Time

	// playSeq tags each transport playback attempt. Completion signals
	// carry the sequence they were issued for; a stale sequence means
	// the attempt was superseded by skip/stop/destroy and is ignored.
	playSeq  uint64
	failures int

	maxFailures int
	now         func() time.Time
	destroyed   bool

	ctx     context.Context
	cancel  context.CancelFunc
	eventCh chan Event
}

// NewSession creates a session bound to the given channel handle.
// The initial state is Idle.
func NewSession(key, channelRef string, handle Handle, cfg Config) *Session {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:           uuid.New().String(),
		key:          key,
		channelRef:   channelRef,
		handle:       handle,
		queue:        queue.New(),
		state:        StateIdle,
		lastActivity: cfg.Now(),
		maxFailures:  cfg.MaxConsecutiveFailures,
		now:          cfg.Now,
		ctx:          ctx,
		cancel:       cancel,
		eventCh:      make(chan Event, 16),
	}
}

// ID returns the session instance ID.
func (s *Session) ID() string { return s.id }

// Key returns the registry key the session is registered under.
func (s *Session) Key() string { return s.key }

// ChannelRef returns the channel the transport is currently bound to.
func (s *Session) ChannelRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelRef
}

// Events returns the session's event stream.
func (s *Session) Events() <-chan Event {
	return s.eventCh
}

// Context returns a context cancelled when the session is destroyed.
// Background work bound to the session (playlist ingestion) uses it.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Enqueue appends a track to the queue. If the session is idle,
// playback starts immediately. Reports whether playback was started by
// this call.
func (s *Session) Enqueue(t track.Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return false
	}
	s.queue.Append(t)
	s.touchLocked()

	if s.state == StateIdle && s.current == nil {
		s.advanceLocked(nil)
		return s.state == StatePlaying
	}
	return false
}

// EnqueueAll appends tracks in order, starting playback if idle.
func (s *Session) EnqueueAll(ts []track.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed || len(ts) == 0 {
		return
	}
	s.queue.AppendAll(ts)
	s.touchLocked()

	if s.state == StateIdle && s.current == nil {
		s.advanceLocked(nil)
	}
}

// Pause suspends transport output, retaining elapsed-time accounting.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying {
		return ErrInvalidState
	}
	if err := s.handle.Pause(s.ctx); err != nil {
		return errors.Wrap(err, "transport pause")
	}
	s.pausedAt = s.now()
	s.state = StatePaused
	s.touchLocked()
	s.emitLocked(Event{Type: EventStateChanged, Key: s.key, Track: s.current, State: s.state})
	return nil
}

// Resume resumes paused transport output.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePaused {
		return ErrInvalidState
	}
	if err := s.handle.Resume(s.ctx); err != nil {
		return errors.Wrap(err, "transport resume")
	}
	if !s.pausedAt.IsZero() {
		s.pausedTotal += s.now().Sub(s.pausedAt)
		s.pausedAt = time.Time{}
	}
	s.state = StatePlaying
	s.touchLocked()
	s.emitLocked(Event{Type: EventStateChanged, Key: s.key, Track: s.current, State: s.state})
	return nil
}

// Skip stops the current track and advances to the next one. Loop
// re-insertion does not apply to manual skips. With no current track
// and an empty queue this is a no-op returning ErrInvalidState.
func (s *Session) Skip() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil && s.queue.Len() == 0 {
		return ErrInvalidState
	}
	s.touchLocked()

	skipped := s.current
	s.playSeq++ // invalidate any in-flight completion signal
	if s.current != nil {
		if err := s.handle.Stop(s.ctx); err != nil {
			zlog.Warn().Msgf("playback: transport stop on skip failed: key=%s err=%v", s.key, err)
		}
	}
	s.failures = 0
	if skipped != nil {
		s.emitLocked(Event{Type: EventTrackSkipped, Key: s.key, Track: skipped, State: s.state})
	}
	s.advanceLocked(nil)
	return nil
}

// Stop halts playback and clears the queue, leaving the session idle
// but connected. Stopping an idle session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()
	if s.current == nil && s.queue.Len() == 0 {
		return nil
	}

	s.playSeq++
	if s.current != nil {
		if err := s.handle.Stop(s.ctx); err != nil {
			zlog.Warn().Msgf("playback: transport stop failed: key=%s err=%v", s.key, err)
		}
	}
	s.queue.Clear()
	s.clearPlaybackLocked()
	s.emitLocked(Event{Type: EventStateChanged, Key: s.key, State: s.state})
	return nil
}

// ToggleLoop flips the loop flag and returns the new value. Loop takes
// effect on the next natural track completion.
func (s *Session) ToggleLoop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = !s.loop
	s.touchLocked()
	return s.loop
}

// Shuffle randomizes the queue order.
func (s *Session) Shuffle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Shuffle()
	s.touchLocked()
}

// Clear empties the queue without touching the current track. Returns
// the number of removed tracks.
func (s *Session) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	return s.queue.Clear()
}

// MoveTo relocates the transport to a different channel without
// resetting queue or playback state.
func (s *Session) MoveTo(ctx context.Context, channelRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrInvalidState
	}
	if err := s.handle.Move(ctx, channelRef); err != nil {
		return errors.Wrap(err, "transport move")
	}
	s.channelRef = channelRef
	s.touchLocked()
	return nil
}

// Touch records channel activity, deferring idle disconnection.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
}

// LastActivity returns the time of the last recorded activity.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// IdleFor reports whether the session has seen no activity for at
// least the given duration.
func (s *Session) IdleFor(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastActivity) >= d
}

// Destroy stops the transport, releases the handle and clears all
// state. In-flight background work bound to the session context is
// cancelled. Idempotent.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.destroyed = true
	s.playSeq++
	s.cancel()

	// Teardown uses a fresh context; the session context is already gone.
	ctx := context.Background()
	if s.current != nil {
		if err := s.handle.Stop(ctx); err != nil {
			zlog.Warn().Msgf("playback: transport stop on destroy failed: key=%s err=%v", s.key, err)
		}
	}
	if err := s.handle.Disconnect(ctx); err != nil {
		zlog.Warn().Msgf("playback: transport disconnect failed: key=%s err=%v", s.key, err)
	}
	s.queue.Clear()
	s.clearPlaybackLocked()
	zlog.Info().Msgf("playback: session destroyed: key=%s id=%s", s.key, s.id)
}

// Destroyed reports whether the session has been destroyed.
func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Snapshot is a read-only, point-in-time view of a session.
type Snapshot struct {
	Key         string
	State       State
	Current     *track.Track
	Elapsed     time.Duration
	Duration    time.Duration
	LoopEnabled bool
	QueueLen    int
	Upcoming    []track.Track
}

// Snapshot returns an atomic view of the session state with up to n
// upcoming tracks.
func (s *Session) Snapshot(n int) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Key:         s.key,
		State:       s.state,
		LoopEnabled: s.loop,
		QueueLen:    s.queue.Len(),
		Upcoming:    s.queue.Peek(n),
	}
	if s.current != nil {
		cur := *s.current
		snap.Current = &cur
		snap.Duration = cur.Duration
		snap.Elapsed = s.elapsedLocked()
	}
	return snap
}

// OnTrackFinished is the transport completion entry point for a given
// play sequence. Exposed for transports that deliver completion out of
// band; the callback handed to Handle.Play routes here.
func (s *Session) OnTrackFinished(seq uint64, playErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTrackFinishedLocked(seq, playErr)
}

func (s *Session) onTrackFinishedLocked(seq uint64, playErr error) {
	if seq != s.playSeq || s.current == nil {
		// Superseded by skip/stop/destroy; the winning transition
		// already handled advancement.
		return
	}

	finished := *s.current

	if playErr != nil {
		s.failures++
		zlog.Warn().Msgf("playback: track failed: key=%s title=%s failures=%d err=%v",
			s.key, finished.Title, s.failures, playErr)
		s.emitLocked(Event{Type: EventTrackFailed, Key: s.key, Track: &finished, State: s.state})
		if s.failures >= s.maxFailures {
			zlog.Error().Msgf("playback: too many consecutive failures, going idle: key=%s failures=%d",
				s.key, s.failures)
			s.clearPlaybackLocked()
			s.emitLocked(Event{Type: EventStateChanged, Key: s.key, State: s.state})
			return
		}
		// Failed tracks are never re-enqueued, loop or not.
		s.advanceLocked(nil)
		return
	}

	s.failures = 0
	s.emitLocked(Event{Type: EventTrackEnded, Key: s.key, Track: &finished, State: s.state})
	if s.loop {
		s.advanceLocked(&finished)
		return
	}
	s.advanceLocked(nil)
}

// advanceLocked pops and starts the next track, optionally reinserting
// the just-finished track at the front first (loop). Synchronous play
// failures advance through the queue in a bounded loop capped by the
// consecutive-failure limit.
func (s *Session) advanceLocked(reinsert *track.Track) {
	if reinsert != nil {
		s.queue.PushFront(*reinsert)
	}

	for {
		next, ok := s.queue.PopFront()
		if !ok {
			s.clearPlaybackLocked()
			s.emitLocked(Event{Type: EventQueueEmpty, Key: s.key, State: s.state})
			return
		}

		s.playSeq++
		seq := s.playSeq
		err := s.handle.Play(s.ctx, next, func(playErr error) {
			s.OnTrackFinished(seq, playErr)
		})
		if err == nil {
			t := next
			s.current = &t
			s.state = StatePlaying
			s.startedAt = s.now()
			s.pausedAt = time.Time{}
			s.pausedTotal = 0
			zlog.Info().Msgf("playback: track started: key=%s title=%s duration=%v",
				s.key, t.Title, t.Duration)
			s.emitLocked(Event{Type: EventTrackStarted, Key: s.key, Track: &t, State: s.state})
			return
		}

		s.failures++
		zlog.Warn().Msgf("playback: transport play failed: key=%s title=%s failures=%d err=%v",
			s.key, next.Title, s.failures, err)
		s.emitLocked(Event{Type: EventTrackFailed, Key: s.key, Track: &next, State: s.state})
		if s.failures >= s.maxFailures {
			zlog.Error().Msgf("playback: too many consecutive failures, going idle: key=%s failures=%d",
				s.key, s.failures)
			s.clearPlaybackLocked()
			s.emitLocked(Event{Type: EventStateChanged, Key: s.key, State: s.state})
			return
		}
	}
}

func (s *Session) clearPlaybackLocked() {
	s.current = nil
	s.state = StateIdle
	s.startedAt = time.Time{}
	s.pausedAt = time.Time{}
	s.pausedTotal = 0
}

func (s *Session) elapsedLocked() time.Duration {
	if s.current == nil {
		return 0
	}
	now := s.now()
	elapsed := now.Sub(s.startedAt) - s.pausedTotal
	if s.state == StatePaused && !s.pausedAt.IsZero() {
		elapsed -= now.Sub(s.pausedAt)
	}
	if elapsed < 0 {
		return 0
	}
	if s.current.HasDuration() && elapsed > s.current.Duration {
		return s.current.Duration
	}
	return elapsed
}

func (s *Session) touchLocked() {
	s.lastActivity = s.now()
}

// emitLocked sends an event without blocking. Must be called with the
// lock held.
func (s *Session) emitLocked(e Event) {
	select {
	case s.eventCh <- e:
	case <-s.ctx.Done():
	default:
		// Buffer full; drop rather than block a transition.
	}
}
