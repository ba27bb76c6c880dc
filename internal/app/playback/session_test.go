package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiroq/otobox/internal/domain/track"
)

// fakeHandle records transport calls and hands completion callbacks
// back to the test so completion signals can be fired deliberately.
type fakeHandle struct {
	mu           sync.Mutex
	plays        []track.Track
	finishers    []FinishFunc
	playErrs     []error // consumed per Play call; nil entries succeed
	pauses       int
	resumes      int
	stops        int
	moves        []string
	disconnected bool
}

func (h *fakeHandle) Play(ctx context.Context, t track.Track, onFinished FinishFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.playErrs) > 0 {
		err := h.playErrs[0]
		h.playErrs = h.playErrs[1:]
		if err != nil {
			return err
		}
	}
	h.plays = append(h.plays, t)
	h.finishers = append(h.finishers, onFinished)
	return nil
}

func (h *fakeHandle) Pause(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pauses++
	return nil
}

func (h *fakeHandle) Resume(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resumes++
	return nil
}

func (h *fakeHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
	return nil
}

func (h *fakeHandle) Move(ctx context.Context, channelRef string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.moves = append(h.moves, channelRef)
	return nil
}

func (h *fakeHandle) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = true
	return nil
}

func (h *fakeHandle) playCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.plays)
}

func (h *fakeHandle) playedTitles() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.plays))
	for i, t := range h.plays {
		out[i] = t.Title
	}
	return out
}

// finisher returns the completion callback of the i-th play attempt.
func (h *fakeHandle) finisher(i int) FinishFunc {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finishers[i]
}

func tr(title string, d time.Duration) track.Track {
	return track.Track{StreamLocator: "locator:" + title, Title: title, Duration: d}
}

func newTestSession(h *fakeHandle, cfg Config) *Session {
	return NewSession("guild-1", "voice-1", h, cfg)
}

func TestSession_EnqueueStartsPlaybackOnce(t *testing.T) {
	h := &fakeHandle{}
	s := newTestSession(h, Config{})

	started := s.Enqueue(tr("a", time.Minute))
	assert.True(t, started)

	started = s.Enqueue(tr("b", time.Minute))
	assert.False(t, started)
	started = s.Enqueue(tr("c", time.Minute))
	assert.False(t, started)

	snap := s.Snapshot(10)
	assert.Equal(t, StatePlaying, snap.State)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "a", snap.Current.Title)
	assert.Equal(t, []string{"a"}, h.playedTitles())
	assert.Equal(t, 2, snap.QueueLen)
}

func TestSession_CompletionAdvancesThroughQueue(t *testing.T) {
	h := &fakeHandle{}
	s := newTestSession(h, Config{})

	s.Enqueue(tr("a", time.Minute))
	s.Enqueue(tr("b", time.Minute))

	h.finisher(0)(nil)
	snap := s.Snapshot(10)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "b", snap.Current.Title)

	h.finisher(1)(nil)
	snap = s.Snapshot(10)
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Current)
	assert.Equal(t, 0, snap.QueueLen)
}

func TestSession_LoopReplaysFinishedTrack(t *testing.T) {
	h := &fakeHandle{}
	s := newTestSession(h, Config{})

	s.Enqueue(tr("a", time.Minute))
	s.Enqueue(tr("b", time.Minute))
	assert.True(t, s.ToggleLoop())

	// Natural completion of "a" must replay "a", keeping "b" behind it.
	h.finisher(0)(nil)

	snap := s.Snapshot(10)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "a", snap.Current.Title)
	assert.Equal(t, []string{"b"}, titlesOf(snap.Upcoming))
	assert.Equal(t, []string{"a", "a"}, h.playedTitles())
}

func TestSession_SkipBypassesLoop(t *testing.T) {
	h := &fakeHandle{}
	s := newTestSession(h, Config{})

	s.Enqueue(tr("a", time.Minute))
	s.Enqueue(tr("b", time.Minute))
	s.ToggleLoop()

	require.NoError(t, s.Skip())

	snap := s.Snapshot(10)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "b", snap.Current.Title)
}

func TestSession_SkipOnEmptySessionIsInvalid(t *testing.T) {
	h := &fakeHandle{}
	s := newTestSession(h, Config{})

	err := s.Skip()
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 0, h.playCount())
}

func TestSession_SkipRacesCompletionSignal(t *testing.T) {
	h := &fakeHandle{}
	s := newTestSession(h, Config{})

	s.Enqueue(tr("a", time.Minute))
	s.Enqueue(tr("b", time.Minute))
	finish := h.finisher(0)

	// A user skip racing the transport completion must not double-
	// advance: "b" is popped and started exactly once. Whichever signal
	// loses the race is discarded via the stale play sequence, so the
	// final state depends on ordering (skip won: playing "b"; completion
	// won: "b" started then skipped to an empty queue).
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = s.Skip()
	}()
	go func() {
		defer wg.Done()
		finish(nil)
	}()
	wg.Wait()

	snap := s.Snapshot(10)
	assert.Equal(t, []string{"a", "b"}, h.playedTitles())
	assert.Equal(t, 0, snap.QueueLen)
	if snap.Current != nil {
		assert.Equal(t, "b", snap.Current.Title)
		assert.Equal(t, StatePlaying, snap.State)
	} else {
		assert.Equal(t, StateIdle, snap.State)
	}
}

func TestSession_PauseResume(t *testing.T) {
	h := &fakeHandle{}
	s := newTestSession(h, Config{})

	// Pause with nothing playing is a benign no-op.
	assert.ErrorIs(t, s.Pause(), ErrInvalidState)

	s.Enqueue(tr("a", time.Minute))
	require.NoError(t, s.Pause())
	assert.Equal(t, StatePaused, s.Snapshot(0).State)

	// Resume when not paused and double pause are also benign.
	assert.ErrorIs(t, s.Pause(), ErrInvalidState)
	require.NoError(t, s.Resume())
	assert.Equal(t, StatePlaying, s.Snapshot(0).State)
	assert.ErrorIs(t, s.Resume(), ErrInvalidState)

	assert.Equal(t, 1, h.pauses)
	assert.Equal(t, 1, h.resumes)
}

func TestSession_StopClearsQueueAndGoesIdle(t *testing.T) {
	h := &fakeHandle{}
	s := newTestSession(h, Config{})

	s.Enqueue(tr("a", time.Minute))
	s.Enqueue(tr("b", time.Minute))

	require.NoError(t, s.Stop())

	snap := s.Snapshot(10)
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Current)
	assert.Equal(t, 0, snap.QueueLen)
	assert.Equal(t, 1, h.stops)

	// Stopping an idle session stays a no-op.
	require.NoError(t, s.Stop())
	assert.Equal(t, 1, h.stops)

	// A stale completion for the stopped track must not restart anything.
	h.finisher(0)(nil)
	assert.Equal(t, StateIdle, s.Snapshot(0).State)
}

func TestSession_FailedTrackAdvancesWithoutReenqueue(t *testing.T) {
	h := &fakeHandle{}
	s := newTestSession(h, Config{})
	s.ToggleLoop() // loop must not re-enqueue a failed track

	s.Enqueue(tr("a", time.Minute))
	s.Enqueue(tr("b", time.Minute))

	h.finisher(0)(assert.AnError)

	snap := s.Snapshot(10)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "b", snap.Current.Title)
	assert.Equal(t, 0, snap.QueueLen)
}

func TestSession_ConsecutiveFailureCapGoesIdle(t *testing.T) {
	h := &fakeHandle{}
	s := newTestSession(h, Config{MaxConsecutiveFailures: 3})

	for _, title := range []string{"a", "b", "c", "d", "e"} {
		s.Enqueue(tr(title, time.Minute))
	}

	h.finisher(0)(assert.AnError)
	h.finisher(1)(assert.AnError)
	h.finisher(2)(assert.AnError)

	snap := s.Snapshot(10)
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Current)
	// Auto-advance halted; remaining tracks stay queued.
	assert.Equal(t, 2, snap.QueueLen)
	assert.Equal(t, 3, h.playCount())

	// A successful completion resets the chain: skipping restarts play.
	require.NoError(t, s.Skip())
	assert.Equal(t, StatePlaying, s.Snapshot(0).State)
}

func TestSession_SynchronousPlayFailuresAreBounded(t *testing.T) {
	h := &fakeHandle{playErrs: []error{assert.AnError, assert.AnError, assert.AnError}}
	s := newTestSession(h, Config{MaxConsecutiveFailures: 3})

	s.EnqueueAll([]track.Track{
		tr("a", time.Minute), tr("b", time.Minute),
		tr("c", time.Minute), tr("d", time.Minute),
	})

	// Every start attempt failed synchronously; the bounded advance
	// loop must stop at the cap instead of spinning through the queue.
	snap := s.Snapshot(10)
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, 0, h.playCount())
	assert.Equal(t, 1, snap.QueueLen)
}

func TestSession_SnapshotElapsedClamped(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h := &fakeHandle{}
	s := newTestSession(h, Config{Now: func() time.Time { return now }})

	s.Enqueue(tr("a", 200*time.Second))

	now = now.Add(50 * time.Second)
	snap := s.Snapshot(0)
	assert.Equal(t, 50*time.Second, snap.Elapsed)
	assert.Equal(t, 200*time.Second, snap.Duration)

	// Elapsed never exceeds the known duration.
	now = now.Add(400 * time.Second)
	assert.Equal(t, 200*time.Second, s.Snapshot(0).Elapsed)
}

func TestSession_ElapsedExcludesPausedTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h := &fakeHandle{}
	s := newTestSession(h, Config{Now: func() time.Time { return now }})

	s.Enqueue(tr("a", 200*time.Second))

	now = now.Add(30 * time.Second)
	require.NoError(t, s.Pause())

	now = now.Add(100 * time.Second)
	assert.Equal(t, 30*time.Second, s.Snapshot(0).Elapsed)

	require.NoError(t, s.Resume())
	now = now.Add(20 * time.Second)
	assert.Equal(t, 50*time.Second, s.Snapshot(0).Elapsed)
}

func TestSession_DestroyIsIdempotent(t *testing.T) {
	h := &fakeHandle{}
	s := newTestSession(h, Config{})

	s.Enqueue(tr("a", time.Minute))
	s.Destroy()
	s.Destroy()

	assert.True(t, s.Destroyed())
	assert.True(t, h.disconnected)
	assert.Error(t, s.Context().Err())

	// Enqueue after destroy must not restart playback.
	assert.False(t, s.Enqueue(tr("b", time.Minute)))
	assert.Equal(t, 1, h.playCount())
}

func TestSession_MoveKeepsPlaybackState(t *testing.T) {
	h := &fakeHandle{}
	s := newTestSession(h, Config{})

	s.Enqueue(tr("a", time.Minute))
	s.Enqueue(tr("b", time.Minute))

	require.NoError(t, s.MoveTo(context.Background(), "voice-2"))

	assert.Equal(t, "voice-2", s.ChannelRef())
	assert.Equal(t, []string{"voice-2"}, h.moves)
	snap := s.Snapshot(10)
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, 1, snap.QueueLen)
}

func TestSession_ActivityTracking(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h := &fakeHandle{}
	s := newTestSession(h, Config{Now: func() time.Time { return now }})

	now = now.Add(31 * time.Minute)
	assert.True(t, s.IdleFor(30*time.Minute))

	s.Touch()
	assert.False(t, s.IdleFor(30*time.Minute))
	assert.Equal(t, now, s.LastActivity())
}

func titlesOf(ts []track.Track) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Title
	}
	return out
}
