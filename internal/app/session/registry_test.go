package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiroq/otobox/internal/app/ingest"
	"github.com/hiroq/otobox/internal/app/notification"
	"github.com/hiroq/otobox/internal/app/playback"
	"github.com/hiroq/otobox/internal/domain/track"
	"github.com/hiroq/otobox/internal/infra/metrics"
)

type stubTransport struct {
	mu         sync.Mutex
	connectErr error
	connects   int
	handles    []*stubHandle
}

func (t *stubTransport) Connect(ctx context.Context, channelRef string) (playback.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	h := &stubHandle{}
	t.handles = append(t.handles, h)
	return h, nil
}

type stubHandle struct {
	mu           sync.Mutex
	plays        int
	disconnected bool
}

func (h *stubHandle) Play(ctx context.Context, t track.Track, onFinished playback.FinishFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.plays++
	return nil
}

func (h *stubHandle) Pause(ctx context.Context) error  { return nil }
func (h *stubHandle) Resume(ctx context.Context) error { return nil }
func (h *stubHandle) Stop(ctx context.Context) error   { return nil }

func (h *stubHandle) Move(ctx context.Context, channelRef string) error { return nil }

func (h *stubHandle) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = true
	return nil
}

func (h *stubHandle) isDisconnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnected
}

// stubResolver serves both single-track resolution and playlist
// listings from fixed maps.
type stubResolver struct {
	tracks    map[string]track.Track
	playlists map[string][]string
}

func (r *stubResolver) Resolve(ctx context.Context, queryOrURL string) (track.Track, error) {
	t, ok := r.tracks[queryOrURL]
	if !ok {
		return track.Track{}, errors.Newf("no match for %q", queryOrURL)
	}
	return t, nil
}

func (r *stubResolver) ListPlaylist(ctx context.Context, sourceRef string) ([]string, error) {
	ids, ok := r.playlists[sourceRef]
	if !ok {
		return nil, errors.Newf("unknown playlist %q", sourceRef)
	}
	return ids, nil
}

func newTestRegistry(t *testing.T, transport *stubTransport, cfg Config) *Registry {
	t.Helper()
	res := &stubResolver{
		tracks: map[string]track.Track{
			"song a": {StreamLocator: "loc:a", Title: "a", Duration: time.Minute},
			"song b": {StreamLocator: "loc:b", Title: "b", Duration: time.Minute},
		},
		playlists: map[string][]string{
			"pl1": {"song a", "song b"},
		},
	}
	notifier := notification.NewManager()
	ingestor := ingest.NewIngestor(res, notifier, 5)
	m := metrics.New(prometheus.NewRegistry())
	return New(transport, res, ingestor, notifier, m, cfg)
}

func TestRegistry_GetOrCreateReusesSession(t *testing.T) {
	tp := &stubTransport{}
	r := newTestRegistry(t, tp, Config{})

	s1, err := r.GetOrCreate(context.Background(), "g1", "v1")
	require.NoError(t, err)
	s2, err := r.GetOrCreate(context.Background(), "g1", "v2")
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, tp.connects)
	assert.Equal(t, 1, r.Count())
	// The existing binding wins; the second channel ref is ignored.
	assert.Equal(t, "v1", s2.ChannelRef())
}

func TestRegistry_GetOrCreateConnectionFailure(t *testing.T) {
	tp := &stubTransport{connectErr: errors.New("voice gateway unreachable")}
	r := newTestRegistry(t, tp, Config{})

	_, err := r.GetOrCreate(context.Background(), "g1", "v1")
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_SessionsAreIsolatedPerKey(t *testing.T) {
	tp := &stubTransport{}
	r := newTestRegistry(t, tp, Config{})

	_, err := r.Enqueue(context.Background(), "g1", "v1", "song a")
	require.NoError(t, err)
	_, err = r.Enqueue(context.Background(), "g2", "v1", "song b")
	require.NoError(t, err)

	snapA, err := r.Snapshot("g1")
	require.NoError(t, err)
	snapB, err := r.Snapshot("g2")
	require.NoError(t, err)

	require.NotNil(t, snapA.Current)
	require.NotNil(t, snapB.Current)
	assert.Equal(t, "a", snapA.Current.Title)
	assert.Equal(t, "b", snapB.Current.Title)

	// Pausing one session leaves the other playing.
	require.NoError(t, r.Pause("g1"))
	snapA, _ = r.Snapshot("g1")
	snapB, _ = r.Snapshot("g2")
	assert.Equal(t, playback.StatePaused, snapA.State)
	assert.Equal(t, playback.StatePlaying, snapB.State)
}

func TestRegistry_EnqueueResolveFailure(t *testing.T) {
	tp := &stubTransport{}
	r := newTestRegistry(t, tp, Config{})

	_, err := r.Enqueue(context.Background(), "g1", "v1", "no such song")
	assert.Error(t, err)

	// The session itself was created and stays usable.
	assert.Equal(t, 1, r.Count())
	snap, err := r.Snapshot("g1")
	require.NoError(t, err)
	assert.Equal(t, playback.StateIdle, snap.State)
}

func TestRegistry_EnqueuePlaylist(t *testing.T) {
	tp := &stubTransport{}
	r := newTestRegistry(t, tp, Config{})

	rep, err := r.EnqueuePlaylist(context.Background(), "g1", "v1", "pl1")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Accepted)
	assert.Empty(t, rep.Failed)
	assert.Equal(t, 0, rep.Pending)

	snap, err := r.Snapshot("g1")
	require.NoError(t, err)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "a", snap.Current.Title)
	assert.Equal(t, 1, snap.QueueLen)
}

func TestRegistry_DestroyRemovesAndDisconnects(t *testing.T) {
	tp := &stubTransport{}
	r := newTestRegistry(t, tp, Config{})

	s, err := r.GetOrCreate(context.Background(), "g1", "v1")
	require.NoError(t, err)

	r.Destroy("g1")
	assert.Equal(t, 0, r.Count())
	assert.True(t, s.Destroyed())
	require.Len(t, tp.handles, 1)
	assert.True(t, tp.handles[0].isDisconnected())

	// Destroying an unknown or already-removed key is a no-op.
	r.Destroy("g1")
	r.Destroy("nope")
}

func TestRegistry_CommandsWithoutSession(t *testing.T) {
	tp := &stubTransport{}
	r := newTestRegistry(t, tp, Config{})

	assert.ErrorIs(t, r.Pause("g1"), ErrNoSession)
	assert.ErrorIs(t, r.Resume("g1"), ErrNoSession)
	assert.ErrorIs(t, r.Skip("g1"), ErrNoSession)
	assert.ErrorIs(t, r.Stop("g1"), ErrNoSession)
	assert.ErrorIs(t, r.Shuffle("g1"), ErrNoSession)
	assert.ErrorIs(t, r.Move(context.Background(), "g1", "v2"), ErrNoSession)

	_, err := r.ToggleLoop("g1")
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = r.Clear("g1")
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = r.Snapshot("g1")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRegistry_Close(t *testing.T) {
	tp := &stubTransport{}
	r := newTestRegistry(t, tp, Config{})

	for _, key := range []string{"g1", "g2", "g3"} {
		_, err := r.GetOrCreate(context.Background(), key, "v1")
		require.NoError(t, err)
	}

	r.Close()
	assert.Equal(t, 0, r.Count())
	for _, h := range tp.handles {
		assert.True(t, h.isDisconnected())
	}
}

func TestIdleMonitor_SweepDestroysOnlyExpired(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	setNow := func(t time.Time) {
		mu.Lock()
		defer mu.Unlock()
		now = t
	}

	tp := &stubTransport{}
	r := newTestRegistry(t, tp, Config{Now: clock})
	mon := NewIdleMonitor(r, time.Minute, 30*time.Minute)

	_, err := r.GetOrCreate(context.Background(), "g1", "v1")
	require.NoError(t, err)
	_, err = r.GetOrCreate(context.Background(), "g2", "v1")
	require.NoError(t, err)

	setNow(base.Add(5 * time.Minute))
	r.Touch("g2")

	// g1 has been idle 31m, g2 only 26m.
	setNow(base.Add(31 * time.Minute))
	assert.Equal(t, 1, mon.Sweep())
	assert.Nil(t, r.Get("g1"))
	assert.NotNil(t, r.Get("g2"))

	// g2 crosses the threshold at 35m of inactivity.
	setNow(base.Add(41 * time.Minute))
	assert.Equal(t, 1, mon.Sweep())
	assert.Equal(t, 0, r.Count())
}

func TestIdleMonitor_ActivityResetsTimer(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	tp := &stubTransport{}
	r := newTestRegistry(t, tp, Config{Now: clock})
	mon := NewIdleMonitor(r, time.Minute, 30*time.Minute)

	_, err := r.GetOrCreate(context.Background(), "g1", "v1")
	require.NoError(t, err)

	mu.Lock()
	now = base.Add(29 * time.Minute)
	mu.Unlock()
	r.Touch("g1")

	mu.Lock()
	now = base.Add(31 * time.Minute)
	mu.Unlock()
	assert.Equal(t, 0, mon.Sweep())
	assert.NotNil(t, r.Get("g1"))
}
