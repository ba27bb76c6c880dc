// Package transport provides audio transport implementations.
//
// Real voice transports live outside this repository; the clock
// transport here plays tracks by waiting out their duration on the
// wall clock and then firing the completion signal, which is enough
// for a runnable server and for end-to-end exercises.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/hiroq/otobox/internal/app/playback"
	"github.com/hiroq/otobox/internal/domain/track"
)

// ErrDisconnected is returned for operations on a released handle.
var ErrDisconnected = errors.New("transport handle disconnected")

// Clock is a Transport whose playback is simulated by timers.
type Clock struct {
	defaultDuration time.Duration
}

// NewClock creates a clock transport. Tracks with unknown duration
// play for defaultDuration.
func NewClock(defaultDuration time.Duration) *Clock {
	if defaultDuration <= 0 {
		defaultDuration = 3 * time.Minute
	}
	return &Clock{defaultDuration: defaultDuration}
}

// Connect returns a handle bound to the given channel.
func (c *Clock) Connect(ctx context.Context, channelRef string) (playback.Handle, error) {
	if channelRef == "" {
		return nil, errors.New("channel reference is required")
	}
	zlog.Debug().Msgf("transport: connected: channel=%s", channelRef)
	return &clockHandle{
		channelRef:      channelRef,
		defaultDuration: c.defaultDuration,
		connected:       true,
	}, nil
}

type clockHandle struct {
	mu sync.Mutex

	channelRef      string
	defaultDuration time.Duration
	connected       bool

	timerCancel func()
	onFinished  playback.FinishFunc
	endTime     time.Time
	remaining   time.Duration // set while paused
	paused      bool
}

func (h *clockHandle) Play(ctx context.Context, t track.Track, onFinished playback.FinishFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.connected {
		return ErrDisconnected
	}
	h.cancelTimerLocked()

	d := t.Duration
	if d <= 0 {
		d = h.defaultDuration
	}
	h.onFinished = onFinished
	h.paused = false
	h.endTime = time.Now().Add(d)
	h.startTimerLocked(d)
	return nil
}

func (h *clockHandle) Pause(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.connected {
		return ErrDisconnected
	}
	if h.paused || h.onFinished == nil {
		return nil
	}
	h.cancelTimerLocked()
	h.remaining = time.Until(h.endTime)
	if h.remaining < 0 {
		h.remaining = 0
	}
	h.paused = true
	return nil
}

func (h *clockHandle) Resume(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.connected {
		return ErrDisconnected
	}
	if !h.paused || h.onFinished == nil {
		return nil
	}
	h.paused = false
	h.endTime = time.Now().Add(h.remaining)
	h.startTimerLocked(h.remaining)
	return nil
}

func (h *clockHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.connected {
		return ErrDisconnected
	}
	h.cancelTimerLocked()
	h.onFinished = nil
	h.paused = false
	return nil
}

func (h *clockHandle) Move(ctx context.Context, channelRef string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.connected {
		return ErrDisconnected
	}
	if channelRef == "" {
		return errors.New("channel reference is required")
	}
	zlog.Debug().Msgf("transport: moved: from=%s to=%s", h.channelRef, channelRef)
	h.channelRef = channelRef
	return nil
}

func (h *clockHandle) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cancelTimerLocked()
	h.onFinished = nil
	h.connected = false
	zlog.Debug().Msgf("transport: disconnected: channel=%s", h.channelRef)
	return nil
}

// startTimerLocked schedules the completion signal after d, using the
// wall clock so that suspend/clock-step does not shorten playback.
func (h *clockHandle) startTimerLocked(d time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	h.timerCancel = cancel

	end := time.Now().Add(d)
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if time.Now().After(end) {
					h.fire()
					return
				}
			}
		}
	}()
}

// fire delivers the completion signal exactly once.
func (h *clockHandle) fire() {
	h.mu.Lock()
	onFinished := h.onFinished
	h.onFinished = nil
	h.timerCancel = nil
	h.mu.Unlock()

	if onFinished != nil {
		onFinished(nil)
	}
}

func (h *clockHandle) cancelTimerLocked() {
	if h.timerCancel != nil {
		h.timerCancel()
		h.timerCancel = nil
	}
}
