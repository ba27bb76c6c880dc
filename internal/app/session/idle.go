package session

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// IdleMonitor periodically disconnects sessions with no channel
// activity past the timeout.
type IdleMonitor struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
}

// NewIdleMonitor creates a monitor sweeping every interval (default
// 60s) and destroying sessions idle for at least timeout (default 30m).
func NewIdleMonitor(registry *Registry, interval, timeout time.Duration) *IdleMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &IdleMonitor{
		registry: registry,
		interval: interval,
		timeout:  timeout,
	}
}

// Run sweeps until the context is cancelled.
func (m *IdleMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	zlog.Info().Msgf("idle monitor: started: interval=%v timeout=%v", m.interval, m.timeout)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep destroys all sessions idle past the timeout and returns how
// many were destroyed. A session disappearing between scan and destroy
// is treated as already handled.
func (m *IdleMonitor) Sweep() int {
	destroyed := 0
	for _, key := range m.registry.Keys() {
		if m.registry.DestroyIfIdle(key, m.timeout) {
			destroyed++
		}
	}
	if destroyed > 0 {
		zlog.Info().Msgf("idle monitor: swept: destroyed=%d", destroyed)
	}
	return destroyed
}
