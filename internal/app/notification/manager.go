// Package notification provides the notification hub used to report
// orchestrator events to the external front-end.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hiroq/otobox/internal/domain/track"
)

// Type represents a notification type.
type Type int

const (
	TypeTrackStarted     Type = iota // Playback began for a track
	TypeTrackFailed                  // Transport reported a playback error
	TypeStateChanged                 // Session state changed
	TypeQueueEmpty                   // Session queue drained
	TypeIngestCompleted              // Background playlist ingestion finished
	TypeSessionDestroyed             // Session was torn down
)

// String returns the string representation of the type.
func (t Type) String() string {
	switch t {
	case TypeTrackStarted:
		return "track_started"
	case TypeTrackFailed:
		return "track_failed"
	case TypeStateChanged:
		return "state_changed"
	case TypeQueueEmpty:
		return "queue_empty"
	case TypeIngestCompleted:
		return "ingest_completed"
	case TypeSessionDestroyed:
		return "session_destroyed"
	default:
		return "unknown"
	}
}

// Notification is a single event report delivered to subscribers.
type Notification struct {
	SequenceNo uint64
	Type       Type
	SessionKey string
	Track      *track.Track // Present for track notifications
	State      string       // Session state after the event
	Accepted   int          // Ingest report: tracks added
	Failed     []string     // Ingest report: unresolvable entry IDs
}

// Stream receives notifications for one subscriber.
type Stream interface {
	Send(*Notification) error
}

// Manager fans notifications out to subscribers.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]Stream
	sequenceNo    uint64
	sendTimeout   time.Duration
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]Stream),
		sendTimeout:   500 * time.Millisecond,
	}
}

// Subscribe registers a stream and returns its subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = stream
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Broadcast assigns a sequence number and delivers the notification to
// all subscribers in parallel. A slow subscriber is abandoned after the
// send timeout so it cannot stall the others.
func (m *Manager) Broadcast(n *Notification) {
	m.mu.Lock()
	m.sequenceNo++
	n.SequenceNo = m.sequenceNo
	streams := make([]Stream, 0, len(m.subscriptions))
	for _, s := range m.subscriptions {
		streams = append(streams, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, stream := range streams {
		wg.Add(1)
		go func(s Stream) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- s.Send(n) }()

			select {
			case <-done:
			case <-ctx.Done():
			}
		}(stream)
	}
	wg.Wait()
}

// IngestCompleted broadcasts a background-ingestion summary for a
// session. Implements the ingest notifier contract.
func (m *Manager) IngestCompleted(sessionKey string, accepted int, failed []string) {
	m.Broadcast(&Notification{
		Type:       TypeIngestCompleted,
		SessionKey: sessionKey,
		Accepted:   accepted,
		Failed:     failed,
	})
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]Stream)
}
