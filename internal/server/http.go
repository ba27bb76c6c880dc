// Package server provides the ops HTTP surface: health, session
// snapshots and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"

	"github.com/hiroq/otobox/internal/app/playback"
	"github.com/hiroq/otobox/internal/app/session"
)

// HTTPServer serves monitoring endpoints for the orchestrator.
type HTTPServer struct {
	server    *http.Server
	registry  *session.Registry
	startTime time.Time
}

// NewHTTPServer creates the ops server on addr, exposing metrics from
// the given Prometheus gatherer.
func NewHTTPServer(addr string, reg *session.Registry, gatherer prometheus.Gatherer) *HTTPServer {
	h := &HTTPServer{
		registry:  reg,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/sessions", h.handleSessions)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	h.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return h
}

// Start begins serving in a background goroutine.
func (h *HTTPServer) Start() {
	go func() {
		zlog.Info().Msgf("http: listening: addr=%s", h.server.Addr)
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error().Msgf("http: server error: %v", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Sessions      int    `json:"sessions"`
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Sessions:      h.registry.Count(),
	})
}

type sessionView struct {
	Key            string   `json:"key"`
	State          string   `json:"state"`
	Current        string   `json:"current,omitempty"`
	ElapsedSeconds int64    `json:"elapsed_seconds"`
	DurationSec    int64    `json:"duration_seconds"`
	LoopEnabled    bool     `json:"loop_enabled"`
	QueueLen       int      `json:"queue_len"`
	Upcoming       []string `json:"upcoming,omitempty"`
}

func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	snaps := h.registry.Snapshots()
	views := make([]sessionView, 0, len(snaps))
	for _, s := range snaps {
		views = append(views, viewOf(s))
	}
	writeJSON(w, http.StatusOK, views)
}

func viewOf(s playback.Snapshot) sessionView {
	v := sessionView{
		Key:            s.Key,
		State:          s.State.String(),
		ElapsedSeconds: int64(s.Elapsed.Seconds()),
		DurationSec:    int64(s.Duration.Seconds()),
		LoopEnabled:    s.LoopEnabled,
		QueueLen:       s.QueueLen,
	}
	if s.Current != nil {
		v.Current = s.Current.Title
	}
	for _, t := range s.Upcoming {
		v.Upcoming = append(v.Upcoming, t.Title)
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zlog.Error().Msgf("http: encode response failed: %v", err)
	}
}
