// Package httpapi serves the relay's HTTP side: the WebSocket endpoint,
// Prometheus metrics and a health probe.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stats reports live relay counters for the health probe.
type Stats interface {
	PeerCount() int
	SessionCount() int
}

// Health is the body of GET /healthz.
type Health struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Sessions    int    `json:"sessions"`
}

// NewRouter mounts ws at /ws when it is non-nil.
func NewRouter(ws http.Handler, gatherer prometheus.Gatherer, stats Stats) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Health{
			Status:      "ok",
			Connections: stats.PeerCount(),
			Sessions:    stats.SessionCount(),
		})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if ws != nil {
		r.Get("/ws", ws.ServeHTTP)
	}
	return r
}
