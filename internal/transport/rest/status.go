// Package rest serves the read-only status endpoints of a long-running
// watcher: liveness, readiness, a component health report and metrics.
package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heartmarshall/tumorboard/internal/service/session"
	"github.com/heartmarshall/tumorboard/internal/transport/middleware"
)

const checkTimeout = 3 * time.Second

type storePinger interface {
	Ping(ctx context.Context) error
}

type snapshotLister interface {
	ListSnapshots(ctx context.Context) ([]session.SnapshotInfo, error)
}

// StatusHandler reports the health of the store and the data root.
type StatusHandler struct {
	store     storePinger
	snapshots snapshotLister
	dataRoot  string
	version   string
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(store storePinger, snapshots snapshotLister, dataRoot, version string) *StatusHandler {
	return &StatusHandler{store: store, snapshots: snapshots, dataRoot: dataRoot, version: version}
}

// StatusResponse is the body of every status endpoint.
type StatusResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentStatus `json:"components,omitempty"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// ComponentStatus is the state of one checked component.
type ComponentStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Live always answers 200.
func (h *StatusHandler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok", Timestamp: time.Now()})
}

// Ready answers 200 when the store responds, 503 otherwise.
func (h *StatusHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, StatusResponse{Status: "down", Timestamp: time.Now()})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok", Timestamp: time.Now()})
}

// Health checks every component. Pending snapshots are reported but do not
// make the process unhealthy.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	components := make(map[string]ComponentStatus, 3)
	healthy := true

	start := time.Now()
	if err := h.store.Ping(ctx); err != nil {
		components["store"] = ComponentStatus{Status: "down", Detail: err.Error()}
		healthy = false
	} else {
		components["store"] = ComponentStatus{Status: "ok", Latency: time.Since(start).String()}
	}

	if _, err := os.Stat(h.dataRoot); err != nil {
		components["data_root"] = ComponentStatus{Status: "down", Detail: err.Error()}
		healthy = false
	} else {
		components["data_root"] = ComponentStatus{Status: "ok"}
	}

	switch snaps, err := h.snapshots.ListSnapshots(ctx); {
	case err != nil:
		components["snapshots"] = ComponentStatus{Status: "unknown", Detail: err.Error()}
	case len(snaps) > 0:
		components["snapshots"] = ComponentStatus{Status: "pending", Detail: pendingDetail(snaps)}
	default:
		components["snapshots"] = ComponentStatus{Status: "ok"}
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "down", http.StatusServiceUnavailable
	}
	writeJSON(w, code, StatusResponse{
		Status:     status,
		Version:    h.version,
		Components: components,
		Timestamp:  time.Now(),
	})
}

func pendingDetail(snaps []session.SnapshotInfo) string {
	keys := make([]string, len(snaps))
	for i, s := range snaps {
		keys[i] = s.Key.String()
	}
	return strings.Join(keys, ", ")
}

// NewRouter mounts the status endpoints and the metrics of reg.
func NewRouter(h *StatusHandler, reg *prometheus.Registry, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /live", h.Live)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return middleware.Chain(
		middleware.Recovery(log),
		middleware.OperationID,
		middleware.Logger(log),
	)(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
