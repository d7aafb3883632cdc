package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/heartmarshall/tumorboard/internal/domain"
	"github.com/heartmarshall/tumorboard/internal/metrics"
	"github.com/heartmarshall/tumorboard/internal/service/session"
)

type storePingerMock struct {
	err error
}

func (m *storePingerMock) Ping(context.Context) error { return m.err }

type snapshotListerMock struct {
	snaps []session.SnapshotInfo
	err   error
}

func (m *snapshotListerMock) ListSnapshots(context.Context) ([]session.SnapshotInfo, error) {
	return m.snaps, m.err
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) StatusResponse {
	t.Helper()
	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestLive(t *testing.T) {
	t.Parallel()

	h := NewStatusHandler(&storePingerMock{err: errors.New("down")}, &snapshotListerMock{}, t.TempDir(), "v")
	rec := httptest.NewRecorder()
	h.Live(rec, httptest.NewRequest(http.MethodGet, "/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp := decode(t, rec); resp.Status != "ok" || resp.Timestamp.IsZero() {
		t.Errorf("response = %+v", resp)
	}
}

func TestReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pingErr  error
		wantCode int
		want     string
	}{
		{"store up", nil, http.StatusOK, "ok"},
		{"store down", errors.New("disk I/O error"), http.StatusServiceUnavailable, "down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewStatusHandler(&storePingerMock{err: tt.pingErr}, &snapshotListerMock{}, t.TempDir(), "v")
			rec := httptest.NewRecorder()
			h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if resp := decode(t, rec); resp.Status != tt.want {
				t.Errorf("Status = %q, want %q", resp.Status, tt.want)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	pending := []session.SnapshotInfo{{
		Key:        domain.NewSessionKey("Thorax", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		ModifiedAt: time.Now(),
	}}

	tests := []struct {
		name          string
		pingErr       error
		dataRoot      string
		snaps         []session.SnapshotInfo
		listErr       error
		wantCode      int
		wantSnapshots string
	}{
		{name: "all ok", wantCode: http.StatusOK, wantSnapshots: "ok"},
		{name: "pending snapshot stays healthy", snaps: pending, wantCode: http.StatusOK, wantSnapshots: "pending"},
		{name: "listing fails", listErr: errors.New("denied"), wantCode: http.StatusOK, wantSnapshots: "unknown"},
		{name: "store down", pingErr: errors.New("locked"), wantCode: http.StatusServiceUnavailable, wantSnapshots: "ok"},
		{name: "missing data root", dataRoot: "/nonexistent/tumorboard", wantCode: http.StatusServiceUnavailable, wantSnapshots: "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root := tt.dataRoot
			if root == "" {
				root = t.TempDir()
			}
			h := NewStatusHandler(&storePingerMock{err: tt.pingErr}, &snapshotListerMock{snaps: tt.snaps, err: tt.listErr}, root, "1.2.3")
			rec := httptest.NewRecorder()
			h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			resp := decode(t, rec)
			if resp.Version != "1.2.3" {
				t.Errorf("Version = %q", resp.Version)
			}
			if got := resp.Components["snapshots"].Status; got != tt.wantSnapshots {
				t.Errorf("snapshots = %q, want %q", got, tt.wantSnapshots)
			}
			if tt.snaps != nil && !strings.Contains(resp.Components["snapshots"].Detail, "Thorax@2024-06-01") {
				t.Errorf("snapshot detail = %q", resp.Components["snapshots"].Detail)
			}
		})
	}
}

func TestRouter(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.Routed.WithLabelValues("urgent").Inc()
	h := NewStatusHandler(&storePingerMock{}, &snapshotListerMock{}, t.TempDir(), "v")
	srv := httptest.NewServer(NewRouter(h, m.Registry(), slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `tumorboard_router_records_routed_total{category="urgent"} 1`) {
		t.Errorf("metrics body lacks routed counter:\n%s", body)
	}
	if resp.Header.Get("X-Operation-Id") == "" {
		t.Error("missing operation id header")
	}

	resp, err = http.Post(srv.URL+"/live", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /live = %d, want 405", resp.StatusCode)
	}
}
