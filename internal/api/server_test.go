package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"raygate/internal/engine"
	"raygate/internal/ops"
	"raygate/internal/storage"
	"raygate/internal/subscription"
	"raygate/pkg/jsonhelper"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()

	appStorage, err := storage.NewAppStorageAt(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	store, err := storage.NewStore(appStorage)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	sup := engine.NewSupervisor(store, "/nonexistent/xray")
	t.Cleanup(sup.ShutdownAll)
	prober := engine.NewProber(sup, engine.NewPortAllocator())
	svc := subscription.NewService(time.Second)

	server := NewServer("", ops.New(store, sup, prober, svc, time.Second))
	return server.http.Handler
}

func TestStatusEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var reply ops.ServerStatusReply
	if err := jsonhelper.DecodeReader(rec.Body, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !reply.Success {
		t.Errorf("idle status not successful: %s", reply.Error)
	}
	if reply.State != "stopped" {
		t.Errorf("state = %q, want stopped", reply.State)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/servers/start", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status code = %d, want 400", rec.Code)
	}
}

func TestMethodMismatch(t *testing.T) {
	handler := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST to a GET route: status = %d, want 405", rec.Code)
	}
}

func TestSettingsRoundTripOverHTTP(t *testing.T) {
	handler := newTestHandler(t)

	body := strings.NewReader(`{"socks_port": 2080}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/settings", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))

	var reply ops.SettingsReply
	if err := jsonhelper.DecodeReader(rec.Body, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Settings.SocksPort == nil || *reply.Settings.SocksPort != 2080 {
		t.Errorf("socks port = %v, want 2080", reply.Settings.SocksPort)
	}
}
