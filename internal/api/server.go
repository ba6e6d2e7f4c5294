// Package api exposes the ops layer over a loopback HTTP/JSON endpoint
// for the UI shell.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"raygate/internal/ops"
	"raygate/pkg/jsonhelper"

	"go.uber.org/zap"
)

const DefaultAddress = "127.0.0.1:18789"

type Server struct {
	http *http.Server
	ops  *ops.Ops
}

func NewServer(addr string, o *ops.Ops) *Server {
	if addr == "" {
		addr = DefaultAddress
	}

	mux := http.NewServeMux()
	s := &Server{
		ops: o,
		http: &http.Server{
			Addr:              addr,
			Handler:           withRequestLogging(mux),
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 2 * time.Second,
			// Subscription tests can take many probe timeouts to finish.
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.HandleFunc("GET /api/status", s.handleServerStatus)
	mux.HandleFunc("POST /api/servers/start", s.handleStartServer)
	mux.HandleFunc("POST /api/servers/stop", s.handleStopServer)
	mux.HandleFunc("POST /api/subscriptions/test", s.handleTestSubscription)

	mux.HandleFunc("GET /api/logs/snapshot", s.handleLogSnapshot)
	mux.HandleFunc("GET /api/logs/batch", s.handleLogBatch)

	mux.HandleFunc("GET /api/subscriptions", s.handleListSubscriptions)
	mux.HandleFunc("GET /api/subscriptions/get", s.handleGetSubscription)
	mux.HandleFunc("POST /api/subscriptions", s.handleCreateSubscription)
	mux.HandleFunc("POST /api/subscriptions/refresh", s.handleRefreshSubscription)
	mux.HandleFunc("POST /api/subscriptions/delete", s.handleDeleteSubscription)
	mux.HandleFunc("POST /api/subscriptions/rename", s.handleRenameSubscription)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)

	mux.HandleFunc("GET /api/engine", s.handleEngineInfo)

	return s
}

func (s *Server) ListenAndServe() error {
	zap.S().Infow("ops API listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		zap.S().Debugw("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, reply any) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(jsonhelper.Encode(reply))
}

func decodeBody[T any](w http.ResponseWriter, r *http.Request, dst *T) bool {
	if err := jsonhelper.DecodeReader(r.Body, dst); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(jsonhelper.Encode(map[string]any{"success": false, "error": "invalid request body"}))
		return false
	}
	return true
}

func (s *Server) handleServerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.ops.ServerStatus())
}

func (s *Server) handleStartServer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriptionID string `json:"subscription_id"`
		ServerID       string `json:"server_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, s.ops.StartServer(req.SubscriptionID, req.ServerID))
}

func (s *Server) handleStopServer(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.ops.StopServer())
}

func (s *Server) handleTestSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriptionID string `json:"subscription_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, s.ops.TestSubscriptionServers(req.SubscriptionID))
}

func (s *Server) handleLogSnapshot(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, s.ops.LogSnapshot(limit))
}

func (s *Server) handleLogBatch(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	var sinceMs *int64
	if raw := r.URL.Query().Get("since_ms"); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			sinceMs = &ms
		}
	}
	writeJSON(w, s.ops.LogStreamBatch(sinceMs, limit))
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.ops.ListSubscriptions())
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ops.GetSubscription(r.URL.Query().Get("id")))
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, s.ops.CreateSubscription(req.Name, req.URL))
}

func (s *Server) handleRefreshSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriptionID string `json:"subscription_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, s.ops.RefreshSubscription(req.SubscriptionID))
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriptionID string `json:"subscription_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, s.ops.DeleteSubscription(req.SubscriptionID))
}

func (s *Server) handleRenameSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriptionID string `json:"subscription_id"`
		Name           string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, s.ops.RenameSubscription(req.SubscriptionID, req.Name))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.ops.GetSettings())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch ops.SettingsPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	writeJSON(w, s.ops.UpdateSettings(patch))
}

func (s *Server) handleEngineInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.ops.EngineInfo())
}
