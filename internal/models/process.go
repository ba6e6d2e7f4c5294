package models

import (
	"time"

	"github.com/google/uuid"
)

// RunningProcess exists only while an engine process is alive. Config is
// the runtime configuration after overrides, distinct from the stored raw
// configuration.
type RunningProcess struct {
	ServerID       uuid.UUID      `json:"server_id"`
	SubscriptionID uuid.UUID      `json:"subscription_id"`
	PID            int            `json:"process_id"`
	StartTime      time.Time      `json:"start_time"`
	Config         map[string]any `json:"-"`
}

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// ConnectivityResult is the outcome of a single probe through an engine
// instance. PingMs is set only on success, Error only on failure.
type ConnectivityResult struct {
	ServerID  uuid.UUID `json:"server_id"`
	Remarks   string    `json:"remarks"`
	Success   bool      `json:"success"`
	PingMs    *int      `json:"ping_ms"`
	Error     *string   `json:"error"`
	SocksPort int       `json:"socks_port"`
	HTTPPort  int       `json:"http_port"`
}

// EngineInfo is the result of probing `<binary> version`.
type EngineInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
	Arch      string `json:"arch,omitempty"`
	Error     string `json:"error,omitempty"`
}
