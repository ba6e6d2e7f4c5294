package models

import "fmt"

type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
	LogLevelNone    LogLevel = "none"
)

func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelNone:
		return true
	}
	return false
}

// Settings is the persisted user settings document. It is owned by the
// storage collaborator; the supervisor only reads it.
type Settings struct {
	SocksPort       *int     `json:"socks_port" toml:"socks_port"`
	HTTPPort        *int     `json:"http_port" toml:"http_port"`
	EngineBinary    string   `json:"engine_binary" toml:"engine_binary"`
	EngineAssetsDir string   `json:"engine_assets_dir" toml:"engine_assets_dir"`
	EngineLogLevel  LogLevel `json:"engine_log_level" toml:"engine_log_level"`
	SystemProxy     bool     `json:"system_proxy" toml:"system_proxy"`
}

func DefaultSettings() *Settings {
	return &Settings{
		EngineLogLevel: LogLevelWarning,
		SystemProxy:    true,
	}
}

func (s *Settings) Validate() error {
	if s.SocksPort != nil && (*s.SocksPort < 1 || *s.SocksPort > 65535) {
		return fmt.Errorf("socks port %d out of range", *s.SocksPort)
	}
	if s.HTTPPort != nil && (*s.HTTPPort < 1 || *s.HTTPPort > 65535) {
		return fmt.Errorf("http port %d out of range", *s.HTTPPort)
	}
	if s.SocksPort != nil && s.HTTPPort != nil && *s.SocksPort == *s.HTTPPort {
		return fmt.Errorf("socks and http ports cannot be the same")
	}
	if s.EngineLogLevel != "" && !s.EngineLogLevel.Valid() {
		return fmt.Errorf("invalid engine log level %q", s.EngineLogLevel)
	}
	return nil
}
