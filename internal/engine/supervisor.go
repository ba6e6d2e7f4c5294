package engine

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"raygate/internal/models"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
)

const (
	startGraceDelay = 100 * time.Millisecond
	stopTimeout     = 10 * time.Second
	restartSettle   = time.Second

	assetsEnvVar = "XRAY_LOCATION_ASSET"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SettingsSource yields the persisted user settings consulted on every
// process start (binary path, assets dir, log level).
type SettingsSource interface {
	GetSettings() *models.Settings
}

type procHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (h *procHandle) alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Supervisor owns every live engine process. At most one process carries
// the "current" marker; ephemeral test processes are tracked but never
// current. All shared state sits behind one coarse mutex so that start,
// stop and crash detection cannot race.
type Supervisor struct {
	mu            sync.Mutex
	settings      SettingsSource
	defaultBinary string
	running       map[uuid.UUID]*models.RunningProcess
	handles       map[uuid.UUID]*procHandle
	logs          *LogCollector
	currentID     uuid.UUID
}

func NewSupervisor(settings SettingsSource, defaultBinary string) *Supervisor {
	return &Supervisor{
		settings:      settings,
		defaultBinary: defaultBinary,
		running:       make(map[uuid.UUID]*models.RunningProcess),
		handles:       make(map[uuid.UUID]*procHandle),
		logs:          NewLogCollector(),
	}
}

func (s *Supervisor) Logs() *LogCollector {
	return s.logs
}

// EffectiveBinary resolves the engine binary: configured setting, then
// system PATH, then the platform default.
func (s *Supervisor) EffectiveBinary() string {
	if set := s.settings.GetSettings(); set.EngineBinary != "" {
		return set.EngineBinary
	}
	if p, err := exec.LookPath("xray"); err == nil {
		return p
	}
	if p, err := exec.LookPath("xray.exe"); err == nil {
		return p
	}
	if s.defaultBinary != "" {
		return s.defaultBinary
	}
	if runtime.GOOS == "windows" {
		return `C:\Program Files\Xray\xray.exe`
	}
	return "/usr/bin/xray"
}

// StartSingle starts serverID as the current server, synchronously
// stopping whichever server held the marker before. Port overrides apply
// to the runtime configuration only.
func (s *Supervisor) StartSingle(serverID, subscriptionID uuid.UUID, raw map[string]any, socksPort, httpPort *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentID != uuid.Nil && s.currentID != serverID && s.isRunningLocked(s.currentID) {
		log.WithFields(log.Fields{
			"current": s.currentID,
			"next":    serverID,
		}).Info("stopping current server before starting new one")
		if err := s.stopLocked(s.currentID); err != nil {
			log.WithField("server", s.currentID).WithError(err).Warn("failed to stop current server")
		}
	}

	if err := s.startLocked(serverID, subscriptionID, raw, socksPort, httpPort); err != nil {
		return err
	}
	s.currentID = serverID
	return nil
}

// Start launches an engine process without touching the current marker.
// Used for ephemeral connectivity-test instances.
func (s *Supervisor) Start(serverID, subscriptionID uuid.UUID, raw map[string]any, socksPort, httpPort *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(serverID, subscriptionID, raw, socksPort, httpPort)
}

func (s *Supervisor) startLocked(serverID, subscriptionID uuid.UUID, raw map[string]any, socksPort, httpPort *int) error {
	if _, exists := s.handles[serverID]; exists {
		return ErrAlreadyRunning
	}

	set := s.settings.GetSettings()
	runtimeCfg := buildRuntimeConfig(raw, socksPort, httpPort, set.EngineLogLevel)

	configJSON, err := json.Marshal(runtimeCfg)
	if err != nil {
		return &StartError{Detail: fmt.Sprintf("failed to serialize runtime config: %v", err)}
	}

	binary := s.EffectiveBinary()
	logger := log.WithFields(log.Fields{
		"server": serverID,
		"binary": binary,
	})

	// The config travels over stdin so no artifact is left on disk.
	cmd := exec.Command(binary, "run", "-config", "stdin:")
	if set.EngineAssetsDir != "" {
		cmd.Env = append(os.Environ(), assetsEnvVar+"="+set.EngineAssetsDir)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &StartError{Detail: fmt.Sprintf("failed to open stdin pipe: %v", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &StartError{Detail: fmt.Sprintf("failed to open stdout pipe: %v", err)}
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return &StartError{Detail: fmt.Sprintf("failed to start engine binary %s: %v", binary, err)}
	}

	if _, err := stdin.Write(configJSON); err != nil {
		logger.WithError(err).Warn("failed to deliver config over stdin")
	}
	stdin.Close()

	readerDone := s.logs.Attach(serverID, stdout)

	h := &procHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		// Reap only after the log reader has hit EOF so Wait cannot close
		// the pipe underneath it.
		<-readerDone
		_ = cmd.Wait()
		close(h.done)
	}()

	s.running[serverID] = &models.RunningProcess{
		ServerID:       serverID,
		SubscriptionID: subscriptionID,
		PID:            cmd.Process.Pid,
		StartTime:      time.Now(),
		Config:         runtimeCfg,
	}
	s.handles[serverID] = h

	// Grace period: an engine with a broken config exits almost at once.
	time.Sleep(startGraceDelay)

	if !h.alive() {
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		detail := fmt.Sprintf("process exited with code %d", exitCode)
		if tail := s.logs.Snapshot(serverID, 20); len(tail) > 0 {
			lines := make([]string, 0, len(tail))
			for _, entry := range tail {
				lines = append(lines, entry.Message)
			}
			detail = fmt.Sprintf("%s. Error: %s", detail, strings.Join(lines, "\n"))
		}
		logger.WithField("detail", detail).Error("engine process died during grace period")
		s.deregisterLocked(serverID)
		return &StartError{Detail: detail}
	}

	logger.WithField("pid", cmd.Process.Pid).Info("started engine process")
	return nil
}

// Stop terminates the process gracefully, escalating to a kill after the
// stop timeout. Tracking state and the current marker are always released.
func (s *Supervisor) Stop(serverID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(serverID)
}

func (s *Supervisor) stopLocked(serverID uuid.UUID) error {
	h, exists := s.handles[serverID]
	if !exists {
		return ErrNotRunning
	}

	logger := log.WithField("server", serverID)

	var stopErr error
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.WithError(err).Debug("terminate signal failed, will kill")
	}

	select {
	case <-h.done:
	case <-time.After(stopTimeout):
		logger.Warn("engine process ignored terminate signal, killing")
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			stopErr = &StopError{Err: err}
		}
		<-h.done
	}

	s.deregisterLocked(serverID)

	if stopErr != nil {
		return stopErr
	}
	logger.Info("stopped engine process")
	return nil
}

// Restart stops the server if running, waits for the engine to settle and
// starts it again as the current server. Used after settings, binary or
// geo-data changes.
func (s *Supervisor) Restart(serverID, subscriptionID uuid.UUID, raw map[string]any, socksPort, httpPort *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.handles[serverID]; exists {
		if err := s.stopLocked(serverID); err != nil {
			return err
		}
		time.Sleep(restartSettle)
	}

	if err := s.startLocked(serverID, subscriptionID, raw, socksPort, httpPort); err != nil {
		return err
	}
	s.currentID = serverID
	return nil
}

// deregisterLocked releases every tracking entry for the server. It only
// removes state, never creates it, so crash detection stays idempotent.
func (s *Supervisor) deregisterLocked(serverID uuid.UUID) {
	delete(s.running, serverID)
	delete(s.handles, serverID)
	s.logs.Detach(serverID)
	if s.currentID == serverID {
		s.currentID = uuid.Nil
	}
}

// IsRunning reports whether the server's process is alive, lazily
// de-registering processes that died without an explicit Stop.
func (s *Supervisor) IsRunning(serverID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunningLocked(serverID)
}

func (s *Supervisor) isRunningLocked(serverID uuid.UUID) bool {
	h, exists := s.handles[serverID]
	if !exists {
		return false
	}
	if !h.alive() {
		log.WithField("server", serverID).Info("engine process died, cleaning up")
		s.deregisterLocked(serverID)
		return false
	}
	return true
}

func (s *Supervisor) CurrentID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

func (s *Supervisor) IsAnyRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID != uuid.Nil && s.isRunningLocked(s.currentID)
}

// Info returns a copy of the running-process record, or nil.
func (s *Supervisor) Info(serverID uuid.UUID) *models.RunningProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, exists := s.running[serverID]
	if !exists {
		return nil
	}
	cp := *info
	return &cp
}

func (s *Supervisor) CurrentInfo() *models.RunningProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentID == uuid.Nil {
		return nil
	}
	info, exists := s.running[s.currentID]
	if !exists {
		return nil
	}
	cp := *info
	return &cp
}

// PortInfo reads back the inbound ports of the server's runtime
// configuration.
func (s *Supervisor) PortInfo(serverID uuid.UUID) []models.PortInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, exists := s.running[serverID]
	if !exists {
		return nil
	}
	return extractPortInfo(info.Config)
}

func (s *Supervisor) StopCurrent() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentID == uuid.Nil {
		return nil
	}
	return s.stopLocked(s.currentID)
}

// ShutdownAll stops every tracked process, current or not.
func (s *Supervisor) ShutdownAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for serverID := range s.handles {
		if err := s.stopLocked(serverID); err != nil {
			log.WithField("server", serverID).WithError(err).Warn("failed to stop server during shutdown")
		}
	}
	log.Info("all engine processes stopped")
}
