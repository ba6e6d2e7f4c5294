package engine

import (
	"errors"
	"fmt"
)

var (
	ErrNoPortAvailable = errors.New("no available ports found")
	ErrAlreadyRunning  = errors.New("server is already running")
	ErrNotRunning      = errors.New("server is not running")
)

// StartError reports an engine process that could not be started or died
// during the grace period. Detail carries the captured output tail.
type StartError struct {
	Detail string
}

func (e *StartError) Error() string {
	return e.Detail
}

// StopError reports an OS-level failure while signalling or reaping a
// process. "Not running" is never a StopError.
type StopError struct {
	Err error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("failed to stop server: %v", e.Err)
}

func (e *StopError) Unwrap() error {
	return e.Err
}
