// Package vpn provides OpenVPN session management for ovpnctl.
// This file contains the process launch abstraction used to start OpenVPN
// with elevated privileges.
package vpn

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/yllada/ovpnctl/common"
)

// Launcher abstracts spawning and supervising the external OpenVPN process.
// Elevation is the launcher's concern: the production implementation runs
// the program through a privilege-escalation wrapper, while tests substitute
// a fake.
type Launcher interface {
	// Start launches the program. It does not wait for startup.
	Start(program string, args ...string) error
	// WaitStarted blocks until the process has confirmed startup or the
	// timeout expires.
	WaitStarted(timeout time.Duration) error
	// WaitExited blocks until the process has exited or the timeout
	// expires, returning ErrTimeout in the latter case.
	WaitExited(timeout time.Duration) error
	// Running reports whether the process is currently alive.
	Running() bool
	// Kill forcibly terminates the process. Best effort.
	Kill() error
}

// ExecLauncher is the os/exec backed Launcher used in production.
type ExecLauncher struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	started chan struct{}
	exited  chan struct{}
}

// NewExecLauncher creates a launcher with no associated process.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

// Start launches the program with the given arguments. Process output is
// discarded; all diagnostics flow through the management interface.
func (l *ExecLauncher) Start(program string, args ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd != nil && l.isRunning() {
		return errors.New("process already running")
	}

	cmd := exec.Command(program, args...)
	started := make(chan struct{})
	exited := make(chan struct{})

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrProcessSpawn, err)
	}
	close(started)

	go func() {
		cmd.Wait()
		close(exited)
	}()

	l.cmd = cmd
	l.started = started
	l.exited = exited
	return nil
}

// WaitStarted waits for startup confirmation. A process that exited before
// confirming startup is reported as a spawn failure, which catches the
// elevation wrapper being dismissed or failing authentication.
func (l *ExecLauncher) WaitStarted(timeout time.Duration) error {
	l.mu.Lock()
	cmd, started, exited := l.cmd, l.started, l.exited
	l.mu.Unlock()

	if cmd == nil {
		return common.ErrProcessSpawn
	}

	select {
	case <-exited:
		return fmt.Errorf("%w: process exited during startup", common.ErrProcessSpawn)
	default:
	}

	select {
	case <-started:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w: %v", common.ErrProcessSpawn, common.ErrTimeout)
	}
}

// WaitExited waits for the process to exit.
func (l *ExecLauncher) WaitExited(timeout time.Duration) error {
	l.mu.Lock()
	cmd, exited := l.cmd, l.exited
	l.mu.Unlock()

	if cmd == nil {
		return nil
	}

	select {
	case <-exited:
		return nil
	case <-time.After(timeout):
		return common.ErrTimeout
	}
}

// Running reports whether the process is alive.
func (l *ExecLauncher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cmd != nil && l.isRunning()
}

// isRunning must be called with the mutex held.
func (l *ExecLauncher) isRunning() bool {
	select {
	case <-l.exited:
		return false
	default:
		return true
	}
}

// Kill forcibly terminates the process.
func (l *ExecLauncher) Kill() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd == nil || l.cmd.Process == nil || !l.isRunning() {
		return nil
	}
	return l.cmd.Process.Kill()
}
