// Package process supervises embedded server instances: it launches the
// server binary against a rendered configuration, detects readiness by
// polling, monitors liveness, performs two-phase graceful shutdown, and keeps
// a process-wide registry so abandoned instances can still be swept.
package process

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/falkorlite/falkorlite/config"
	"github.com/falkorlite/falkorlite/workspace"
)

// State is the lifecycle state of a supervised server process.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateStopping
	StateStopped
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateStarting:
		return "Starting"
	case StateReady:
		return "Ready"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateCrashed:
		return "Crashed"
	default:
		return "InvalidState"
	}
}

// Tunables with package defaults. The ready marker and the polling constants
// depend on the wrapped server version, so they are options rather than
// hard-coded assumptions.
const (
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultStartupTimeout = 15 * time.Second
	DefaultGracePeriod    = 10 * time.Second

	// DefaultReadyMarker is the log line Redis-family servers emit once they
	// are accepting connections. Used only as a secondary readiness signal.
	DefaultReadyMarker = "Ready to accept connections"

	defaultLogTailBytes = 4 * 1024
)

// Options configures a supervisor.
type Options struct {
	// BinaryPath is the server executable, invoked as `<binary> <config-path>`.
	BinaryPath string

	Logger         *slog.Logger  // defaults to slog.Default()
	PollInterval   time.Duration // readiness probe interval
	StartupTimeout time.Duration // default WaitReady budget
	ReadyMarker    string        // log marker used as a secondary ready signal
	LogTailBytes   int           // how much of the log to capture into errors
}

func (o *Options) normalize() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = DefaultStartupTimeout
	}
	if o.ReadyMarker == "" {
		o.ReadyMarker = DefaultReadyMarker
	}
	if o.LogTailBytes <= 0 {
		o.LogTailBytes = defaultLogTailBytes
	}
}

// Supervisor owns exactly one server process and its workspace. It is created
// by Start and is safe for concurrent use.
type Supervisor struct {
	identity *workspace.Identity
	opts     Options
	logger   *slog.Logger

	cmd *exec.Cmd
	pid int

	mu       sync.Mutex
	state    State
	released bool

	// exitCh is closed by the wait goroutine once the process has exited;
	// exitErr is set before the close.
	exitCh  chan struct{}
	exitErr error

	shutdownOnce sync.Once
	shutdownErr  error
}

// Start writes the instance configuration into the workspace, launches the
// server binary with the config file as its only argument and the instance
// log file as its combined output, and registers the supervisor for the
// process-exit sweep. The returned supervisor is in Starting state; call
// WaitReady before using the endpoint. On any failure the workspace is
// released before the error is returned.
func Start(id *workspace.Identity, cfg *config.Config, opts Options) (*Supervisor, error) {
	opts.normalize()
	logger := opts.Logger.With("component", "Supervisor", "instanceID", id.ID)

	if opts.BinaryPath == "" {
		id.Release(logger)
		return nil, fmt.Errorf("process: server binary path is required")
	}

	if err := cfg.WriteFile(id.ConfigPath); err != nil {
		id.Release(logger)
		return nil, err
	}

	logFile, err := os.OpenFile(id.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		id.Release(logger)
		return nil, fmt.Errorf("process: opening instance log: %w", err)
	}

	cmd := exec.Command(opts.BinaryPath, id.ConfigPath)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		id.Release(logger)
		return nil, &StartupCrashError{Err: fmt.Errorf("launching %s: %w", opts.BinaryPath, err)}
	}
	// The child holds its own duplicate of the log descriptor.
	logFile.Close()

	s := &Supervisor{
		identity: id,
		opts:     opts,
		logger:   logger,
		cmd:      cmd,
		pid:      cmd.Process.Pid,
		state:    StateStarting,
		exitCh:   make(chan struct{}),
	}

	if err := os.WriteFile(id.PIDPath, []byte(strconv.Itoa(s.pid)), 0o600); err != nil {
		logger.Warn("Failed to write pid file", "error", err)
	}

	go s.watchExit()
	register(s)

	logger.Info("Server process started", "pid", s.pid, "binary", opts.BinaryPath)
	return s, nil
}

// watchExit reaps the child and records the crash if it died after Ready.
func (s *Supervisor) watchExit() {
	err := s.cmd.Wait()

	s.mu.Lock()
	s.exitErr = err
	if s.state == StateReady {
		s.state = StateCrashed
		s.logger.Error("Server process exited unexpectedly", "pid", s.pid, "error", err)
	}
	s.mu.Unlock()

	close(s.exitCh)
}

// Identity returns the instance identity this supervisor owns.
func (s *Supervisor) Identity() *workspace.Identity { return s.identity }

// PID returns the OS process id of the server.
func (s *Supervisor) PID() int { return s.pid }

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsAlive reports whether the server process is still running. It is a
// non-blocking probe suitable for fail-fast checks before forwarding
// operations.
func (s *Supervisor) IsAlive() bool {
	select {
	case <-s.exitCh:
		return false
	default:
		return true
	}
}

// EnsureAlive returns nil while the process is running. Once the process has
// died unexpectedly it returns *ProcessCrashedError, and keeps doing so: the
// crashed condition is sticky.
func (s *Supervisor) EnsureAlive() error {
	if s.IsAlive() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateStopping, StateStopped:
		return nil
	case StateReady:
		s.state = StateCrashed
	}
	return &ProcessCrashedError{InstanceID: s.identity.ID, PID: s.pid}
}

// Shutdown stops the server: it sends SIGTERM, waits up to grace for a
// voluntary exit and escalates to SIGKILL. On return the workspace has been
// released and the supervisor deregistered, in that order; that cleanup runs
// even when the kill escalation itself fails, which is the one condition
// Shutdown reports as an error. Shutdown is idempotent; stopping an
// already-stopped or crashed process is a no-op beyond cleanup.
func (s *Supervisor) Shutdown(grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(grace)
	})
	return s.shutdownErr
}

func (s *Supervisor) shutdown(grace time.Duration) error {
	s.mu.Lock()
	alreadyDead := false
	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		return nil
	case StateCrashed:
		alreadyDead = true
	}
	s.state = StateStopping
	s.mu.Unlock()

	var killErr error
	if !alreadyDead && s.IsAlive() {
		s.logger.Info("Stopping server process", "pid", s.pid, "grace", grace)
		if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.logger.Warn("Failed to signal server process", "pid", s.pid, "error", err)
		}

		timer := time.NewTimer(grace)
		select {
		case <-s.exitCh:
			timer.Stop()
			s.logger.Info("Server process exited gracefully", "pid", s.pid)
		case <-timer.C:
			s.logger.Warn("Server process did not exit within grace period, killing", "pid", s.pid)
			if err := s.cmd.Process.Kill(); err != nil {
				s.logger.Error("Failed to kill server process", "pid", s.pid, "error", err)
				killErr = fmt.Errorf("process: killing server pid %d: %w", s.pid, err)
			} else {
				<-s.exitCh
			}
		}
	} else {
		// Process already gone; make sure the reaper has run.
		<-s.exitCh
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.releaseWorkspace()
	deregister(s)
	return killErr
}

// releaseWorkspace removes the instance directory exactly once. Failures are
// logged, never returned: cleanup is best-effort.
func (s *Supervisor) releaseWorkspace() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.mu.Unlock()
	s.identity.Release(s.logger)
}

// failStartup tears down after an unsuccessful startup: the process is gone
// or killed, the workspace is released and the supervisor deregistered.
func (s *Supervisor) failStartup(final State) {
	s.mu.Lock()
	s.state = final
	s.mu.Unlock()
	s.releaseWorkspace()
	deregister(s)
}
