package process

import (
	"net"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitReady blocks until the server accepts a connection on its endpoint,
// then transitions the supervisor to Ready. Detection is a poll loop, not a
// blocking handshake: each round first checks the process is still alive,
// then attempts a lightweight connection, and finally inspects the log tail
// for the ready marker as a secondary signal. A watcher on the instance
// directory wakes the loop early when the server writes to its log.
//
// If timeout is non-positive the configured StartupTimeout applies. On
// timeout WaitReady kills the process and returns *StartupTimeoutError; if
// the process exits first it returns *StartupCrashError. In both cases the
// captured log tail is attached and the workspace has been released.
func (s *Supervisor) WaitReady(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.opts.StartupTimeout
	}
	deadline := time.Now().Add(timeout)
	network, addr := s.identity.Endpoint()

	// Watch the instance directory rather than the log file itself: the file
	// may not exist yet when polling starts. Watch failures degrade to plain
	// interval polling.
	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(s.identity.Dir); err == nil {
			events = make(chan fsnotify.Event)
			go func() {
				for ev := range watcher.Events {
					select {
					case events <- ev:
					default:
					}
				}
			}()
		}
		defer watcher.Close()
	} else {
		s.logger.Warn("Log watcher unavailable, falling back to interval polling", "error", err)
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	markerSeen := false
	for {
		select {
		case <-s.exitCh:
			tail := s.logTail()
			s.failStartup(StateCrashed)
			s.logger.Error("Server exited before becoming ready", "pid", s.pid, "error", s.exitErr)
			return &StartupCrashError{Err: s.exitErr, LogTail: tail}
		default:
		}

		conn, err := net.DialTimeout(network, addr, s.opts.PollInterval)
		if err == nil {
			conn.Close()
			s.mu.Lock()
			s.state = StateReady
			s.mu.Unlock()
			s.logger.Info("Server ready", "pid", s.pid, "endpoint", addr)
			return nil
		}

		if !markerSeen && strings.Contains(s.logTail(), s.opts.ReadyMarker) {
			// The log claims readiness but the endpoint does not answer yet;
			// keep probing the connection, which is the primary signal.
			markerSeen = true
			s.logger.Debug("Ready marker observed in server log", "pid", s.pid)
		}

		if time.Now().After(deadline) {
			tail := s.logTail()
			s.logger.Error("Server not ready before timeout, killing", "pid", s.pid, "timeout", timeout)
			if err := s.cmd.Process.Kill(); err != nil {
				s.logger.Warn("Failed to kill unready server process", "pid", s.pid, "error", err)
			}
			<-s.exitCh
			s.failStartup(StateStopped)
			return &StartupTimeoutError{Timeout: timeout, LogTail: tail}
		}

		select {
		case <-ticker.C:
		case <-events:
		case <-s.exitCh:
		}
	}
}

// logTail returns the end of the instance log, bounded by LogTailBytes, for
// embedding into startup errors.
func (s *Supervisor) logTail() string {
	f, err := os.Open(s.identity.LogPath)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	size := info.Size()
	tail := int64(s.opts.LogTailBytes)
	if size > tail {
		if _, err := f.Seek(size-tail, 0); err != nil {
			return ""
		}
	}
	buf := make([]byte, tail)
	n, _ := f.Read(buf)
	return string(buf[:n])
}
