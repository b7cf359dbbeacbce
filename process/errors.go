package process

import (
	"fmt"
	"time"
)

// StartupTimeoutError is returned by WaitReady when the server did not become
// reachable within the allotted time. LogTail carries the end of the server
// log for diagnosis; the workspace has already been released.
type StartupTimeoutError struct {
	Timeout time.Duration
	LogTail string
}

func (e *StartupTimeoutError) Error() string {
	msg := fmt.Sprintf("process: server not ready after %s", e.Timeout)
	if e.LogTail != "" {
		msg += "; log tail:\n" + e.LogTail
	}
	return msg
}

// StartupCrashError is returned when the server process exited before
// becoming ready, or could not be launched at all. LogTail carries the end of
// the server log; the workspace has already been released.
type StartupCrashError struct {
	Err     error // exit or launch error from the OS
	LogTail string
}

func (e *StartupCrashError) Error() string {
	msg := "process: server exited before becoming ready"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.LogTail != "" {
		msg += "; log tail:\n" + e.LogTail
	}
	return msg
}

func (e *StartupCrashError) Unwrap() error { return e.Err }

// ProcessCrashedError is returned for every operation on an instance whose
// server died after reaching Ready. The condition is sticky: the supervisor
// never reconnects or restarts, since the instance's data directory could
// otherwise be reattached to a different process incarnation.
type ProcessCrashedError struct {
	InstanceID string
	PID        int
}

func (e *ProcessCrashedError) Error() string {
	return fmt.Sprintf("process: server for instance %s (pid %d) has crashed", e.InstanceID, e.PID)
}
