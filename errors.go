package falkorlite

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/falkorlite/falkorlite/config"
	"github.com/falkorlite/falkorlite/process"
)

// The error kinds produced across the library, re-exported here so callers
// only import the root package:
//
//   - ConfigurationError: a caller override collided with a security-critical
//     generated default.
//   - StartupTimeoutError: the server did not become ready in time.
//   - StartupCrashError: the server exited (or failed to launch) before ready.
//   - ProcessCrashedError: the server died after reaching Ready; sticky.
//   - ConnectionError: transient transport failure while the server is
//     believed alive; callers may retry.
//
// Cleanup failures are logged and never surfaced.
type (
	ConfigurationError  = config.Error
	StartupTimeoutError = process.StartupTimeoutError
	StartupCrashError   = process.StartupCrashError
	ProcessCrashedError = process.ProcessCrashedError
)

// ErrClosed is returned for operations on a closed client handle.
var ErrClosed = errors.New("falkorlite: client is closed")

// ConnectionError wraps a transport-level failure that occurred while the
// supervised process was still alive. It is transient from the library's
// point of view; the instance is not closed.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("falkorlite: %s: connection error: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// mapCommandError classifies an error from the transport. Server-side command
// errors (bad query syntax, unknown command) pass through untouched; anything
// else becomes ProcessCrashedError when the supervised process is dead, or
// ConnectionError while it is believed alive.
func (db *FalkorDB) mapCommandError(op string, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	var serverErr redis.Error
	if errors.As(err, &serverErr) {
		return err
	}
	if db.sup != nil {
		if crashErr := db.sup.EnsureAlive(); crashErr != nil {
			return crashErr
		}
	}
	return &ConnectionError{Op: op, Err: err}
}
