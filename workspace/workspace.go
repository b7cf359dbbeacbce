// Package workspace allocates the isolated on-disk identity of an embedded
// server instance: a private directory holding the transport socket, config
// file, log file and pid file. Every instance gets its own workspace and no
// two live workspaces ever share a path.
package workspace

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/google/uuid"
)

// File names inside an instance directory. These match the layout the server
// binary is configured with, so external tooling can find them.
const (
	SocketFileName = "redis.sock"
	PortFileName   = "port"
	ConfigFileName = "server.conf"
	LogFileName    = "server.log"
	PIDFileName    = "server.pid"
)

const (
	dirPrefix = "falkorlite-"

	// Instance directories are private to the creating user. The socket and
	// every config/log artifact inherit this protection.
	dirPerm = 0o700

	// Port probing covers the dynamic/private range, starting from a random
	// point so concurrently starting processes don't walk the same sequence.
	portRangeMin = 49152
	portRangeMax = 65535
	portAttempts = 16

	// Retries for the (very unlikely) case of a directory name collision.
	allocateAttempts = 8

	// Unix domain socket paths have a low platform-dependent length limit
	// (104 bytes on BSDs, 108 on Linux).
	maxSocketPath = 100
)

// Identity pins down one embedded instance: its unique id, isolated directory
// and the paths derived from it. Exactly one of SocketPath and Port is set,
// depending on the transport. An Identity is immutable once allocated and is
// owned by a single supervisor.
type Identity struct {
	ID         string // random, collision-checked instance id
	Dir        string // private instance directory (0700)
	SocketPath string // unix domain socket path, empty when TCP is used
	Port       int    // loopback TCP port, 0 when a unix socket is used

	ConfigPath string
	LogPath    string
	PIDPath    string
}

// Endpoint returns the transport network and address of the instance in the
// form accepted by net.Dial.
func (id *Identity) Endpoint() (network, addr string) {
	if id.SocketPath != "" {
		return "unix", id.SocketPath
	}
	return "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(id.Port))
}

// Options configures workspace allocation.
type Options struct {
	// BaseDir is the parent directory for instance workspaces. Defaults to
	// the system temp directory.
	BaseDir string

	// ForceTCP selects a loopback TCP endpoint even on platforms that
	// support unix domain sockets.
	ForceTCP bool
}

// Allocate creates a fresh instance workspace: a uniquely named private
// directory plus a free transport endpoint. Concurrent allocations, including
// from separate processes on the same host, never collide because the
// directory name embeds a random id and creation fails on an existing path.
func Allocate(opts Options) (*Identity, error) {
	baseDir := opts.BaseDir
	if baseDir == "" {
		baseDir = os.TempDir()
	}

	var dir, instanceID string
	for attempt := 0; ; attempt++ {
		instanceID = uuid.New().String()
		dir = filepath.Join(baseDir, dirPrefix+instanceID)
		err := os.Mkdir(dir, dirPerm)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("workspace: creating instance directory: %w", err)
		}
		if attempt+1 >= allocateAttempts {
			return nil, fmt.Errorf("workspace: could not allocate a unique instance directory under %s after %d attempts", baseDir, allocateAttempts)
		}
	}
	// Mkdir permissions are subject to umask; make the contract explicit.
	if err := os.Chmod(dir, dirPerm); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("workspace: restricting instance directory permissions: %w", err)
	}

	id := &Identity{
		ID:         instanceID,
		Dir:        dir,
		ConfigPath: filepath.Join(dir, ConfigFileName),
		LogPath:    filepath.Join(dir, LogFileName),
		PIDPath:    filepath.Join(dir, PIDFileName),
	}

	if supportsUnixSockets() && !opts.ForceTCP {
		sock := filepath.Join(dir, SocketFileName)
		if len(sock) > maxSocketPath {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("workspace: socket path %q exceeds the platform limit; use a shorter BaseDir", sock)
		}
		id.SocketPath = sock
		return id, nil
	}

	port, err := probePort()
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	id.Port = port
	if err := os.WriteFile(filepath.Join(dir, PortFileName), []byte(strconv.Itoa(port)), 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("workspace: recording allocated port: %w", err)
	}
	return id, nil
}

// Release deletes the instance directory and everything in it. It is
// idempotent and best-effort: a directory already removed (for example by OS
// tmp cleanup) is not an error, and deletion failures are logged rather than
// propagated since cleanup must never mask the outcome of a user operation.
func (id *Identity) Release(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(id.Dir); os.IsNotExist(err) {
		return
	}
	if err := os.RemoveAll(id.Dir); err != nil {
		logger.Warn("Failed to remove instance workspace", "instanceID", id.ID, "dir", id.Dir, "error", err)
	}
}

// probePort finds a free loopback port in the dynamic range. It starts from a
// random offset and walks forward, verifying each candidate with a real bind,
// giving up after a fixed attempt count.
func probePort() (int, error) {
	span := portRangeMax - portRangeMin + 1
	start := portRangeMin + rand.Intn(span)
	for i := 0; i < portAttempts; i++ {
		port := portRangeMin + (start-portRangeMin+i)%span
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("workspace: no free loopback port found after %d attempts", portAttempts)
}

func supportsUnixSockets() bool {
	return runtime.GOOS != "windows"
}
