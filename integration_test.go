package falkorlite

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperEmbeddedServer plays the server binary when the test executable is
// re-executed by the stub script from stubServerBinary. It honors the
// `<binary> <config-path>` contract: read the config, open the log, listen on
// the configured endpoint, announce readiness, wait for SIGTERM.
func TestHelperEmbeddedServer(t *testing.T) {
	if os.Getenv("FALKORLITE_EMBEDDED_STUB") != "1" {
		t.Skip("stub entry point, only meaningful when re-executed")
	}
	settings := map[string]string{}
	f, err := os.Open(os.Args[len(os.Args)-1])
	if err != nil {
		os.Exit(2)
	}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if key, value, found := strings.Cut(scanner.Text(), " "); found {
			settings[key] = strings.Trim(value, `"`)
		}
	}
	f.Close()

	logf, err := os.OpenFile(settings["logfile"], os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		os.Exit(2)
	}

	var l net.Listener
	if sock := settings["unixsocket"]; sock != "" {
		l, err = net.Listen("unix", sock)
	} else {
		l, err = net.Listen("tcp", "127.0.0.1:"+settings["port"])
	}
	if err != nil {
		fmt.Fprintf(logf, "# stub listen error: %v\n", err)
		os.Exit(2)
	}
	fmt.Fprintln(logf, "* Ready to accept connections")
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, os.Interrupt)
	select {
	case <-sig:
	case <-time.After(60 * time.Second):
	}
	l.Close()
	os.Exit(0)
}

func stubServerBinary(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub server scripts need a POSIX shell")
	}
	exe, err := os.Executable()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "redis-server-stub")
	script := fmt.Sprintf("#!/bin/sh\nFALKORLITE_EMBEDDED_STUB=1 exec %q -test.run '^TestHelperEmbeddedServer$' -- \"$@\"\n", exe)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestOpenCloseLifecycle(t *testing.T) {
	db, err := Open(
		WithServerBinary(stubServerBinary(t)),
		WithGraphModule(""),
		WithBaseDir(t.TempDir()),
		WithStartupTimeout(10*time.Second),
		WithShutdownGrace(2*time.Second),
		WithPollInterval(20*time.Millisecond),
	)
	require.NoError(t, err)

	assert.True(t, db.Alive())
	network, addr := db.Endpoint()
	require.NotEmpty(t, network)

	conn, err := net.Dial(network, addr)
	require.NoError(t, err, "an opened instance must accept connections")
	conn.Close()

	dir := filepath.Dir(addr)
	if network == "tcp" {
		dir = "" // nothing to check on disk for the endpoint itself
	}

	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "Close is idempotent")

	if dir != "" {
		_, err = os.Stat(dir)
		assert.True(t, os.IsNotExist(err), "Close must remove the instance workspace")
	}
}

func TestOpenRejectsGuardedOverride(t *testing.T) {
	_, err := Open(
		WithServerBinary(stubServerBinary(t)),
		WithGraphModule(""),
		WithBaseDir(t.TempDir()),
		WithOverride("bind", "0.0.0.0"),
	)
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "bind", cfgErr.Key)
}

func TestAttachDoesNotStopServer(t *testing.T) {
	owner, err := Open(
		WithServerBinary(stubServerBinary(t)),
		WithGraphModule(""),
		WithBaseDir(t.TempDir()),
		WithStartupTimeout(10*time.Second),
		WithShutdownGrace(2*time.Second),
	)
	require.NoError(t, err)
	defer owner.Close()

	network, addr := owner.Endpoint()
	attached, err := Attach(network, addr)
	require.NoError(t, err)

	require.NoError(t, attached.Close())
	assert.True(t, owner.Alive(), "closing an attached client must not stop the server")

	conn, err := net.Dial(network, addr)
	require.NoError(t, err)
	conn.Close()
}

func TestAttachRejectsUnknownNetwork(t *testing.T) {
	_, err := Attach("udp", "127.0.0.1:6379")
	require.Error(t, err)
}

func TestAttachRejectsStartupOptions(t *testing.T) {
	// Startup/ownership options have no effect on an attached client and are
	// rejected rather than silently ignored.
	_, err := Attach("tcp", "127.0.0.1:6379", WithOverride("maxmemory", "10mb"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WithOverrides")

	_, err = Attach("tcp", "127.0.0.1:6379", WithStartupTimeout(time.Second), WithShutdownGrace(time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WithStartupTimeout")
	assert.Contains(t, err.Error(), "WithShutdownGrace")

	_, err = AttachAsync("tcp", "127.0.0.1:6379", WithServerBinary("/bin/true"))
	require.Error(t, err)

	// WithLogger configures the client itself and stays valid.
	attached, err := Attach("tcp", "127.0.0.1:6379", WithLogger(slog.Default()))
	require.NoError(t, err)
	require.NoError(t, attached.Close())
}

func TestOpenStartupFailureReturnsLogTail(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub server scripts need a POSIX shell")
	}
	// A binary that logs and exits before listening must surface as a
	// startup crash carrying the log tail.
	path := filepath.Join(t.TempDir(), "crashing-server")
	script := "#!/bin/sh\nconf=\"$1\"\nlog=$(sed -n 's/^logfile //p' \"$conf\")\necho '# FATAL: missing shared library' >> \"$log\"\nexit 3\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	_, err := Open(
		WithServerBinary(path),
		WithGraphModule(""),
		WithBaseDir(t.TempDir()),
		WithStartupTimeout(5*time.Second),
	)
	require.Error(t, err)

	var crashErr *StartupCrashError
	require.ErrorAs(t, err, &crashErr)
	assert.Contains(t, crashErr.LogTail, "missing shared library")
}
