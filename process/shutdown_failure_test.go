package process

import (
	"log/slog"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falkorlite/falkorlite/workspace"
)

// deadPID is far above the Linux default pid_max, so every signal sent to it
// fails with "no such process".
const deadPID = 1 << 30

// unkillableSupervisor fabricates a supervisor whose process cannot be
// signaled and whose exit is never observed, forcing the SIGTERM grace wait
// and a failing SIGKILL escalation.
func unkillableSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	id, err := workspace.Allocate(workspace.Options{BaseDir: t.TempDir()})
	require.NoError(t, err)

	proc, err := os.FindProcess(deadPID)
	require.NoError(t, err)

	var opts Options
	opts.normalize()
	return &Supervisor{
		identity: id,
		opts:     opts,
		logger:   slog.Default(),
		cmd:      &exec.Cmd{Process: proc},
		pid:      deadPID,
		state:    StateReady,
		exitCh:   make(chan struct{}),
	}
}

// reapedSupervisor fabricates a supervisor whose process has already exited
// and been observed; its shutdown is cleanup only.
func reapedSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	id, err := workspace.Allocate(workspace.Options{BaseDir: t.TempDir()})
	require.NoError(t, err)

	exited := make(chan struct{})
	close(exited)
	var opts Options
	opts.normalize()
	return &Supervisor{
		identity: id,
		opts:     opts,
		logger:   slog.Default(),
		state:    StateCrashed,
		exitCh:   exited,
	}
}

func TestShutdownReportsFailedKillEscalation(t *testing.T) {
	s := unkillableSupervisor(t)

	err := s.Shutdown(20 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "killing server")

	// Cleanup still ran despite the failure.
	assert.Equal(t, StateStopped, s.State())
	_, statErr := os.Stat(s.identity.Dir)
	assert.True(t, os.IsNotExist(statErr))

	// Idempotent: the recorded error is returned again, no second escalation.
	assert.Equal(t, err, s.Shutdown(20*time.Millisecond))
}

func TestShutdownAllToleratesFailingInstance(t *testing.T) {
	require.Equal(t, 0, Registered(), "leaked supervisors from another test")

	failing := unkillableSupervisor(t)
	healthy := reapedSupervisor(t)
	register(failing)
	register(healthy)

	err := ShutdownAll(20*time.Millisecond, nil)
	require.Error(t, err, "the failing instance's error must surface")

	// One stuck instance must not block cleanup of the others.
	assert.Equal(t, 0, Registered())
	for _, s := range []*Supervisor{failing, healthy} {
		assert.Equal(t, StateStopped, s.State())
		_, statErr := os.Stat(s.identity.Dir)
		assert.True(t, os.IsNotExist(statErr), "workspace %s survived the sweep", s.identity.Dir)
	}
}
