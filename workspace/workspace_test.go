package workspace

import (
	"os"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"pgregory.net/rapid"
)

func TestAllocateCreatesPrivateWorkspace(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix socket layout")
	}

	id, err := Allocate(Options{BaseDir: t.TempDir()})
	require.NoError(t, err)

	info, err := os.Stat(id.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm(), "workspace must be private to the creating user")

	assert.NotEmpty(t, id.ID)
	assert.True(t, strings.HasPrefix(id.SocketPath, id.Dir), "socket must live inside the workspace")
	assert.True(t, strings.HasPrefix(id.ConfigPath, id.Dir))
	assert.True(t, strings.HasPrefix(id.LogPath, id.Dir))
	assert.True(t, strings.HasPrefix(id.PIDPath, id.Dir))

	network, addr := id.Endpoint()
	assert.Equal(t, "unix", network)
	assert.Equal(t, id.SocketPath, addr)

	id.Release(nil)
	_, err = os.Stat(id.Dir)
	assert.True(t, os.IsNotExist(err), "release must remove the workspace")

	// Releasing an already-removed workspace is not an error.
	id.Release(nil)
}

func TestAllocateConcurrentNoCollisions(t *testing.T) {
	const n = 64
	baseDir := t.TempDir()

	var mu sync.Mutex
	identities := make([]*Identity, 0, n)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			id, err := Allocate(Options{BaseDir: baseDir})
			if err != nil {
				return err
			}
			mu.Lock()
			identities = append(identities, id)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, identities, n)

	dirs := make(map[string]bool, n)
	endpoints := make(map[string]bool, n)
	for _, id := range identities {
		assert.False(t, dirs[id.Dir], "directory %s allocated twice", id.Dir)
		dirs[id.Dir] = true
		_, addr := id.Endpoint()
		assert.False(t, endpoints[addr], "endpoint %s allocated twice", addr)
		endpoints[addr] = true
		id.Release(nil)
	}
}

func TestAllocateTCPFallback(t *testing.T) {
	id, err := Allocate(Options{BaseDir: t.TempDir(), ForceTCP: true})
	require.NoError(t, err)
	defer id.Release(nil)

	assert.Empty(t, id.SocketPath)
	assert.GreaterOrEqual(t, id.Port, portRangeMin)
	assert.LessOrEqual(t, id.Port, portRangeMax)

	network, addr := id.Endpoint()
	assert.Equal(t, "tcp", network)
	assert.Contains(t, addr, "127.0.0.1")

	// The chosen port is recorded in the workspace for external tooling.
	data, err := os.ReadFile(id.Dir + "/" + PortFileName)
	require.NoError(t, err)
	assert.Contains(t, addr, string(data))
}

func TestAllocateRejectsOverlongSocketPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix socket layout")
	}
	deep := t.TempDir() + strings.Repeat("/deeply-nested-path", 6)
	require.NoError(t, os.MkdirAll(deep, 0o755))

	_, err := Allocate(Options{BaseDir: deep})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "socket path")
}

func TestAllocateUniquenessProperty(t *testing.T) {
	baseDir := t.TempDir()
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 10).Draw(rt, "n")
		seen := make(map[string]bool, n)
		ids := make([]*Identity, 0, n)
		defer func() {
			for _, id := range ids {
				id.Release(nil)
			}
		}()
		for i := 0; i < n; i++ {
			id, err := Allocate(Options{BaseDir: baseDir})
			if err != nil {
				rt.Fatalf("allocate: %v", err)
			}
			ids = append(ids, id)
			_, addr := id.Endpoint()
			if seen[id.Dir] || seen[addr] {
				rt.Fatalf("collision for %s / %s", id.Dir, addr)
			}
			seen[id.Dir] = true
			seen[addr] = true
		}
	})
}
