package falkorlite

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Binary and module selection is a build/packaging concern; the library only
// resolves paths. Explicit options win, then environment variables, then
// conventional locations.
const (
	// EnvServerBinary points at the redis-server executable to embed.
	EnvServerBinary = "FALKORLITE_REDIS_SERVER"
	// EnvGraphModule points at the FalkorDB module shared object.
	EnvGraphModule = "FALKORLITE_MODULE"
)

var serverBinaryNames = []string{"redis-server", "falkordb-server"}

var graphModuleDirs = []string{
	"/usr/lib/redis/modules",
	"/usr/local/lib/redis/modules",
	"/var/lib/falkordb/bin",
	"/opt/redis-stack/lib",
}

var graphModuleNames = []string{"falkordb.so", "redisgraph.so"}

func locateServerBinary() (string, error) {
	if path := os.Getenv(EnvServerBinary); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("falkorlite: %s=%q: %w", EnvServerBinary, path, err)
		}
		return path, nil
	}
	for _, name := range serverBinaryNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("falkorlite: no server binary found: set %s or use WithServerBinary", EnvServerBinary)
}

// locateGraphModule returns the graph module path or empty when none is
// found; without a module the instance still serves plain Redis commands.
func locateGraphModule() string {
	if path := os.Getenv(EnvGraphModule); path != "" {
		return path
	}
	for _, dir := range graphModuleDirs {
		for _, name := range graphModuleNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
