// Package config renders the startup configuration of an embedded server
// instance. Generated defaults bind the server strictly to its own workspace
// endpoint and keep it inaccessible to other users; caller overrides merge on
// top of the defaults but can never weaken the security-critical ones.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/falkorlite/falkorlite/workspace"
)

// Error reports a caller override that was rejected because it collides with
// a security-critical generated default.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: override of %q rejected: %s", e.Key, e.Reason)
}

// guardedKeys are owned by the supervisor. Allowing a caller to override any
// of them would either break the instance's isolation (endpoint, directory,
// file paths) or silently weaken its security posture.
var guardedKeys = map[string]string{
	"daemonize":      "the supervisor owns the process lifecycle",
	"dir":            "all server artifacts live inside the instance workspace",
	"unixsocket":     "the endpoint is fixed by the instance identity",
	"unixsocketperm": "socket access is restricted to the creating user",
	"port":           "the endpoint is fixed by the instance identity",
	"bind":           "the server must not bind beyond its own endpoint",
	"pidfile":        "the pid file path is fixed by the instance identity",
	"logfile":        "the log file path is fixed by the instance identity",
	"protected-mode": "unauthenticated remote access stays disabled",
	"loadmodule":     "the graph module path is resolved by the supervisor",
}

type entry struct {
	key   string
	value string
}

// Config is an immutable, ordered key/value configuration for one instance.
// Rendering is deterministic for a given identity and override set.
type Config struct {
	entries []entry
}

// Build generates the configuration for an instance. modulePath, when
// non-empty, must be the absolute path of the graph-engine module to load
// (resolving it is the caller's concern). Recognized override keys replace
// the generated default; unrecognized keys are passed through verbatim for
// forward compatibility; overrides of guarded keys fail with *Error.
func Build(id *workspace.Identity, modulePath string, overrides map[string]string) (*Config, error) {
	defaults := []entry{
		{"daemonize", "no"},
		{"dir", id.Dir},
	}
	if id.SocketPath != "" {
		defaults = append(defaults,
			entry{"port", "0"},
			entry{"unixsocket", id.SocketPath},
			entry{"unixsocketperm", "700"},
		)
	} else {
		defaults = append(defaults,
			entry{"bind", "127.0.0.1"},
			entry{"port", fmt.Sprintf("%d", id.Port)},
		)
	}
	defaults = append(defaults,
		entry{"protected-mode", "yes"},
		entry{"pidfile", id.PIDPath},
		entry{"logfile", id.LogPath},
		entry{"dbfilename", "dump.rdb"},
		entry{"save", ""},
		entry{"appendonly", "no"},
	)
	if modulePath != "" {
		defaults = append(defaults, entry{"loadmodule", modulePath})
	}

	for key, value := range overrides {
		if reason, guarded := guardedKeys[key]; guarded {
			return nil, &Error{Key: key, Reason: reason}
		}
		if key == "" || strings.ContainsAny(key, " \t\n") {
			return nil, &Error{Key: key, Reason: "option names must be single non-empty words"}
		}
		if strings.ContainsRune(value, '\n') {
			return nil, &Error{Key: key, Reason: "option values must not span lines"}
		}
	}

	cfg := &Config{entries: make([]entry, 0, len(defaults)+len(overrides))}
	merged := make(map[string]bool, len(overrides))
	for _, e := range defaults {
		if v, ok := overrides[e.key]; ok {
			e.value = v
			merged[e.key] = true
		}
		cfg.entries = append(cfg.entries, e)
	}

	// Pass-through keys are appended in sorted order so output is stable.
	extra := make([]string, 0, len(overrides))
	for key := range overrides {
		if !merged[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		cfg.entries = append(cfg.entries, entry{key, overrides[key]})
	}

	return cfg, nil
}

// Get returns the value for key and whether it is present.
func (c *Config) Get(key string) (string, bool) {
	for _, e := range c.entries {
		if e.key == key {
			return e.value, true
		}
	}
	return "", false
}

// Render produces the flat key/value text consumed by the server binary.
func (c *Config) Render() string {
	var b strings.Builder
	for _, e := range c.entries {
		b.WriteString(e.key)
		b.WriteByte(' ')
		if e.value == "" {
			b.WriteString(`""`)
		} else {
			b.WriteString(e.value)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// WriteFile persists the rendered configuration, readable only by the
// creating user.
func (c *Config) WriteFile(path string) error {
	if err := os.WriteFile(path, []byte(c.Render()), 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
