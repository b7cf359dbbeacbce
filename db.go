package falkorlite

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/falkorlite/falkorlite/workspace"
)

// commander is the slice of the go-redis client the facades use. Narrowing
// it keeps the facade logic testable without a live server.
type commander interface {
	Do(ctx context.Context, args ...interface{}) *redis.Cmd
	Close() error
}

// FalkorDB is the blocking client facade for one embedded instance. It
// forwards graph and key/value commands over the instance's transport
// endpoint, serializing command/response pairs per connection. A FalkorDB
// obtained from Open owns its supervisor and stops the server on Close; one
// obtained from Attach does not.
type FalkorDB struct {
	rdb    commander
	client *redis.Client // underlying transport, nil only in tests
	sup    supervisor
	owned  bool
	grace  time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// supervisor is the narrow slice of process.Supervisor the facades need.
type supervisor interface {
	Identity() *workspace.Identity
	IsAlive() bool
	EnsureAlive() error
	Shutdown(grace time.Duration) error
}

// SelectGraph returns a handle to the named graph. No server round trip is
// made; graphs come into existence on first write.
func (db *FalkorDB) SelectGraph(name string) *Graph {
	return &Graph{db: db, name: name}
}

// ListGraphs returns the names of all graphs in the instance.
func (db *FalkorDB) ListGraphs(ctx context.Context) ([]string, error) {
	res, err := db.do(ctx, "GRAPH.LIST")
	if err != nil {
		return nil, err
	}
	raw, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("falkorlite: unexpected GRAPH.LIST reply %T", res)
	}
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		names = append(names, fmt.Sprint(v))
	}
	return names, nil
}

// ConfigGet reads a graph-engine configuration value.
func (db *FalkorDB) ConfigGet(ctx context.Context, key string) (string, error) {
	res, err := db.do(ctx, "GRAPH.CONFIG", "GET", key)
	if err != nil {
		return "", err
	}
	return decodeConfigValue(res)
}

// decodeConfigValue extracts the value from a GRAPH.CONFIG GET reply, which
// arrives as a [name, value] pair.
func decodeConfigValue(res interface{}) (string, error) {
	if pair, ok := res.([]interface{}); ok && len(pair) == 2 {
		return fmt.Sprint(pair[1]), nil
	}
	return "", fmt.Errorf("falkorlite: unexpected GRAPH.CONFIG reply %T", res)
}

// ConfigSet updates a graph-engine configuration value.
func (db *FalkorDB) ConfigSet(ctx context.Context, key, value string) error {
	_, err := db.do(ctx, "GRAPH.CONFIG", "SET", key, value)
	return err
}

// UDFLoad registers a user-defined function library with the graph engine.
// source is the library script; functions it registers become callable from
// queries as <library>.<function>.
func (db *FalkorDB) UDFLoad(ctx context.Context, library, source string) error {
	_, err := db.do(ctx, "GRAPH.UDF", "LOAD", library, source)
	return err
}

// UDFList returns the names of the loaded user-defined function libraries.
func (db *FalkorDB) UDFList(ctx context.Context) ([]string, error) {
	res, err := db.do(ctx, "GRAPH.UDF", "LIST")
	if err != nil {
		return nil, err
	}
	return stringSlice(res)
}

// UDFDelete removes a user-defined function library.
func (db *FalkorDB) UDFDelete(ctx context.Context, library string) error {
	_, err := db.do(ctx, "GRAPH.UDF", "DELETE", library)
	return err
}

// Ping verifies the transport round trip.
func (db *FalkorDB) Ping(ctx context.Context) error {
	_, err := db.do(ctx, "PING")
	return err
}

// Redis exposes the underlying go-redis client for plain key/value commands
// against the embedded instance.
func (db *FalkorDB) Redis() *redis.Client {
	return db.client
}

// Endpoint returns the network and address the instance listens on, or empty
// strings for an attached facade whose identity is unknown.
func (db *FalkorDB) Endpoint() (network, addr string) {
	if db.sup == nil {
		return "", ""
	}
	return db.sup.Identity().Endpoint()
}

// Alive reports whether the supervised server process is running. Attached
// facades, which have no supervisor, report true and rely on transport
// errors.
func (db *FalkorDB) Alive() bool {
	if db.sup == nil {
		return true
	}
	return db.sup.IsAlive()
}

// Close releases the client. For an owning facade it also shuts the server
// down (SIGTERM, then kill after the configured grace period) and releases
// the instance workspace. Close is idempotent.
func (db *FalkorDB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	runtime.SetFinalizer(db, nil)

	if err := db.rdb.Close(); err != nil {
		db.logger.Warn("Failed to close transport client", "error", err)
	}
	if db.owned && db.sup != nil {
		return db.sup.Shutdown(db.grace)
	}
	return nil
}

// do forwards one command, failing fast when the handle is closed or the
// supervised process is known to be dead instead of waiting out a transport
// timeout.
func (db *FalkorDB) do(ctx context.Context, args ...interface{}) (interface{}, error) {
	db.mu.Lock()
	closed := db.closed
	db.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if db.sup != nil {
		if err := db.sup.EnsureAlive(); err != nil {
			return nil, err
		}
	}

	res, err := db.rdb.Do(ctx, args...).Result()
	if err != nil {
		op := "command"
		if len(args) > 0 {
			op = fmt.Sprint(args[0])
		}
		if mapped := db.mapCommandError(op, err); mapped != nil {
			return nil, mapped
		}
	}
	return res, nil
}
