package falkorlite

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/falkorlite/falkorlite/config"
	"github.com/falkorlite/falkorlite/process"
	"github.com/falkorlite/falkorlite/workspace"
)

// DefaultShutdownGrace bounds how long Close waits for a voluntary server
// exit before escalating to a kill.
const DefaultShutdownGrace = process.DefaultGracePeriod

type options struct {
	binaryPath     string
	modulePath     string
	moduleSet      bool
	overrides      map[string]string
	startupTimeout time.Duration
	grace          time.Duration
	baseDir        string
	forceTCP       bool
	logger         *slog.Logger
	readyMarker    string
	pollInterval   time.Duration

	// openOnly records options that configure instance startup or ownership,
	// so Attach can reject them instead of silently ignoring them.
	openOnly []string
}

// Option configures Open, OpenAsync, Attach and AttachAsync.
type Option func(*options)

// WithServerBinary sets the server executable path, bypassing the
// conventional-location lookup. Open and OpenAsync only.
func WithServerBinary(path string) Option {
	return func(o *options) {
		o.binaryPath = path
		o.openOnly = append(o.openOnly, "WithServerBinary")
	}
}

// WithGraphModule sets the absolute path of the graph-engine module loaded by
// the server. An empty path starts the server without the module (plain
// key/value commands only). Open and OpenAsync only.
func WithGraphModule(path string) Option {
	return func(o *options) {
		o.modulePath = path
		o.moduleSet = true
		o.openOnly = append(o.openOnly, "WithGraphModule")
	}
}

// WithOverrides merges caller configuration on top of the generated defaults.
// Recognized keys replace defaults, unrecognized keys are passed through to
// the server verbatim, and security-critical keys are rejected. Open and
// OpenAsync only.
func WithOverrides(overrides map[string]string) Option {
	return func(o *options) {
		if o.overrides == nil {
			o.overrides = make(map[string]string, len(overrides))
		}
		for k, v := range overrides {
			o.overrides[k] = v
		}
		o.openOnly = append(o.openOnly, "WithOverrides")
	}
}

// WithOverride sets a single configuration override.
func WithOverride(key, value string) Option {
	return WithOverrides(map[string]string{key: value})
}

// WithStartupTimeout bounds how long Open waits for the server to accept
// connections. Open and OpenAsync only.
func WithStartupTimeout(d time.Duration) Option {
	return func(o *options) {
		o.startupTimeout = d
		o.openOnly = append(o.openOnly, "WithStartupTimeout")
	}
}

// WithShutdownGrace bounds how long Close waits for a graceful server exit.
// Open and OpenAsync only: an attached client never stops the server.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *options) {
		o.grace = d
		o.openOnly = append(o.openOnly, "WithShutdownGrace")
	}
}

// WithBaseDir sets the parent directory for instance workspaces. Open and
// OpenAsync only.
func WithBaseDir(dir string) Option {
	return func(o *options) {
		o.baseDir = dir
		o.openOnly = append(o.openOnly, "WithBaseDir")
	}
}

// WithTCPTransport forces a loopback TCP endpoint even on platforms with
// unix domain socket support. Open and OpenAsync only.
func WithTCPTransport() Option {
	return func(o *options) {
		o.forceTCP = true
		o.openOnly = append(o.openOnly, "WithTCPTransport")
	}
}

// WithLogger sets the logger used by the instance's supervisor and cleanup
// paths. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithReadyMarker overrides the log line treated as the secondary readiness
// signal; it varies across server versions. Open and OpenAsync only.
func WithReadyMarker(marker string) Option {
	return func(o *options) {
		o.readyMarker = marker
		o.openOnly = append(o.openOnly, "WithReadyMarker")
	}
}

// WithPollInterval overrides the readiness probe interval. Open and OpenAsync
// only.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
		o.openOnly = append(o.openOnly, "WithPollInterval")
	}
}

func buildOptions(opts []Option) *options {
	o := &options{
		grace:  DefaultShutdownGrace,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open starts a fresh embedded server instance and returns an owning blocking
// client bound to it. The instance gets an isolated workspace, a generated
// secure-by-default configuration, and is supervised until Close (or a
// ShutdownAll sweep) stops it. Startup failures release the workspace and are
// returned as *StartupTimeoutError or *StartupCrashError carrying the server
// log tail.
func Open(opts ...Option) (*FalkorDB, error) {
	o := buildOptions(opts)

	binary := o.binaryPath
	if binary == "" {
		var err error
		binary, err = locateServerBinary()
		if err != nil {
			return nil, err
		}
	}
	module := o.modulePath
	if !o.moduleSet {
		module = locateGraphModule()
	}

	id, err := workspace.Allocate(workspace.Options{BaseDir: o.baseDir, ForceTCP: o.forceTCP})
	if err != nil {
		return nil, err
	}

	cfg, err := config.Build(id, module, o.overrides)
	if err != nil {
		id.Release(o.logger)
		return nil, err
	}

	sup, err := process.Start(id, cfg, process.Options{
		BinaryPath:     binary,
		Logger:         o.logger,
		PollInterval:   o.pollInterval,
		StartupTimeout: o.startupTimeout,
		ReadyMarker:    o.readyMarker,
	})
	if err != nil {
		return nil, err
	}
	if err := sup.WaitReady(o.startupTimeout); err != nil {
		return nil, err
	}

	network, addr := id.Endpoint()
	client := redis.NewClient(&redis.Options{Network: network, Addr: addr})

	db := &FalkorDB{
		rdb:    client,
		client: client,
		sup:    sup,
		owned:  true,
		grace:  o.grace,
		logger: o.logger,
	}
	// Safety net for abandoned handles: if the owning facade is garbage
	// collected without Close, stop its server. Deliberate teardown should
	// still use Close or ShutdownAll.
	runtime.SetFinalizer(db, func(db *FalkorDB) { _ = db.Close() })
	return db, nil
}

// Attach connects a non-owning blocking client to an already-running
// instance's endpoint. Closing an attached client only closes the transport;
// it never stops a server the facade does not own. Options that configure
// instance startup or ownership are rejected rather than silently ignored.
func Attach(network, addr string, opts ...Option) (*FalkorDB, error) {
	o := buildOptions(opts)
	switch network {
	case "unix", "tcp":
	default:
		return nil, fmt.Errorf("falkorlite: unsupported network %q", network)
	}
	if len(o.openOnly) > 0 {
		return nil, fmt.Errorf("falkorlite: options not applicable to Attach: %s", strings.Join(o.openOnly, ", "))
	}
	client := redis.NewClient(&redis.Options{Network: network, Addr: addr})
	return &FalkorDB{
		rdb:    client,
		client: client,
		logger: o.logger,
	}, nil
}

// ShutdownAll stops every embedded instance started by this process that is
// still registered, tolerating individual failures. It is the safety net for
// callers that did not Close every handle; call it from process teardown.
func ShutdownAll() error {
	return process.ShutdownAll(DefaultShutdownGrace, slog.Default())
}
