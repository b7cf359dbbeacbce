// Package falkorlite embeds a FalkorDB-enabled Redis server as a managed
// child process, so callers get a ready-to-use graph database client without
// operating a separate server deployment.
//
// Each Open call allocates an isolated workspace (private directory, unix
// domain socket or loopback port, config/log/pid files), renders a
// secure-by-default server configuration, launches the server binary, waits
// for it to accept connections and returns a client bound to it. Closing the
// client stops the server and removes the workspace; instances whose handles
// are abandoned are swept by ShutdownAll.
//
// # Basic Usage
//
//	db, err := falkorlite.Open(
//		falkorlite.WithOverride("maxmemory", "64mb"),
//		falkorlite.WithStartupTimeout(10*time.Second),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	g := db.SelectGraph("social")
//	result, err := g.Query(ctx,
//		"CREATE (n:Person {name: $name}) RETURN n",
//		map[string]interface{}{"name": "Alice"},
//	)
//
// # Non-blocking Facade
//
// OpenAsync returns a facade whose operations yield a Pending result instead
// of suspending the caller; operations on one facade are executed in issue
// order over a single dispatcher:
//
//	adb, err := falkorlite.OpenAsync()
//	pending := adb.SelectGraph("social").Query(ctx, "MATCH (n) RETURN n", nil)
//	// ... do other work ...
//	result, err := pending.Await(ctx)
//
// # Attaching
//
// Attach binds a client to an instance it does not own; closing it leaves
// the server running:
//
//	other, err := falkorlite.Attach("unix", "/tmp/falkorlite-<id>/redis.sock")
//
// # Server Binary
//
// The library spawns a pre-built redis-server with the FalkorDB module; it
// never compiles or downloads them. Paths are injected with WithServerBinary
// and WithGraphModule, or resolved from the FALKORLITE_REDIS_SERVER and
// FALKORLITE_MODULE environment variables and conventional locations.
package falkorlite
