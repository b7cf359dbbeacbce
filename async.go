package falkorlite

import (
	"context"
	"sync"
	"sync/atomic"
)

// asyncOutcome carries one command's result or error.
type asyncOutcome struct {
	value interface{}
	err   error
}

// asyncRequest is one queued command. The result channel is buffered so the
// dispatcher can always deliver without blocking: if the caller has abandoned
// the request (Await timed out), the late response parks in the buffer and is
// garbage collected with it instead of reaching a later caller.
type asyncRequest struct {
	id     uint64
	ctx    context.Context
	args   []interface{}
	result chan asyncOutcome
}

// Pending is an operation issued on the non-blocking facade. Obtain the
// outcome with Await; issuing never blocks the caller.
type Pending[T any] struct {
	id     uint64
	result <-chan asyncOutcome
	decode func(interface{}) (T, error)
}

// ID returns the request id, monotonically increasing per facade.
func (p *Pending[T]) ID() uint64 { return p.id }

// Await blocks until the result is available or ctx is done. After a ctx
// failure the operation is abandoned from the caller's perspective; a late
// response is discarded, never delivered elsewhere.
func (p *Pending[T]) Await(ctx context.Context) (T, error) {
	var zero T
	select {
	case out := <-p.result:
		if out.err != nil {
			return zero, out.err
		}
		if p.decode == nil {
			return zero, nil
		}
		return p.decode(out.value)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

const asyncQueueDepth = 256

// AsyncFalkorDB is the non-blocking client facade. Commands are queued to a
// single dispatcher goroutine that forwards them over the shared instance
// connection in issue order (FIFO per facade); callers hold a Pending and
// collect the outcome whenever convenient. Lifecycle and ownership semantics
// are identical to the blocking facade it wraps.
type AsyncFalkorDB struct {
	db       *FalkorDB
	requests chan *asyncRequest
	stopCh   chan struct{}
	wg       sync.WaitGroup
	nextID   atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// OpenAsync starts a fresh embedded instance and returns an owning
// non-blocking client bound to it. See Open for startup semantics.
func OpenAsync(opts ...Option) (*AsyncFalkorDB, error) {
	db, err := Open(opts...)
	if err != nil {
		return nil, err
	}
	return newAsync(db), nil
}

// AttachAsync connects a non-owning non-blocking client to an
// already-running instance's endpoint.
func AttachAsync(network, addr string, opts ...Option) (*AsyncFalkorDB, error) {
	db, err := Attach(network, addr, opts...)
	if err != nil {
		return nil, err
	}
	return newAsync(db), nil
}

func newAsync(db *FalkorDB) *AsyncFalkorDB {
	a := &AsyncFalkorDB{
		db:       db,
		requests: make(chan *asyncRequest, asyncQueueDepth),
		stopCh:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.dispatch()
	return a
}

// dispatch is the per-instance event loop: it drains the request queue in
// order and completes each request on its own result channel.
func (a *AsyncFalkorDB) dispatch() {
	defer a.wg.Done()
	for {
		select {
		case <-a.stopCh:
			// Fail whatever was queued behind the close.
			for {
				select {
				case req := <-a.requests:
					req.result <- asyncOutcome{err: ErrClosed}
				default:
					return
				}
			}
		case req := <-a.requests:
			select {
			case <-a.stopCh:
				req.result <- asyncOutcome{err: ErrClosed}
			default:
				value, err := a.db.do(req.ctx, req.args...)
				req.result <- asyncOutcome{value: value, err: err}
			}
		}
	}
}

// enqueue registers a command with the dispatcher and returns its result
// channel. It never blocks on command execution; it can only block
// momentarily if the queue itself is full.
//
// The closed check and the queue send happen under the same lock Close takes
// before stopping the dispatcher, so a request either lands in the queue
// ahead of the close (and is drained with ErrClosed) or fails here
// immediately. It can never be stranded between the two.
func (a *AsyncFalkorDB) enqueue(ctx context.Context, args ...interface{}) (uint64, <-chan asyncOutcome) {
	id := a.nextID.Add(1)
	result := make(chan asyncOutcome, 1)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		result <- asyncOutcome{err: ErrClosed}
		return id, result
	}
	a.requests <- &asyncRequest{id: id, ctx: ctx, args: args, result: result}
	a.mu.Unlock()
	return id, result
}

// SelectGraph returns a non-blocking handle to the named graph.
func (a *AsyncFalkorDB) SelectGraph(name string) *AsyncGraph {
	return &AsyncGraph{a: a, name: name}
}

// ListGraphs issues GRAPH.LIST without blocking.
func (a *AsyncFalkorDB) ListGraphs(ctx context.Context) *Pending[[]string] {
	id, result := a.enqueue(ctx, "GRAPH.LIST")
	return &Pending[[]string]{id: id, result: result, decode: stringSlice}
}

// ConfigGet reads a graph-engine configuration value without blocking.
func (a *AsyncFalkorDB) ConfigGet(ctx context.Context, key string) *Pending[string] {
	id, result := a.enqueue(ctx, "GRAPH.CONFIG", "GET", key)
	return &Pending[string]{id: id, result: result, decode: decodeConfigValue}
}

// ConfigSet updates a graph-engine configuration value without blocking.
func (a *AsyncFalkorDB) ConfigSet(ctx context.Context, key, value string) *Pending[struct{}] {
	id, result := a.enqueue(ctx, "GRAPH.CONFIG", "SET", key, value)
	return &Pending[struct{}]{id: id, result: result}
}

// UDFLoad registers a user-defined function library without blocking.
func (a *AsyncFalkorDB) UDFLoad(ctx context.Context, library, source string) *Pending[struct{}] {
	id, result := a.enqueue(ctx, "GRAPH.UDF", "LOAD", library, source)
	return &Pending[struct{}]{id: id, result: result}
}

// UDFList returns the loaded user-defined function libraries without blocking.
func (a *AsyncFalkorDB) UDFList(ctx context.Context) *Pending[[]string] {
	id, result := a.enqueue(ctx, "GRAPH.UDF", "LIST")
	return &Pending[[]string]{id: id, result: result, decode: stringSlice}
}

// UDFDelete removes a user-defined function library without blocking.
func (a *AsyncFalkorDB) UDFDelete(ctx context.Context, library string) *Pending[struct{}] {
	id, result := a.enqueue(ctx, "GRAPH.UDF", "DELETE", library)
	return &Pending[struct{}]{id: id, result: result}
}

// Ping issues a transport round trip without blocking.
func (a *AsyncFalkorDB) Ping(ctx context.Context) *Pending[struct{}] {
	id, result := a.enqueue(ctx, "PING")
	return &Pending[struct{}]{id: id, result: result}
}

// DB returns the blocking facade sharing this instance, for callers that mix
// both styles.
func (a *AsyncFalkorDB) DB() *FalkorDB { return a.db }

// Close stops the dispatcher, fails queued requests with ErrClosed and closes
// the underlying facade (shutting down the server when owned). Idempotent.
func (a *AsyncFalkorDB) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.stopCh)
	a.wg.Wait()
	return a.db.Close()
}

// AsyncGraph mirrors Graph for the non-blocking facade.
type AsyncGraph struct {
	a    *AsyncFalkorDB
	name string
}

// Name returns the graph name.
func (g *AsyncGraph) Name() string { return g.name }

// Query issues a Cypher query without blocking the caller.
func (g *AsyncGraph) Query(ctx context.Context, query string, params map[string]interface{}) *Pending[*QueryResult] {
	id, result := g.a.enqueue(ctx, "GRAPH.QUERY", g.name, applyParams(query, params))
	return &Pending[*QueryResult]{id: id, result: result, decode: parseQueryResult}
}

// ROQuery issues a read-only Cypher query without blocking the caller.
func (g *AsyncGraph) ROQuery(ctx context.Context, query string, params map[string]interface{}) *Pending[*QueryResult] {
	id, result := g.a.enqueue(ctx, "GRAPH.RO_QUERY", g.name, applyParams(query, params))
	return &Pending[*QueryResult]{id: id, result: result, decode: parseQueryResult}
}

// Delete removes the graph without blocking the caller.
func (g *AsyncGraph) Delete(ctx context.Context) *Pending[struct{}] {
	id, result := g.a.enqueue(ctx, "GRAPH.DELETE", g.name)
	return &Pending[struct{}]{id: id, result: result}
}

// Copy clones the graph under a new name without blocking the caller; the
// awaited value is a handle to the copy.
func (g *AsyncGraph) Copy(ctx context.Context, dst string) *Pending[*AsyncGraph] {
	id, result := g.a.enqueue(ctx, "GRAPH.COPY", g.name, dst)
	return &Pending[*AsyncGraph]{id: id, result: result, decode: func(interface{}) (*AsyncGraph, error) {
		return g.a.SelectGraph(dst), nil
	}}
}

// Explain returns the execution plan for a query without running it or
// blocking the caller.
func (g *AsyncGraph) Explain(ctx context.Context, query string) *Pending[[]string] {
	id, result := g.a.enqueue(ctx, "GRAPH.EXPLAIN", g.name, query)
	return &Pending[[]string]{id: id, result: result, decode: stringSlice}
}

// Profile runs the query and returns the annotated execution plan without
// blocking the caller.
func (g *AsyncGraph) Profile(ctx context.Context, query string) *Pending[[]string] {
	id, result := g.a.enqueue(ctx, "GRAPH.PROFILE", g.name, query)
	return &Pending[[]string]{id: id, result: result, decode: stringSlice}
}

// Slowlog returns the slow query log of the graph without blocking the caller.
func (g *AsyncGraph) Slowlog(ctx context.Context) *Pending[[]SlowlogEntry] {
	id, result := g.a.enqueue(ctx, "GRAPH.SLOWLOG", g.name)
	return &Pending[[]SlowlogEntry]{id: id, result: result, decode: parseSlowlog}
}

// SlowlogReset clears the slow query log without blocking the caller.
func (g *AsyncGraph) SlowlogReset(ctx context.Context) *Pending[struct{}] {
	id, result := g.a.enqueue(ctx, "GRAPH.SLOWLOG", g.name, "RESET")
	return &Pending[struct{}]{id: id, result: result}
}

// CallProcedure invokes a stored procedure without blocking the caller.
func (g *AsyncGraph) CallProcedure(ctx context.Context, procedure string, args ...string) *Pending[*QueryResult] {
	id, result := g.a.enqueue(ctx, "GRAPH.QUERY", g.name, callQuery(procedure, args))
	return &Pending[*QueryResult]{id: id, result: result, decode: parseQueryResult}
}
