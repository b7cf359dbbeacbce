package falkorlite

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Graph is a handle to one named graph inside an embedded instance. It
// carries no state beyond the name; all operations go through the owning
// FalkorDB facade.
type Graph struct {
	db   *FalkorDB
	name string
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Query executes a Cypher query against the graph. params, when non-nil, are
// rendered as a CYPHER parameter prefix so values are passed out-of-band of
// the query text.
func (g *Graph) Query(ctx context.Context, query string, params map[string]interface{}) (*QueryResult, error) {
	res, err := g.db.do(ctx, "GRAPH.QUERY", g.name, applyParams(query, params))
	if err != nil {
		return nil, err
	}
	return parseQueryResult(res)
}

// ROQuery executes a read-only Cypher query. Read-only queries are rejected
// by the server if they attempt writes and may be served from replicas in
// non-embedded deployments.
func (g *Graph) ROQuery(ctx context.Context, query string, params map[string]interface{}) (*QueryResult, error) {
	res, err := g.db.do(ctx, "GRAPH.RO_QUERY", g.name, applyParams(query, params))
	if err != nil {
		return nil, err
	}
	return parseQueryResult(res)
}

// Delete removes the graph and all of its data.
func (g *Graph) Delete(ctx context.Context) error {
	_, err := g.db.do(ctx, "GRAPH.DELETE", g.name)
	return err
}

// Copy clones the graph under a new name and returns a handle to the copy.
func (g *Graph) Copy(ctx context.Context, dst string) (*Graph, error) {
	if _, err := g.db.do(ctx, "GRAPH.COPY", g.name, dst); err != nil {
		return nil, err
	}
	return g.db.SelectGraph(dst), nil
}

// Explain returns the execution plan for a query without running it.
func (g *Graph) Explain(ctx context.Context, query string) ([]string, error) {
	res, err := g.db.do(ctx, "GRAPH.EXPLAIN", g.name, query)
	if err != nil {
		return nil, err
	}
	return stringSlice(res)
}

// Profile runs the query and returns the execution plan annotated with
// per-operation records and timings.
func (g *Graph) Profile(ctx context.Context, query string) ([]string, error) {
	res, err := g.db.do(ctx, "GRAPH.PROFILE", g.name, query)
	if err != nil {
		return nil, err
	}
	return stringSlice(res)
}

// SlowlogEntry is one record from the graph slow query log.
type SlowlogEntry struct {
	StartedAt string
	Command   string
	Query     string
	TookMS    float64
}

// Slowlog returns the slow query log of the graph.
func (g *Graph) Slowlog(ctx context.Context) ([]SlowlogEntry, error) {
	res, err := g.db.do(ctx, "GRAPH.SLOWLOG", g.name)
	if err != nil {
		return nil, err
	}
	return parseSlowlog(res)
}

// parseSlowlog decodes a GRAPH.SLOWLOG reply, one [timestamp, command, query,
// duration] row per entry.
func parseSlowlog(res interface{}) ([]SlowlogEntry, error) {
	raw, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("falkorlite: unexpected GRAPH.SLOWLOG reply %T", res)
	}
	entries := make([]SlowlogEntry, 0, len(raw))
	for _, item := range raw {
		row, ok := item.([]interface{})
		if !ok || len(row) < 4 {
			continue
		}
		took, _ := strconv.ParseFloat(fmt.Sprint(row[3]), 64)
		entries = append(entries, SlowlogEntry{
			StartedAt: fmt.Sprint(row[0]),
			Command:   fmt.Sprint(row[1]),
			Query:     fmt.Sprint(row[2]),
			TookMS:    took,
		})
	}
	return entries, nil
}

// SlowlogReset clears the slow query log of the graph.
func (g *Graph) SlowlogReset(ctx context.Context) error {
	_, err := g.db.do(ctx, "GRAPH.SLOWLOG", g.name, "RESET")
	return err
}

// CallProcedure invokes a stored procedure, e.g. db.labels.
func (g *Graph) CallProcedure(ctx context.Context, procedure string, args ...string) (*QueryResult, error) {
	return g.Query(ctx, callQuery(procedure, args), nil)
}

// callQuery renders a CALL statement with quoted string arguments.
func callQuery(procedure string, args []string) string {
	var b strings.Builder
	b.WriteString("CALL ")
	b.WriteString(procedure)
	b.WriteByte('(')
	for i, arg := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteCypher(arg))
	}
	b.WriteByte(')')
	return b.String()
}

// applyParams prepends the CYPHER parameter header to a query. Keys are
// sorted so the resulting command text is deterministic.
func applyParams(query string, params map[string]interface{}) string {
	if len(params) == 0 {
		return query
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("CYPHER ")
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(encodeCypherValue(params[k]))
		b.WriteByte(' ')
	}
	b.WriteString(query)
	return b.String()
}

// encodeCypherValue renders a Go value as a Cypher literal.
func encodeCypherValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return quoteCypher(val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = encodeCypherValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + encodeCypherValue(val[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprint(val)
	}
}

func quoteCypher(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func stringSlice(res interface{}) ([]string, error) {
	raw, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("falkorlite: unexpected reply %T", res)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, fmt.Sprint(v))
	}
	return out, nil
}
