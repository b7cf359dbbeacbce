package falkorlite

import (
	"fmt"
	"strconv"
	"strings"
)

// QueryResult holds a parsed GRAPH.QUERY reply: the projection header, the
// result rows, and the statistics trailer the engine appends to every query.
type QueryResult struct {
	Header []string
	Rows   [][]interface{}
	Stats  map[string]string
}

// Empty reports whether the query projected no rows.
func (r *QueryResult) Empty() bool { return len(r.Rows) == 0 }

// stat returns a parsed numeric statistic, 0 when absent.
func (r *QueryResult) stat(name string) int {
	v, ok := r.Stats[name]
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(v)
	return n
}

// NodesCreated returns the number of nodes the query created.
func (r *QueryResult) NodesCreated() int { return r.stat("Nodes created") }

// NodesDeleted returns the number of nodes the query deleted.
func (r *QueryResult) NodesDeleted() int { return r.stat("Nodes deleted") }

// RelationshipsCreated returns the number of relationships the query created.
func (r *QueryResult) RelationshipsCreated() int { return r.stat("Relationships created") }

// RelationshipsDeleted returns the number of relationships the query deleted.
func (r *QueryResult) RelationshipsDeleted() int { return r.stat("Relationships deleted") }

// PropertiesSet returns the number of properties the query set.
func (r *QueryResult) PropertiesSet() int { return r.stat("Properties set") }

// CachedExecution reports whether the server served the query from its
// execution plan cache.
func (r *QueryResult) CachedExecution() bool { return r.stat("Cached execution") == 1 }

// InternalExecutionTime returns the server-side execution time in
// milliseconds, 0 when unreported.
func (r *QueryResult) InternalExecutionTime() float64 {
	for k, v := range r.Stats {
		if strings.Contains(k, "internal execution time") {
			f, _ := strconv.ParseFloat(strings.TrimSuffix(v, " milliseconds"), 64)
			return f
		}
	}
	return 0
}

// parseQueryResult decodes the nested-array reply of GRAPH.QUERY. The reply
// is either [stats] for write-only queries or [header, rows, stats] when the
// query projects values.
func parseQueryResult(res interface{}) (*QueryResult, error) {
	raw, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("falkorlite: unexpected GRAPH.QUERY reply %T", res)
	}

	result := &QueryResult{Stats: map[string]string{}}
	switch len(raw) {
	case 1:
		parseStats(result, raw[0])
		return result, nil
	case 3:
		if header, ok := raw[0].([]interface{}); ok {
			result.Header = make([]string, 0, len(header))
			for _, col := range header {
				result.Header = append(result.Header, headerName(col))
			}
		}
		if rows, ok := raw[1].([]interface{}); ok {
			result.Rows = make([][]interface{}, 0, len(rows))
			for _, row := range rows {
				if cells, ok := row.([]interface{}); ok {
					result.Rows = append(result.Rows, cells)
				}
			}
		}
		parseStats(result, raw[2])
		return result, nil
	default:
		return nil, fmt.Errorf("falkorlite: unexpected GRAPH.QUERY reply of %d sections", len(raw))
	}
}

// headerName extracts the column name; in compact replies columns arrive as
// [type, name] pairs, otherwise as plain strings.
func headerName(col interface{}) string {
	if pair, ok := col.([]interface{}); ok && len(pair) == 2 {
		return fmt.Sprint(pair[1])
	}
	return fmt.Sprint(col)
}

// parseStats splits the "Label: value" statistics lines.
func parseStats(result *QueryResult, section interface{}) {
	lines, ok := section.([]interface{})
	if !ok {
		return
	}
	for _, line := range lines {
		text := fmt.Sprint(line)
		if name, value, found := strings.Cut(text, ": "); found {
			result.Stats[name] = value
		}
	}
}
