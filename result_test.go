package falkorlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQueryResultStatsOnly(t *testing.T) {
	result, err := parseQueryResult([]interface{}{
		[]interface{}{
			"Nodes created: 2",
			"Relationships created: 1",
			"Properties set: 3",
			"Query internal execution time: 0.512 milliseconds",
		},
	})
	require.NoError(t, err)

	assert.True(t, result.Empty())
	assert.Empty(t, result.Header)
	assert.Equal(t, 2, result.NodesCreated())
	assert.Equal(t, 1, result.RelationshipsCreated())
	assert.Equal(t, 3, result.PropertiesSet())
	assert.Equal(t, 0, result.NodesDeleted())
	assert.InDelta(t, 0.512, result.InternalExecutionTime(), 1e-9)
	assert.False(t, result.CachedExecution())
}

func TestParseQueryResultWithRows(t *testing.T) {
	result, err := parseQueryResult([]interface{}{
		[]interface{}{"n.name", "n.age"},
		[]interface{}{
			[]interface{}{"Alice", int64(30)},
			[]interface{}{"Bob", int64(25)},
		},
		[]interface{}{"Cached execution: 1"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"n.name", "n.age"}, result.Header)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, []interface{}{"Alice", int64(30)}, result.Rows[0])
	assert.False(t, result.Empty())
	assert.True(t, result.CachedExecution())
}

func TestParseQueryResultCompactHeader(t *testing.T) {
	// Compact protocol replies carry [type, name] column pairs.
	result, err := parseQueryResult([]interface{}{
		[]interface{}{
			[]interface{}{int64(1), "n.name"},
			[]interface{}{int64(1), "n.age"},
		},
		[]interface{}{},
		[]interface{}{},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"n.name", "n.age"}, result.Header)
	assert.True(t, result.Empty())
}

func TestParseQueryResultRejectsUnknownShapes(t *testing.T) {
	_, err := parseQueryResult("OK")
	require.Error(t, err)

	_, err = parseQueryResult([]interface{}{nil, nil})
	require.Error(t, err)
}
