package propertygraph

import (
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
)

func TestStoreUnavailableClassification(t *testing.T) {
	// Transient server errors are retryable per the driver and surface as
	// store-unavailable.
	assert.True(t, storeUnavailable(&neo4j.Neo4jError{
		Code: "Neo.TransientError.General.TransactionMemoryLimit",
		Msg:  "out of memory",
	}))

	// Client errors and arbitrary failures are permanent.
	assert.False(t, storeUnavailable(&neo4j.Neo4jError{
		Code: "Neo.ClientError.Statement.SyntaxError",
		Msg:  "bad cypher",
	}))
	assert.False(t, storeUnavailable(errors.New("bad cypher")))
}

func TestRecordAccessors(t *testing.T) {
	rec := Record{"label": "Person", "count": int64(3)}

	assert.Equal(t, "Person", rec.GetString("label"))
	assert.Equal(t, "", rec.GetString("count"))
	assert.Equal(t, "", rec.GetString("missing"))
}
