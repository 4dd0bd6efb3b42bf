// Package propertygraph provides a client for the property-graph mirror used
// by traversal queries and the sync engine.
package propertygraph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
)

// Record is a single result row keyed by return alias.
type Record map[string]any

// Client is the property-graph surface used by the sync engine and the
// impact analyzer. The mirror is always rebuildable from the triple store,
// so callers treat every write here as idempotent.
type Client interface {
	// Read runs a read query and returns all result rows.
	Read(ctx context.Context, query string, params map[string]any) ([]Record, error)

	// Write runs a write query and returns the rows it yields.
	Write(ctx context.Context, query string, params map[string]any) ([]Record, error)

	// Ping verifies connectivity to the graph store.
	Ping(ctx context.Context) error

	// Close releases the underlying driver.
	Close(ctx context.Context) error
}

type boltClient struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// NewClient connects to a Bolt endpoint. database may be empty for the
// server default.
func NewClient(uri, username, password, database string, logger *zap.Logger) (Client, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver: %w", err)
	}
	return &boltClient{
		driver:   driver,
		database: database,
		logger:   logger.Named("propertygraph"),
	}, nil
}

var _ Client = (*boltClient)(nil)

func (c *boltClient) Read(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	return c.run(ctx, neo4j.AccessModeRead, query, params)
}

func (c *boltClient) Write(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	return c.run(ctx, neo4j.AccessModeWrite, query, params)
}

func (c *boltClient) run(ctx context.Context, mode neo4j.AccessMode, query string, params map[string]any) ([]Record, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		if storeUnavailable(err) {
			return nil, fmt.Errorf("graph store unreachable: %v: %w", err, apperrors.ErrStoreUnavailable)
		}
		return nil, fmt.Errorf("graph query failed: %w", err)
	}

	var records []Record
	for result.Next(ctx) {
		records = append(records, Record(result.Record().AsMap()))
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to consume graph results: %w", err)
	}

	return records, nil
}

// storeUnavailable reports whether a driver error is connectivity-related or
// transient per the driver's retry classification. Both map to the
// store-unavailable kind so callers back off and retry.
func storeUnavailable(err error) bool {
	return neo4j.IsConnectivityError(err) || neo4j.IsRetryable(err)
}

func (c *boltClient) Ping(ctx context.Context) error {
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("graph store unreachable: %v: %w", err, apperrors.ErrStoreUnavailable)
	}
	return nil
}

func (c *boltClient) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// GetString reads a string field from a record, returning "" when absent or
// of another type.
func (r Record) GetString(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// GetInt64 reads an integer field from a record, returning 0 when absent.
func (r Record) GetInt64(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
