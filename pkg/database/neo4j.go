package database

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/retry"
)

// NewNeo4jDriver creates a Neo4j driver and verifies connectivity.
// Returns nil if Neo4j is not configured (URI is empty).
func NewNeo4jDriver(ctx context.Context, cfg *config.Neo4jConfig) (neo4j.DriverWithContext, error) {
	if cfg.URI == "" {
		return nil, nil
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	verify := func() error { return driver.VerifyConnectivity(ctx) }
	if err := retry.DoIfRetryable(ctx, retry.ConnectConfig(), verify); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to Neo4j: %w", err)
	}

	return driver, nil
}
