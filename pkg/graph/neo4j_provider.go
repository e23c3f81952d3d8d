package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// maxNeo4jDepth bounds variable-length path patterns.
const maxNeo4jDepth = 6

// Neo4jProvider serves hints from a table graph stored in Neo4j. Tables are
// (:Table {schema, key, name}) nodes joined by [:REFERENCES {join}] edges.
type Neo4jProvider struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// NewNeo4jProvider creates a provider over an open driver.
func NewNeo4jProvider(driver neo4j.DriverWithContext, database string, logger *zap.Logger) *Neo4jProvider {
	return &Neo4jProvider{
		driver:   driver,
		database: database,
		logger:   logger.Named("neo4j-graph"),
	}
}

var _ Provider = (*Neo4jProvider)(nil)

// Sync replaces the stored graph for the snapshot's schema with its tables and
// foreign keys. It is registered as a schema refresh listener.
func (p *Neo4jProvider) Sync(ctx context.Context, snap *models.SchemaSnapshot) error {
	if snap == nil {
		return nil
	}

	tables := make([]map[string]any, 0, len(snap.Tables)+len(snap.Views))
	for _, t := range snap.AllTables() {
		tables = append(tables, map[string]any{
			"key":  strings.ToLower(t.Name),
			"name": t.Name,
		})
	}
	refs := make([]map[string]any, 0, len(snap.ForeignKeys))
	for _, fk := range snap.ForeignKeys {
		refs = append(refs, map[string]any{
			"source": strings.ToLower(fk.SourceTable),
			"target": strings.ToLower(fk.TargetTable),
			"join":   fmt.Sprintf("%s.%s = %s.%s", fk.SourceTable, fk.SourceColumn, fk.TargetTable, fk.TargetColumn),
		})
	}

	session := p.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: p.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if res, err := tx.Run(ctx, `
MATCH (t:Table {schema: $schema})
DETACH DELETE t
`, map[string]any{"schema": snap.Name}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if res, err := tx.Run(ctx, `
UNWIND $tables AS t
CREATE (:Table {schema: $schema, key: t.key, name: t.name})
`, map[string]any{"schema": snap.Name, "tables": tables}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(refs) == 0 {
			return nil, nil
		}
		res, err := tx.Run(ctx, `
UNWIND $refs AS r
MATCH (s:Table {schema: $schema, key: r.source})
MATCH (d:Table {schema: $schema, key: r.target})
WHERE s <> d
CREATE (s)-[:REFERENCES {join: r.join}]->(d)
`, map[string]any{"schema": snap.Name, "refs": refs})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("sync table graph for schema %q: %w", snap.Name, err)
	}

	p.logger.Info("Table graph synced",
		zap.String("schema", snap.Name),
		zap.Uint64("version", snap.Version),
		zap.Int("tables", len(tables)),
		zap.Int("references", len(refs)))
	return nil
}

// Hints returns the shortest stored path from each table to every table within maxDepth.
func (p *Neo4jProvider) Hints(ctx context.Context, snap *models.SchemaSnapshot, tables []string, maxDepth int) ([]models.RelationshipHint, error) {
	starts := normalizeTables(tables)
	if snap == nil || len(starts) == 0 || maxDepth <= 0 {
		return nil, nil
	}
	if maxDepth > maxNeo4jDepth {
		maxDepth = maxNeo4jDepth
	}

	// Path length bounds cannot be parameters.
	query := fmt.Sprintf(`
UNWIND $starts AS start
MATCH (a:Table {schema: $schema, key: start})
MATCH (b:Table {schema: $schema})
WHERE b <> a
MATCH path = shortestPath((a)-[:REFERENCES*1..%d]-(b))
RETURN a.name AS from_table,
       b.name AS to_table,
       [n IN nodes(path)[1..-1] | n.name] AS via,
       [r IN relationships(path) | r.join] AS joins,
       length(path) AS depth
ORDER BY depth, from_table, to_table
`, maxDepth)

	session := p.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: p.database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"schema": snap.Name, "starts": starts})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}

		hints := make([]models.RelationshipHint, 0, len(records))
		for _, rec := range records {
			h := models.RelationshipHint{Source: SourceNeo4j}
			if v, ok := rec.Get("from_table"); ok {
				h.FromTable, _ = v.(string)
			}
			if v, ok := rec.Get("to_table"); ok {
				h.ToTable, _ = v.(string)
			}
			if v, ok := rec.Get("via"); ok {
				h.Via = stringList(v)
			}
			if v, ok := rec.Get("joins"); ok {
				h.JoinColumn = strings.Join(stringList(v), " AND ")
			}
			if v, ok := rec.Get("depth"); ok {
				if d, ok := v.(int64); ok {
					h.Depth = int(d)
				}
			}
			hints = append(hints, h)
		}
		return hints, nil
	})
	if err != nil {
		return nil, fmt.Errorf("query table graph for schema %q: %w", snap.Name, err)
	}
	return rankHints(out.([]models.RelationshipHint), starts), nil
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
