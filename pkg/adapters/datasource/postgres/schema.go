package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// SchemaProvider reads schema snapshots from information_schema.
type SchemaProvider struct {
	pool      *pgxpool.Pool
	ownedPool bool
	logger    *zap.Logger
}

// NewSchemaProvider connects with its own pool.
func NewSchemaProvider(ctx context.Context, cfg *Config, logger *zap.Logger) (*SchemaProvider, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &SchemaProvider{pool: pool, ownedPool: true, logger: logger.Named("postgres-schema")}, nil
}

// NewSchemaProviderFromPool reuses an existing pool; Close leaves it open.
func NewSchemaProviderFromPool(pool *pgxpool.Pool, logger *zap.Logger) *SchemaProvider {
	return &SchemaProvider{pool: pool, logger: logger.Named("postgres-schema")}
}

// Close releases the pool if this provider created it.
func (p *SchemaProvider) Close() error {
	if p.ownedPool {
		p.pool.Close()
	}
	return nil
}

const tablesQuery = `
	SELECT table_name, table_type
	FROM information_schema.tables
	WHERE table_schema = $1
	  AND table_type IN ('BASE TABLE', 'VIEW')
	ORDER BY table_name`

// Primary keys come from pg_index so that PKs backed by unique indexes are detected.
const columnsQuery = `
	SELECT
		c.table_name,
		c.column_name,
		c.data_type,
		c.is_nullable = 'YES' AS is_nullable,
		c.column_default,
		COALESCE(pk.is_primary, false) AS is_primary
	FROM information_schema.columns c
	LEFT JOIN (
		SELECT t.relname AS table_name, a.attname AS column_name, true AS is_primary
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE ix.indisprimary AND n.nspname = $1
	) pk ON pk.table_name = c.table_name AND pk.column_name = c.column_name
	WHERE c.table_schema = $1
	ORDER BY c.table_name, c.ordinal_position`

const foreignKeysQuery = `
	SELECT
		kcu.table_name,
		kcu.column_name,
		ccu.table_name AS target_table,
		ccu.column_name AS target_column
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
		ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
	JOIN information_schema.constraint_column_usage ccu
		ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
	WHERE tc.constraint_type = 'FOREIGN KEY'
	  AND tc.table_schema = $1
	ORDER BY kcu.table_name, kcu.column_name`

// GetSnapshot reads tables, views, columns, and foreign keys of a schema.
func (p *SchemaProvider) GetSnapshot(ctx context.Context, schemaName string) (*models.SchemaSnapshot, error) {
	snapshot := &models.SchemaSnapshot{Name: schemaName, CapturedAt: time.Now()}

	rows, err := p.pool.Query(ctx, tablesQuery, schemaName)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	index := make(map[string]*models.SchemaTable)
	var order []string
	for rows.Next() {
		var name, tableType string
		if err := rows.Scan(&name, &tableType); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table: %w", err)
		}
		index[name] = &models.SchemaTable{Name: name, IsView: tableType == "VIEW"}
		order = append(order, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	rows, err = p.pool.Query(ctx, columnsQuery, schemaName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	for rows.Next() {
		var (
			tableName string
			col       models.SchemaColumn
		)
		if err := rows.Scan(&tableName, &col.Name, &col.DataType, &col.IsNullable, &col.DefaultValue, &col.IsPrimaryKey); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if t, ok := index[tableName]; ok {
			t.Columns = append(t.Columns, col)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	rows, err = p.pool.Query(ctx, foreignKeysQuery, schemaName)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	for rows.Next() {
		var fk models.ForeignKey
		if err := rows.Scan(&fk.SourceTable, &fk.SourceColumn, &fk.TargetTable, &fk.TargetColumn); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		snapshot.ForeignKeys = append(snapshot.ForeignKeys, fk)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}

	for _, name := range order {
		t := index[name]
		if t.IsView {
			snapshot.Views = append(snapshot.Views, *t)
		} else {
			snapshot.Tables = append(snapshot.Tables, *t)
		}
	}

	p.logger.Debug("Read schema snapshot",
		zap.String("schema", schemaName),
		zap.Int("tables", len(snapshot.Tables)),
		zap.Int("views", len(snapshot.Views)),
		zap.Int("foreign_keys", len(snapshot.ForeignKeys)))

	return snapshot, nil
}
