package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// SchemaProvider reads schema snapshots from INFORMATION_SCHEMA and sys catalog views.
type SchemaProvider struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSchemaProvider opens a SQL Server connection pool.
func NewSchemaProvider(cfg *Config, logger *zap.Logger) (*SchemaProvider, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	return NewSchemaProviderFromDB(db, logger), nil
}

// NewSchemaProviderFromDB wraps an existing *sql.DB. Close closes it.
func NewSchemaProviderFromDB(db *sql.DB, logger *zap.Logger) *SchemaProvider {
	return &SchemaProvider{db: db, logger: logger.Named("mssql-schema")}
}

// Close releases the connection pool.
func (p *SchemaProvider) Close() error {
	return p.db.Close()
}

const tablesQuery = `SELECT TABLE_NAME, TABLE_TYPE FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = @p1 ORDER BY TABLE_NAME`

const columnsQuery = `SELECT c.TABLE_NAME, c.COLUMN_NAME, c.DATA_TYPE,
	CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
	c.COLUMN_DEFAULT,
	CASE WHEN pk.COLUMN_NAME IS NULL THEN 0 ELSE 1 END
FROM INFORMATION_SCHEMA.COLUMNS c
LEFT JOIN (
	SELECT ku.TABLE_NAME, ku.COLUMN_NAME
	FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
	JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku
		ON tc.CONSTRAINT_NAME = ku.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = ku.TABLE_SCHEMA
	WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY' AND tc.TABLE_SCHEMA = @p1
) pk ON pk.TABLE_NAME = c.TABLE_NAME AND pk.COLUMN_NAME = c.COLUMN_NAME
WHERE c.TABLE_SCHEMA = @p1
ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`

const foreignKeysQuery = `SELECT tp.name, cp.name, tr.name, cr.name
FROM sys.foreign_key_columns fkc
JOIN sys.tables tp ON fkc.parent_object_id = tp.object_id
JOIN sys.columns cp ON fkc.parent_object_id = cp.object_id AND fkc.parent_column_id = cp.column_id
JOIN sys.tables tr ON fkc.referenced_object_id = tr.object_id
JOIN sys.columns cr ON fkc.referenced_object_id = cr.object_id AND fkc.referenced_column_id = cr.column_id
WHERE SCHEMA_NAME(tp.schema_id) = @p1
ORDER BY tp.name, cp.name`

// GetSnapshot reads tables, views, columns, and foreign keys of a schema (e.g. "dbo").
func (p *SchemaProvider) GetSnapshot(ctx context.Context, schemaName string) (*models.SchemaSnapshot, error) {
	snapshot := &models.SchemaSnapshot{Name: schemaName, CapturedAt: time.Now()}

	index := make(map[string]*models.SchemaTable)
	var order []string
	err := p.each(ctx, tablesQuery, schemaName, func(rows *sql.Rows) error {
		var name, tableType string
		if err := rows.Scan(&name, &tableType); err != nil {
			return err
		}
		index[name] = &models.SchemaTable{Name: name, IsView: tableType == "VIEW"}
		order = append(order, name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read tables: %w", err)
	}

	err = p.each(ctx, columnsQuery, schemaName, func(rows *sql.Rows) error {
		var (
			tableName string
			col       models.SchemaColumn
			def       sql.NullString
		)
		if err := rows.Scan(&tableName, &col.Name, &col.DataType, &col.IsNullable, &def, &col.IsPrimaryKey); err != nil {
			return err
		}
		if def.Valid {
			col.DefaultValue = &def.String
		}
		if t, ok := index[tableName]; ok {
			t.Columns = append(t.Columns, col)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	err = p.each(ctx, foreignKeysQuery, schemaName, func(rows *sql.Rows) error {
		var fk models.ForeignKey
		if err := rows.Scan(&fk.SourceTable, &fk.SourceColumn, &fk.TargetTable, &fk.TargetColumn); err != nil {
			return err
		}
		snapshot.ForeignKeys = append(snapshot.ForeignKeys, fk)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read foreign keys: %w", err)
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
		zap.Int("views", len(snapshot.Views)))

	return snapshot, nil
}

func (p *SchemaProvider) each(ctx context.Context, query, schemaName string, scan func(*sql.Rows) error) error {
	rows, err := p.db.QueryContext(ctx, query, schemaName)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
