package mssql

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "sqlserver",
			DisplayName: "Microsoft SQL Server",
			Dialect:     "Microsoft SQL Server (T-SQL)",
		},
		SchemaProviderFactory: func(ctx context.Context, config map[string]any, logger *zap.Logger) (datasource.SchemaProvider, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewSchemaProvider(cfg, logger)
		},
		QueryExecutorFactory: func(ctx context.Context, config map[string]any, opts datasource.Options, logger *zap.Logger) (datasource.QueryExecutor, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewQueryExecutor(cfg, opts, logger)
		},
	})
}
