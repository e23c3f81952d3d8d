package datasource

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
)

// AdapterFactory creates adapters from the registry.
type AdapterFactory interface {
	// NewSchemaProvider creates a schema provider for the given datasource type.
	NewSchemaProvider(ctx context.Context, dsType string, config map[string]any) (SchemaProvider, error)

	// NewQueryExecutor creates a query executor for the given datasource type.
	NewQueryExecutor(ctx context.Context, dsType string, config map[string]any) (QueryExecutor, error)

	// ListTypes returns info for all registered adapter types.
	ListTypes() []AdapterInfo
}

type registryFactory struct {
	opts   Options
	logger *zap.Logger
}

// NewAdapterFactory returns a factory that uses the global registry.
func NewAdapterFactory(opts Options, logger *zap.Logger) AdapterFactory {
	return &registryFactory{
		opts:   opts,
		logger: logger,
	}
}

func (f *registryFactory) NewSchemaProvider(ctx context.Context, dsType string, config map[string]any) (SchemaProvider, error) {
	factory := GetSchemaProviderFactory(dsType)
	if factory == nil {
		return nil, fmt.Errorf("%w: %s (not compiled in)", apperrors.ErrUnsupportedDatasource, dsType)
	}
	return factory(ctx, config, f.logger)
}

func (f *registryFactory) NewQueryExecutor(ctx context.Context, dsType string, config map[string]any) (QueryExecutor, error) {
	factory := GetQueryExecutorFactory(dsType)
	if factory == nil {
		return nil, fmt.Errorf("%w: %s (not compiled in)", apperrors.ErrUnsupportedDatasource, dsType)
	}
	return factory(ctx, config, f.opts, f.logger)
}

func (f *registryFactory) ListTypes() []AdapterInfo {
	return RegisteredAdapters()
}

// Ensure registryFactory implements AdapterFactory at compile time.
var _ AdapterFactory = (*registryFactory)(nil)
