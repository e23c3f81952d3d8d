package datasource

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// AdapterInfo describes a registered adapter.
type AdapterInfo struct {
	Type        string `json:"type"`         // "postgres", "sqlserver"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Dialect     string `json:"dialect"`      // dialect name used in prompts
}

// SchemaProviderFactory opens a SchemaProvider from a connection config map.
type SchemaProviderFactory func(ctx context.Context, config map[string]any, logger *zap.Logger) (SchemaProvider, error)

// QueryExecutorFactory opens a QueryExecutor from a connection config map.
type QueryExecutorFactory func(ctx context.Context, config map[string]any, opts Options, logger *zap.Logger) (QueryExecutor, error)

// AdapterRegistration contains info + factories for creating adapters.
type AdapterRegistration struct {
	Info                  AdapterInfo
	SchemaProviderFactory SchemaProviderFactory
	QueryExecutorFactory  QueryExecutorFactory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters, sorted by type.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// GetSchemaProviderFactory returns the schema provider factory for a datasource type.
// Returns nil if type is not registered.
func GetSchemaProviderFactory(dsType string) SchemaProviderFactory {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[dsType]; ok {
		return reg.SchemaProviderFactory
	}
	return nil
}

// GetQueryExecutorFactory returns the query executor factory for a datasource type.
// Returns nil if type is not registered.
func GetQueryExecutorFactory(dsType string) QueryExecutorFactory {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[dsType]; ok {
		return reg.QueryExecutorFactory
	}
	return nil
}

// IsRegistered checks if an adapter type is available.
func IsRegistered(dsType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[dsType]
	return ok
}
