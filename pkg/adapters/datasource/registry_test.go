package datasource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

type stubProvider struct{ config map[string]any }

func (s *stubProvider) GetSnapshot(ctx context.Context, schemaName string) (*models.SchemaSnapshot, error) {
	return &models.SchemaSnapshot{Name: schemaName}, nil
}

func (s *stubProvider) Close() error { return nil }

type stubExecutor struct{ opts Options }

func (s *stubExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*QueryExecutionResult, error) {
	return &QueryExecutionResult{}, nil
}

func (s *stubExecutor) Dialect() string { return "stub" }

func (s *stubExecutor) Close() error { return nil }

func TestRegistryFactory(t *testing.T) {
	Register(AdapterRegistration{
		Info: AdapterInfo{Type: "stub", DisplayName: "Stub", Dialect: "stub"},
		SchemaProviderFactory: func(ctx context.Context, config map[string]any, logger *zap.Logger) (SchemaProvider, error) {
			return &stubProvider{config: config}, nil
		},
		QueryExecutorFactory: func(ctx context.Context, config map[string]any, opts Options, logger *zap.Logger) (QueryExecutor, error) {
			return &stubExecutor{opts: opts}, nil
		},
	})
	require.True(t, IsRegistered("stub"))

	factory := NewAdapterFactory(Options{StatementTimeout: 5}, zap.NewNop())
	ctx := context.Background()

	provider, err := factory.NewSchemaProvider(ctx, "stub", map[string]any{"host": "db"})
	require.NoError(t, err)
	assert.Equal(t, "db", provider.(*stubProvider).config["host"])

	executor, err := factory.NewQueryExecutor(ctx, "stub", nil)
	require.NoError(t, err)
	assert.Equal(t, Options{StatementTimeout: 5}, executor.(*stubExecutor).opts)

	assert.Contains(t, factory.ListTypes(), AdapterInfo{Type: "stub", DisplayName: "Stub", Dialect: "stub"})

	_, err = factory.NewQueryExecutor(ctx, "oracle", nil)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedDatasource)
	_, err = factory.NewSchemaProvider(ctx, "oracle", nil)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedDatasource)
}

func TestEffectiveLimit(t *testing.T) {
	assert.Equal(t, MaxQueryLimit, EffectiveLimit(0))
	assert.Equal(t, MaxQueryLimit, EffectiveLimit(-5))
	assert.Equal(t, MaxQueryLimit, EffectiveLimit(MaxQueryLimit+1))
	assert.Equal(t, 25, EffectiveLimit(25))
}
