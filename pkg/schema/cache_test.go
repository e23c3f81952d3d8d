package schema

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

type mockProvider struct {
	calls  atomic.Int32
	tables []string
	err    error
}

func (m *mockProvider) GetSnapshot(ctx context.Context, schemaName string) (*models.SchemaSnapshot, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	snap := &models.SchemaSnapshot{Name: schemaName}
	for _, t := range m.tables {
		snap.Tables = append(snap.Tables, models.SchemaTable{Name: t})
	}
	return snap, nil
}

func (m *mockProvider) Close() error { return nil }

func TestCache_GetLoadsOnce(t *testing.T) {
	provider := &mockProvider{tables: []string{"orders"}}
	cache := NewCache(provider, zap.NewNop())
	ctx := context.Background()

	first, err := cache.Get(ctx, "public")
	require.NoError(t, err)
	second, err := cache.Get(ctx, "public")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), provider.calls.Load())
	assert.Equal(t, uint64(1), first.Version)
}

func TestCache_RefreshSwapsWithoutMutatingReaders(t *testing.T) {
	provider := &mockProvider{tables: []string{"orders"}}
	cache := NewCache(provider, zap.NewNop())
	ctx := context.Background()

	held, err := cache.Get(ctx, "public")
	require.NoError(t, err)

	var notified *models.SchemaSnapshot
	cache.OnRefresh(func(s *models.SchemaSnapshot) { notified = s })

	provider.tables = []string{"orders", "vendors"}
	refreshed, err := cache.Refresh(ctx, "public")
	require.NoError(t, err)

	assert.Len(t, held.Tables, 1, "a held snapshot must not change")
	assert.Len(t, refreshed.Tables, 2)
	assert.Greater(t, refreshed.Version, held.Version)
	assert.Same(t, refreshed, notified)

	current, err := cache.Get(ctx, "public")
	require.NoError(t, err)
	assert.Same(t, refreshed, current)
}

func TestCache_RefreshErrorKeepsPrevious(t *testing.T) {
	provider := &mockProvider{tables: []string{"orders"}}
	cache := NewCache(provider, zap.NewNop())
	ctx := context.Background()

	held, err := cache.Get(ctx, "public")
	require.NoError(t, err)

	provider.err = errors.New("connection refused")
	_, err = cache.Refresh(ctx, "public")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	current, err := cache.Get(ctx, "public")
	require.NoError(t, err)
	assert.Same(t, held, current)
}

func TestCache_ClearAndPublish(t *testing.T) {
	provider := &mockProvider{tables: []string{"orders"}}
	cache := NewCache(provider, zap.NewNop())
	ctx := context.Background()

	cache.Publish(&models.SchemaSnapshot{Name: "sales"})
	snap, err := cache.Get(ctx, "sales")
	require.NoError(t, err)
	assert.NotZero(t, snap.Version)
	assert.Zero(t, provider.calls.Load())

	cache.Publish(&models.SchemaSnapshot{Name: "archive"})
	assert.Equal(t, []string{"archive", "sales"}, cache.Names())

	cache.Clear()
	assert.Empty(t, cache.Names())
	_, err = cache.Get(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestCache_NoProvider(t *testing.T) {
	cache := NewCache(nil, zap.NewNop())
	_, err := cache.Get(context.Background(), "public")
	assert.ErrorIs(t, err, apperrors.ErrSchemaProviderNotReady)
}

func TestCache_ConcurrentGetAndRefresh(t *testing.T) {
	provider := &mockProvider{tables: []string{"orders"}}
	cache := NewCache(provider, zap.NewNop())
	ctx := context.Background()
	_, err := cache.Get(ctx, "public")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap, err := cache.Get(ctx, "public")
				if err != nil || len(snap.Tables) != 1 {
					t.Errorf("unexpected snapshot %v, err %v", snap, err)
					return
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		_, err := cache.Refresh(ctx, "public")
		require.NoError(t, err)
	}
	wg.Wait()
}
