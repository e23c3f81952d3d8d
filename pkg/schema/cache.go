// Package schema caches schema snapshots per schema name.
package schema

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// RefreshListener is notified after a snapshot is replaced.
type RefreshListener func(snapshot *models.SchemaSnapshot)

// Cache holds one immutable snapshot per schema. Readers never lock: each entry
// is an atomic pointer swapped only on explicit refresh.
type Cache struct {
	provider  datasource.SchemaProvider
	entries   sync.Map // schema name -> *atomic.Pointer[models.SchemaSnapshot]
	version   atomic.Uint64
	refreshMu sync.Mutex
	listeners []RefreshListener
	logger    *zap.Logger
}

// NewCache creates a cache backed by a schema provider.
func NewCache(provider datasource.SchemaProvider, logger *zap.Logger) *Cache {
	return &Cache{
		provider: provider,
		logger:   logger.Named("schema-cache"),
	}
}

// OnRefresh registers a listener. Not safe to call concurrently with Refresh.
func (c *Cache) OnRefresh(l RefreshListener) {
	c.listeners = append(c.listeners, l)
}

// Get returns the cached snapshot for a schema, loading it on first use.
func (c *Cache) Get(ctx context.Context, schemaName string) (*models.SchemaSnapshot, error) {
	if snap := c.load(schemaName); snap != nil {
		return snap, nil
	}
	return c.Refresh(ctx, schemaName)
}

// Refresh re-reads a schema from the provider and atomically publishes it with a new version.
// Readers holding the previous snapshot keep using it unchanged.
func (c *Cache) Refresh(ctx context.Context, schemaName string) (*models.SchemaSnapshot, error) {
	if c.provider == nil {
		return nil, apperrors.ErrSchemaProviderNotReady
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	snap, err := c.provider.GetSnapshot(ctx, schemaName)
	if err != nil {
		return nil, fmt.Errorf("load schema %q: %w", schemaName, err)
	}
	snap.Name = schemaName
	snap.Version = c.version.Add(1)

	c.Publish(snap)

	c.logger.Info("Schema snapshot refreshed",
		zap.String("schema", schemaName),
		zap.Uint64("version", snap.Version),
		zap.Int("tables", len(snap.Tables)),
		zap.Int("views", len(snap.Views)))

	for _, l := range c.listeners {
		l(snap)
	}
	return snap, nil
}

// Publish installs a prepared snapshot. A zero Version is assigned a new one.
func (c *Cache) Publish(snap *models.SchemaSnapshot) {
	if snap.Version == 0 {
		snap.Version = c.version.Add(1)
	}
	entry, _ := c.entries.LoadOrStore(snap.Name, &atomic.Pointer[models.SchemaSnapshot]{})
	entry.(*atomic.Pointer[models.SchemaSnapshot]).Store(snap)
}

// Clear drops every cached snapshot; the next Get reloads.
func (c *Cache) Clear() {
	c.entries.Range(func(key, _ any) bool {
		c.entries.Delete(key)
		return true
	})
}

// Names lists the cached schema names in sorted order.
func (c *Cache) Names() []string {
	var names []string
	c.entries.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

func (c *Cache) load(schemaName string) *models.SchemaSnapshot {
	entry, ok := c.entries.Load(schemaName)
	if !ok {
		return nil
	}
	return entry.(*atomic.Pointer[models.SchemaSnapshot]).Load()
}
