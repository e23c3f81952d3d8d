package ontology

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

const purchasingYAML = `concepts:
  - name: Vendor
    description: Supplier of goods
    synonyms: [supplier, seller]
    properties:
      name:
        semantic_type: name
        keywords: [called]
      city:
        semantic_type: geography
        column:
          table: vendors
          column: city
mappings:
  - table: purchase_order
    column: vendorgroup
    concept: Vendor
    property: name
    confidence: 0.95
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestStore_LoadYAML(t *testing.T) {
	store := NewStore(StoreOptions{Enabled: true}, zap.NewNop())

	require.NoError(t, store.Load(writeFile(t, "ontology.yaml", purchasingYAML)))

	o := store.Current()
	require.NotNil(t, o)
	require.Len(t, o.Concepts, 1)
	vendor, ok := o.FindConcept("Vendor")
	require.True(t, ok)
	assert.Equal(t, []string{"supplier", "seller"}, vendor.Synonyms)
	assert.Equal(t, models.SemanticTypeGeography, vendor.Properties["city"].SemanticType)
	require.NotNil(t, vendor.Properties["city"].Column)
	assert.Equal(t, "vendors", vendor.Properties["city"].Column.Table)
	require.Len(t, o.Mappings, 1)
	assert.Equal(t, 0.95, o.Mappings[0].Confidence)
	assert.False(t, o.Dynamic)
}

func TestStore_LoadJSON(t *testing.T) {
	store := NewStore(StoreOptions{Enabled: true}, zap.NewNop())
	doc := `{"concepts":[{"name":"Vendor","properties":{"name":{"keywords":["called"]}}}],
	"mappings":[{"table":"purchase_order","column":"vendorgroup","concept":"Vendor","property":"name","confidence":0.9}]}`

	require.NoError(t, store.Load(writeFile(t, "ontology.json", doc)))

	require.NotNil(t, store.Current())
	assert.Equal(t, 0.9, store.Current().Mappings[0].Confidence)
}

func TestStore_LoadRejectsUnknownExtension(t *testing.T) {
	store := NewStore(StoreOptions{Enabled: true}, zap.NewNop())

	err := store.Load(writeFile(t, "ontology.toml", "x = 1"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported ontology file extension")
	assert.Nil(t, store.Current())
}

func TestStore_ReplaceRejectsInvalid(t *testing.T) {
	store := NewStore(StoreOptions{Enabled: true}, zap.NewNop())
	require.NoError(t, store.Replace(purchasingOntology()))
	before := store.Current()

	bad := &models.Ontology{
		Concepts: []models.Concept{{Name: "Vendor"}, {Name: "vendor"}, {Name: " "}},
		Mappings: []models.OntologyLink{
			{Table: "t", Column: "c", Concept: "Vendor", Property: "name", Confidence: 1.2},
			{Table: "t", Column: "c", Concept: "Ghost", Property: "name", Confidence: 0.5},
		},
	}
	err := store.Replace(bad)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate name")
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "outside [0,1]")
	assert.Contains(t, err.Error(), `unknown concept "Ghost"`)
	assert.Same(t, before, store.Current(), "failed replace must keep the published ontology")
}

func TestStore_ForSchema(t *testing.T) {
	snapshot := purchasingSnapshot()

	t.Run("disabled", func(t *testing.T) {
		store := NewStore(StoreOptions{Enabled: false, DynamicGeneration: true}, zap.NewNop())
		o, err := store.ForSchema(snapshot)
		assert.ErrorIs(t, err, apperrors.ErrOntologyDisabled)
		assert.Nil(t, o)
	})

	t.Run("manual wins over dynamic", func(t *testing.T) {
		store := NewStore(StoreOptions{Enabled: true, DynamicGeneration: true}, zap.NewNop())
		manual := purchasingOntology()
		require.NoError(t, store.Replace(manual))
		o, err := store.ForSchema(snapshot)
		require.NoError(t, err)
		assert.Same(t, manual, o)
	})

	t.Run("no ontology without dynamic generation", func(t *testing.T) {
		store := NewStore(StoreOptions{Enabled: true}, zap.NewNop())
		o, err := store.ForSchema(snapshot)
		require.NoError(t, err)
		assert.Nil(t, o)
	})

	t.Run("dynamic is memoized per version", func(t *testing.T) {
		store := NewStore(StoreOptions{Enabled: true, DynamicGeneration: true}, zap.NewNop())
		first, err := store.ForSchema(snapshot)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.True(t, first.Dynamic)

		again, err := store.ForSchema(snapshot)
		require.NoError(t, err)
		assert.Same(t, first, again)

		bumped := *snapshot
		bumped.Version = snapshot.Version + 1
		next, err := store.ForSchema(&bumped)
		require.NoError(t, err)
		assert.NotSame(t, first, next)
		assert.Equal(t, bumped.Version, next.SchemaVersion)

		store.Invalidate(snapshot.Name)
		rebuilt, err := store.ForSchema(&bumped)
		require.NoError(t, err)
		assert.NotSame(t, next, rebuilt)
	})
}

func TestStore_ConcurrentReadersDuringReplace(t *testing.T) {
	store := NewStore(StoreOptions{Enabled: true}, zap.NewNop())
	require.NoError(t, store.Replace(purchasingOntology()))
	resolver := newTestResolver()
	snapshot := purchasingSnapshot()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				o, err := store.ForSchema(snapshot)
				if err != nil || o == nil {
					t.Errorf("unexpected ontology %v, err %v", o, err)
					return
				}
				res := resolver.Resolve("vendor names", o, snapshot)
				if len(res.ColumnMappings) != 1 {
					t.Errorf("expected one mapping, got %d", len(res.ColumnMappings))
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		require.NoError(t, store.Replace(purchasingOntology()))
	}
	wg.Wait()
}

func TestSynthesize(t *testing.T) {
	o := Synthesize(purchasingSnapshot())

	assert.True(t, o.Dynamic)
	assert.Equal(t, "public", o.SchemaName)
	require.Len(t, o.Concepts, 2)

	po, ok := o.FindConcept("purchase_order")
	require.True(t, ok)
	assert.Equal(t, []string{"purchase order", "purchase orders", "purchase", "order"}, po.Synonyms)
	require.Len(t, po.Properties, 4)

	total := po.Properties["total_amount"]
	assert.Equal(t, models.SemanticTypeCurrency, total.SemanticType)
	assert.Equal(t, &models.ColumnBinding{Table: "purchase_order", Column: "total_amount"}, total.Column)
	assert.Equal(t, models.SemanticTypeIdentifier, po.Properties["id"].SemanticType)
	assert.Equal(t, models.SemanticTypeTemporal, po.Properties["created_at"].SemanticType)
}

func TestInferSemanticType(t *testing.T) {
	tests := []struct {
		col  models.SchemaColumn
		want models.SemanticType
	}{
		{models.SchemaColumn{Name: "vendor_id", DataType: "integer"}, models.SemanticTypeIdentifier},
		{models.SchemaColumn{Name: "active", DataType: "boolean"}, models.SemanticTypeBoolean},
		{models.SchemaColumn{Name: "shipped_on", DataType: "date"}, models.SemanticTypeTemporal},
		{models.SchemaColumn{Name: "unit_price", DataType: "numeric(10,2)"}, models.SemanticTypeCurrency},
		{models.SchemaColumn{Name: "country", DataType: "text"}, models.SemanticTypeGeography},
		{models.SchemaColumn{Name: "vendor_name", DataType: "varchar(200)"}, models.SemanticTypeName},
		{models.SchemaColumn{Name: "order_status", DataType: "varchar(20)"}, models.SemanticTypeCategory},
		{models.SchemaColumn{Name: "quantity", DataType: "integer"}, models.SemanticTypeQuantity},
		{models.SchemaColumn{Name: "notes", DataType: "text"}, models.SemanticTypeText},
		{models.SchemaColumn{Name: "payload", DataType: "jsonb"}, models.SemanticTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.col.Name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferSemanticType(tt.col))
		})
	}
}
