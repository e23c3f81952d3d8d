package services

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/llm"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockExecutor is a configurable QueryExecutor.
type mockExecutor struct {
	QueryFunc func(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error)

	mu      sync.Mutex
	queries []string
	limits  []int
}

func (m *mockExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	m.mu.Lock()
	m.queries = append(m.queries, sqlQuery)
	m.limits = append(m.limits, limit)
	fn := m.QueryFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, sqlQuery, limit)
	}
	return vendorRows(), nil
}

func (m *mockExecutor) Dialect() string { return "PostgreSQL" }

func (m *mockExecutor) Close() error { return nil }

func (m *mockExecutor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

var _ datasource.QueryExecutor = (*mockExecutor)(nil)

// mockGate answers IsValid with a fixed value.
type mockGate struct {
	valid bool
	calls atomic.Int32
}

func (g *mockGate) IsValid(context.Context) bool {
	g.calls.Add(1)
	return g.valid
}

func vendorRows() *datasource.QueryExecutionResult {
	return &datasource.QueryExecutionResult{
		Columns: []datasource.ColumnInfo{{Name: "vendorgroup", Type: "TEXT"}},
		Rows: []map[string]any{
			{"vendorgroup": "Acme"},
			{"vendorgroup": "Globex"},
		},
		RowCount: 2,
	}
}

// sqlReply renders a generator completion for the given statement.
func sqlReply(sqlText string) string {
	b, _ := json.Marshal(GeneratedSQL{SQL: sqlText, Explanation: "explains " + sqlText})
	return string(b)
}

func sqlReplies(statements ...string) []string {
	out := make([]string, len(statements))
	for i, s := range statements {
		out[i] = sqlReply(s)
	}
	return out
}

// purchasingSnapshot has purchase_order.vendorgroup plus a vendor table.
func purchasingSnapshot() *models.SchemaSnapshot {
	return &models.SchemaSnapshot{
		Name:    "public",
		Version: 1,
		Tables: []models.SchemaTable{
			{
				Name: "purchase_order",
				Columns: []models.SchemaColumn{
					{Name: "id", DataType: "integer", IsPrimaryKey: true},
					{Name: "vendorgroup", DataType: "text", IsNullable: true},
					{Name: "vendor_id", DataType: "integer"},
					{Name: "total", DataType: "numeric"},
				},
			},
			{
				Name: "vendor",
				Columns: []models.SchemaColumn{
					{Name: "id", DataType: "integer", IsPrimaryKey: true},
					{Name: "legal_name", DataType: "text"},
				},
			},
		},
		ForeignKeys: []models.ForeignKey{
			{SourceTable: "purchase_order", SourceColumn: "vendor_id", TargetTable: "vendor", TargetColumn: "id"},
		},
	}
}

// vendorOntology maps Vendor.name to purchase_order.vendorgroup with confidence 0.95.
func vendorOntology() *models.Ontology {
	return &models.Ontology{
		Concepts: []models.Concept{
			{
				Name: "Vendor",
				Properties: map[string]models.PropertyDefinition{
					"name": {SemanticType: models.SemanticTypeName},
				},
			},
		},
		Mappings: []models.OntologyLink{
			{Table: "purchase_order", Column: "vendorgroup", Concept: "Vendor", Property: "name", Confidence: 0.95},
		},
	}
}

type driverFixture struct {
	client   *llm.MockLLMClient
	executor *mockExecutor
	gate     *mockGate
	driver   *RetryDriver
}

func newDriverFixture(client *llm.MockLLMClient) *driverFixture {
	f := &driverFixture{
		client:   client,
		executor: &mockExecutor{},
		gate:     &mockGate{valid: true},
	}
	generator := NewSQLGenerator(f.client, SQLGeneratorConfig{}, testLogger())
	f.driver = NewRetryDriver(generator, f.executor, NewContextBuilder(DefaultTokenBudget, testLogger()), f.gate, 100, testLogger())
	return f
}

func scripted(statements ...string) *driverFixture {
	return newDriverFixture(llm.NewScriptedLLMClient(sqlReplies(statements...)...))
}

func (f *driverFixture) run(ctx context.Context, question string, maxRetries int) *DriverResult {
	session := models.NewQuerySession(question, nil, "public", maxRetries)
	session.Resolution = &models.Resolution{}
	return f.driver.Run(ctx, DriverInput{Session: session, Snapshot: purchasingSnapshot()})
}
