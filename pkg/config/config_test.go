package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
port: "3443"
env: "test"
datasource:
  type: sqlserver
  host: "db.example.com"
  database: "sales"
llm:
  provider: anthropic
  model: claude-sonnet-4-5
query:
  max_retries: 5
  statement_timeout: 10s
ontology:
  confidence_threshold: 0.8
  export_format: flat
`)

	t.Setenv("PORT", "4443")
	t.Setenv("DATASOURCE_PASSWORD", "from-env")
	t.Setenv("QUERY_TOKEN_BUDGET", "7000")

	cfg, err := Load(path, "test-version")
	require.NoError(t, err)

	assert.Equal(t, "4443", cfg.Port)
	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, "test-version", cfg.Version)
	assert.Equal(t, "sqlserver", cfg.Datasource.Type)
	assert.Equal(t, "db.example.com", cfg.Datasource.Host)
	assert.Equal(t, "from-env", cfg.Datasource.Password)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Query.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Query.StatementTimeout)
	assert.Equal(t, 7000, cfg.Query.TokenBudget)
	assert.InDelta(t, 0.8, cfg.Ontology.ConfidenceThreshold, 1e-9)
	assert.Equal(t, "flat", cfg.Ontology.ExportFormat)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), "dev")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Datasource.Type)
	assert.Equal(t, 3, cfg.Query.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Query.StatementTimeout)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 4000, cfg.Query.TokenBudget)
	assert.Equal(t, 90, cfg.Query.HistoryRetentionDays)
	assert.Equal(t, 24*time.Hour, cfg.Query.HistoryPruneInterval)
	assert.True(t, cfg.Ontology.Enabled)
	assert.True(t, cfg.Ontology.DynamicGeneration)
	assert.InDelta(t, 0.7, cfg.Ontology.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 2, cfg.Ontology.MaxRelationshipDepth)
	assert.Equal(t, "document", cfg.Ontology.ExportFormat)
	assert.False(t, cfg.Database.Enabled())
}

func TestLoad_InvalidYAMLValues(t *testing.T) {
	path := writeConfig(t, `
datasource:
  type: oracle
ontology:
  confidence_threshold: 1.5
`)

	_, err := Load(path, "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `datasource.type "oracle"`)
	assert.Contains(t, err.Error(), "confidence_threshold 1.5")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Datasource: DatasourceConfig{Type: "postgres"},
			LLM:        LLMConfig{Provider: "openai"},
			Ontology:   OntologyConfig{ConfidenceThreshold: 0.7, ExportFormat: "document"},
			Query:      QueryConfig{MaxRetries: 3},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "bard" }, `llm.provider "bard"`},
		{"negative retries", func(c *Config) { c.Query.MaxRetries = -1 }, "max_retries must not be negative"},
		{"negative depth", func(c *Config) { c.Ontology.MaxRelationshipDepth = -1 }, "max_relationship_depth"},
		{"bad export format", func(c *Config) { c.Ontology.ExportFormat = "xml" }, `export_format "xml"`},
		{"license without token", func(c *Config) { c.License.Enabled = true }, "LICENSE_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDatasourceConfig_AdapterConfig(t *testing.T) {
	d := DatasourceConfig{
		Host:     "db.internal",
		Port:     1433,
		User:     "reader",
		Password: "pw",
		Database: "sales",
		SSLMode:  "require",
		ClientID: "client",
		TenantID: "tenant",
	}

	got := d.AdapterConfig()
	assert.Equal(t, "db.internal", got["host"])
	assert.Equal(t, 1433, got["port"])
	assert.Equal(t, "client", got["client_id"])
	assert.Equal(t, "tenant", got["tenant_id"])
	assert.NotContains(t, got, "auth_method")

	d.Port = 0
	assert.NotContains(t, d.AdapterConfig(), "port")
}
