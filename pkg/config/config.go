// Package config loads service configuration from config.yaml and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-ask.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys, tokens) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Datasource the questions are asked against.
	Datasource DatasourceConfig `yaml:"datasource"`

	// Database is the optional metadata PostgreSQL that stores query history.
	Database DatabaseConfig `yaml:"database"`

	LLM      LLMConfig      `yaml:"llm"`
	Query    QueryConfig    `yaml:"query"`
	Ontology OntologyConfig `yaml:"ontology"`
	Redis    RedisConfig    `yaml:"redis"`
	Neo4j    Neo4jConfig    `yaml:"neo4j"`
	License  LicenseConfig  `yaml:"license"`
}

// DatasourceConfig describes the database questions are answered from.
type DatasourceConfig struct {
	Type          string `yaml:"type" env:"DATASOURCE_TYPE" env-default:"postgres"` // postgres | sqlserver
	Host          string `yaml:"host" env:"DATASOURCE_HOST" env-default:"localhost"`
	Port          int    `yaml:"port" env:"DATASOURCE_PORT"`
	User          string `yaml:"user" env:"DATASOURCE_USER"`
	Password      string `yaml:"-" env:"DATASOURCE_PASSWORD"` // Secret - not in YAML
	Database      string `yaml:"database" env:"DATASOURCE_DATABASE"`
	SSLMode       string `yaml:"ssl_mode" env:"DATASOURCE_SSL_MODE" env-default:"require"`
	DefaultSchema string `yaml:"default_schema" env:"DATASOURCE_DEFAULT_SCHEMA" env-default:"public"`

	// SQL Server service principal authentication.
	AuthMethod   string `yaml:"auth_method" env:"DATASOURCE_AUTH_METHOD"`
	TenantID     string `yaml:"tenant_id" env:"DATASOURCE_TENANT_ID"`
	ClientID     string `yaml:"client_id" env:"DATASOURCE_CLIENT_ID"`
	ClientSecret string `yaml:"-" env:"DATASOURCE_CLIENT_SECRET"` // Secret - not in YAML
}

// DatabaseConfig holds the metadata PostgreSQL configuration. Empty Host disables it.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_ask"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// LLMConfig selects the SQL generation backend.
type LLMConfig struct {
	Provider    string        `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"` // openai | anthropic
	BaseURL     string        `yaml:"base_url" env:"LLM_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model       string        `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o"`
	APIKey      string        `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Temperature float64       `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0"`
	MaxTokens   int           `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"2000"`
	Timeout     time.Duration `yaml:"timeout" env:"LLM_TIMEOUT" env-default:"60s"`
}

// QueryConfig bounds each question's retry loop.
type QueryConfig struct {
	MaxRetries       int           `yaml:"max_retries" env:"QUERY_MAX_RETRIES" env-default:"3"`
	StatementTimeout time.Duration `yaml:"statement_timeout" env:"QUERY_STATEMENT_TIMEOUT" env-default:"30s"`
	TokenBudget      int           `yaml:"token_budget" env:"QUERY_TOKEN_BUDGET" env-default:"4000"`
	RowLimit         int           `yaml:"row_limit" env:"QUERY_ROW_LIMIT" env-default:"1000"`
	HistoryTopK      int           `yaml:"history_top_k" env:"QUERY_HISTORY_TOP_K" env-default:"3"`

	// History older than HistoryRetentionDays is pruned every HistoryPruneInterval.
	HistoryRetentionDays int           `yaml:"history_retention_days" env:"QUERY_HISTORY_RETENTION_DAYS" env-default:"90"`
	HistoryPruneInterval time.Duration `yaml:"history_prune_interval" env:"QUERY_HISTORY_PRUNE_INTERVAL" env-default:"24h"`
}

// OntologyConfig is the ontology configuration surface.
type OntologyConfig struct {
	Enabled              bool    `yaml:"enabled" env:"ONTOLOGY_ENABLED" env-default:"true"`
	DynamicGeneration    bool    `yaml:"dynamic_generation" env:"ONTOLOGY_DYNAMIC_GENERATION" env-default:"true"`
	ConfidenceThreshold  float64 `yaml:"confidence_threshold" env:"ONTOLOGY_CONFIDENCE_THRESHOLD" env-default:"0.7"`
	MaxRelationshipDepth int     `yaml:"max_relationship_depth" env:"ONTOLOGY_MAX_RELATIONSHIP_DEPTH" env-default:"2"`
	ExportFormat         string  `yaml:"export_format" env:"ONTOLOGY_EXPORT_FORMAT" env-default:"document"` // document | flat
	Path                 string  `yaml:"path" env:"ONTOLOGY_PATH"`
}

// RedisConfig configures the optional Redis history store. Empty Host disables it.
type RedisConfig struct {
	Host       string `yaml:"host" env:"REDIS_HOST"`
	Port       int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password   string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB         int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	MaxEntries int64  `yaml:"max_entries" env:"REDIS_HISTORY_MAX_ENTRIES" env-default:"500"`
}

// Neo4jConfig configures the optional graph insights provider. Empty URI disables it.
type Neo4jConfig struct {
	URI      string `yaml:"uri" env:"NEO4J_URI"`
	User     string `yaml:"user" env:"NEO4J_USER" env-default:"neo4j"`
	Password string `yaml:"-" env:"NEO4J_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"NEO4J_DATABASE" env-default:"neo4j"`
}

// LicenseConfig configures the authorization gate.
type LicenseConfig struct {
	Enabled bool   `yaml:"enabled" env:"LICENSE_ENABLED" env-default:"false"`
	Token   string `yaml:"-" env:"LICENSE_TOKEN"`  // Secret - not in YAML
	Secret  string `yaml:"-" env:"LICENSE_SECRET"` // Secret - not in YAML
	Issuer  string `yaml:"issuer" env:"LICENSE_ISSUER" env-default:"ekaya"`
}

// Load reads configuration from the YAML file at path with environment overrides.
// A missing file falls back to environment variables and defaults.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, statErr := os.Stat(path); statErr == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Datasource.Type {
	case "postgres", "sqlserver":
	default:
		errs = append(errs, fmt.Errorf("datasource.type %q must be postgres or sqlserver", c.Datasource.Type))
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q must be openai or anthropic", c.LLM.Provider))
	}
	if c.Ontology.ConfidenceThreshold < 0 || c.Ontology.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("ontology.confidence_threshold %v must be within [0,1]", c.Ontology.ConfidenceThreshold))
	}
	if c.Ontology.MaxRelationshipDepth < 0 {
		errs = append(errs, errors.New("ontology.max_relationship_depth must not be negative"))
	}
	switch c.Ontology.ExportFormat {
	case "document", "flat":
	default:
		errs = append(errs, fmt.Errorf("ontology.export_format %q must be document or flat", c.Ontology.ExportFormat))
	}
	if c.Query.MaxRetries < 0 {
		errs = append(errs, errors.New("query.max_retries must not be negative"))
	}
	if c.Query.HistoryRetentionDays < 0 {
		errs = append(errs, errors.New("query.history_retention_days must not be negative"))
	}
	if c.Query.StatementTimeout < 0 {
		errs = append(errs, errors.New("query.statement_timeout must not be negative"))
	}
	if c.License.Enabled && (c.License.Token == "" || c.License.Secret == "") {
		errs = append(errs, errors.New("license is enabled but LICENSE_TOKEN or LICENSE_SECRET is not set"))
	}

	return errors.Join(errs...)
}

// AdapterConfig returns the datasource settings in the form adapter factories accept.
func (d *DatasourceConfig) AdapterConfig() map[string]any {
	cfg := map[string]any{
		"host":     ResolveHostForDocker(d.Host),
		"user":     d.User,
		"password": d.Password,
		"database": d.Database,
		"ssl_mode": d.SSLMode,
	}
	if d.Port > 0 {
		cfg["port"] = d.Port
	}
	if d.AuthMethod != "" {
		cfg["auth_method"] = d.AuthMethod
	}
	if d.ClientID != "" {
		cfg["tenant_id"] = d.TenantID
		cfg["client_id"] = d.ClientID
		cfg["client_secret"] = d.ClientSecret
	}
	return cfg
}

// ConnectionString returns a PostgreSQL connection string for the metadata database.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Enabled reports whether a metadata database is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// ResolveHostForDocker maps localhost to host.docker.internal when running in a container,
// so a containerized service can reach databases on the host.
func ResolveHostForDocker(host string) string {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	if !isDockerResult {
		return host
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}
