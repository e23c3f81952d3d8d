package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
)

func TestFromMap(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		want    *Config
		wantErr string
	}{
		{
			name:   "defaults",
			config: map[string]any{"host": "db", "user": "ask", "database": "sales"},
			want:   &Config{Host: "db", Port: 5432, User: "ask", Database: "sales", SSLMode: "require"},
		},
		{
			name:   "json port and ssl mode",
			config: map[string]any{"host": "db", "port": float64(6543), "user": "ask", "password": "pw", "database": "sales", "ssl_mode": "disable"},
			want:   &Config{Host: "db", Port: 6543, User: "ask", Password: "pw", Database: "sales", SSLMode: "disable"},
		},
		{name: "missing host", config: map[string]any{"user": "ask", "database": "sales"}, wantErr: "host is required"},
		{name: "missing user", config: map[string]any{"host": "db", "database": "sales"}, wantErr: "user is required"},
		{name: "missing database", config: map[string]any{"host": "db", "user": "ask"}, wantErr: "database is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromMap(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg)
		})
	}
}

func TestConnectionString_EscapesCredentials(t *testing.T) {
	cfg := &Config{Host: "db", Port: 5432, User: "ask@corp", Password: "p@ss/w#rd?", Database: "sales"}

	assert.Equal(t, "postgresql://ask%40corp:p%40ss%2Fw%23rd%3F@db:5432/sales?sslmode=require", cfg.ConnectionString())
}

func TestWrapWithLimit(t *testing.T) {
	assert.Equal(t, "SELECT * FROM (SELECT 1) AS _limited LIMIT 10", WrapWithLimit("SELECT 1", 10))
	assert.Equal(t, "SELECT * FROM (SELECT 1) AS _limited LIMIT 1000", WrapWithLimit("SELECT 1", 0))
	assert.Equal(t, "SELECT * FROM (SELECT 1) AS _limited LIMIT 1000", WrapWithLimit("SELECT 1", datasource.MaxQueryLimit*2))
}

func TestRegistered(t *testing.T) {
	assert.True(t, datasource.IsRegistered("postgres"))
}
