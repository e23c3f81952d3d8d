package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func serveMCP(t *testing.T, reqBody, respBody string) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(respBody))
	})

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody))
	rec := httptest.NewRecorder()
	MCPRequestLogger(zap.New(core))(handler).ServeHTTP(rec, req)
	require.Equal(t, respBody, rec.Body.String())
	return logs
}

func TestMCPRequestLogger(t *testing.T) {
	const call = `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"ask_database","arguments":{"question":"how many vendors"}}}`

	tests := []struct {
		name     string
		response string
		message  string
	}{
		{"success", `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"{}"}]}}`, "MCP response success"},
		{"rpc error", `{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"internal error"}}`, "MCP response error"},
		{"tool error", `{"jsonrpc":"2.0","id":1,"result":{"isError":true,"content":[{"type":"text","text":"exhausted"}]}}`, "MCP tool error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := serveMCP(t, call, tt.response)
			require.Equal(t, 2, logs.Len())

			req := logs.All()[0]
			assert.Equal(t, "MCP request", req.Message)
			assert.Equal(t, "tools/call", req.ContextMap()["method"])
			assert.Equal(t, "ask_database", req.ContextMap()["tool"])

			resp := logs.All()[1]
			assert.Equal(t, tt.message, resp.Message)
			assert.Equal(t, "ask_database", resp.ContextMap()["tool"])
		})
	}
}

func TestMCPRequestLogger_InvalidJSON(t *testing.T) {
	logs := serveMCP(t, "not json", "also not json")
	require.Equal(t, 3, logs.Len())
	assert.Equal(t, "Failed to parse MCP request JSON", logs.All()[0].Message)
	assert.Equal(t, "Failed to parse MCP response JSON", logs.All()[2].Message)
}

func TestMCPRequestLogger_NilLogger(t *testing.T) {
	called := false
	handler := MCPRequestLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.True(t, called)
}

func TestSanitizeArguments(t *testing.T) {
	long := strings.Repeat("x", 300)
	got := sanitizeArguments(map[string]any{
		"question":      long,
		"api_key":       "sk-123",
		"license_token": "eyJ...",
		"max_retries":   float64(2),
	})

	assert.Equal(t, "[REDACTED]", got["api_key"])
	assert.Equal(t, "[REDACTED]", got["license_token"])
	assert.Equal(t, float64(2), got["max_retries"])
	assert.Len(t, got["question"], maxLoggedArgument+3)
	assert.Nil(t, sanitizeArguments(nil))
}
