package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewClientFromConfig(t *testing.T) {
	logger := zap.NewNop()

	t.Run("openai by default", func(t *testing.T) {
		client, err := NewClientFromConfig(&Config{Endpoint: "http://localhost:8000/v1/", Model: "qwen"}, logger)
		require.NoError(t, err)
		assert.IsType(t, &Client{}, client)
		assert.Equal(t, "qwen", client.GetModel())
		assert.Equal(t, "http://localhost:8000/v1/", client.GetEndpoint())
	})

	t.Run("anthropic", func(t *testing.T) {
		client, err := NewClientFromConfig(&Config{Provider: ProviderAnthropic, APIKey: "k", Model: "claude-sonnet-4-5"}, logger)
		require.NoError(t, err)
		assert.IsType(t, &AnthropicClient{}, client)
		assert.Equal(t, "https://api.anthropic.com/v1", client.GetEndpoint())
	})

	t.Run("anthropic needs a key", func(t *testing.T) {
		_, err := NewClientFromConfig(&Config{Provider: ProviderAnthropic, Model: "claude-sonnet-4-5"}, logger)
		assert.EqualError(t, err, "api key is required")
	})

	t.Run("openai needs an endpoint", func(t *testing.T) {
		_, err := NewClientFromConfig(&Config{Model: "gpt-4o"}, logger)
		assert.EqualError(t, err, "endpoint is required")
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewClientFromConfig(&Config{Provider: "bard", Model: "x"}, logger)
		assert.ErrorContains(t, err, `unknown llm provider "bard"`)
	})
}
