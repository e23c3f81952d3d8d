package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// Provider names accepted by NewClientFromConfig.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// NewClientFromConfig creates the client for the configured provider.
// Returns LLMClient interface to enable dependency injection of mocks.
func NewClientFromConfig(cfg *Config, logger *zap.Logger) (LLMClient, error) {
	switch cfg.Provider {
	case "", ProviderOpenAI:
		return NewClient(cfg, logger)
	case ProviderAnthropic:
		return NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q (must be %s or %s)", cfg.Provider, ProviderOpenAI, ProviderAnthropic)
	}
}
