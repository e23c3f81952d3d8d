package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/llm"
	"github.com/ekaya-inc/ekaya-ask/pkg/logging"
)

// GeneratedSQL is one statement produced by the generation backend.
type GeneratedSQL struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

// SQLGenerator produces one SQL statement for a generation context.
// Failures are returned as generation_error.
type SQLGenerator interface {
	Generate(ctx context.Context, gctx *GenerationContext) (*GeneratedSQL, error)
}

// SQLGeneratorConfig controls backend calls.
type SQLGeneratorConfig struct {
	Temperature float64
	// Timeout bounds each backend call, separately from the session's attempt budget.
	Timeout time.Duration
	Breaker llm.CircuitBreakerConfig
}

type llmSQLGenerator struct {
	client      llm.LLMClient
	breaker     *llm.CircuitBreaker
	temperature float64
	timeout     time.Duration
	logger      *zap.Logger
}

// NewSQLGenerator creates a generator backed by an LLM client.
func NewSQLGenerator(client llm.LLMClient, cfg SQLGeneratorConfig, logger *zap.Logger) SQLGenerator {
	if cfg.Breaker.Threshold <= 0 {
		cfg.Breaker = llm.DefaultCircuitBreakerConfig()
	}
	return &llmSQLGenerator{
		client:      client,
		breaker:     llm.NewCircuitBreaker(cfg.Breaker),
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      logger.Named("sql-generator"),
	}
}

var _ SQLGenerator = (*llmSQLGenerator)(nil)

func (g *llmSQLGenerator) Generate(ctx context.Context, gctx *GenerationContext) (*GeneratedSQL, error) {
	if allowed, err := g.breaker.Allow(); !allowed {
		return nil, apperrors.New(apperrors.KindGeneration, "generation backend unavailable", err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.client.GenerateResponse(ctx, gctx.Prompt, gctx.System, g.temperature)
	if err != nil {
		g.breaker.RecordFailure()
		llmErr := llm.ClassifyError(err)
		g.logger.Warn("Generation backend call failed",
			zap.String("model", g.client.GetModel()),
			zap.String("error_type", string(llmErr.Type)),
			zap.Bool("retryable", llmErr.Retryable),
			zap.String("error", logging.SanitizeError(err)))
		return nil, apperrors.New(apperrors.KindGeneration, "generation backend call failed: "+llmErr.Message, llmErr)
	}
	g.breaker.RecordSuccess()

	gen, err := llm.ParseGeneration(resp.Content)
	if errors.Is(err, llm.ErrEmptySQL) {
		return nil, apperrors.New(apperrors.KindGeneration, "malformed generator response: empty sql", nil)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.KindGeneration, "malformed generator response", err)
	}
	parsed := &GeneratedSQL{SQL: gen.SQL, Explanation: gen.Explanation}

	g.logger.Debug("Generated SQL",
		zap.String("sql", logging.TruncateSQL(parsed.SQL, 100)),
		zap.Int("prompt_tokens", resp.PromptTokens),
		zap.Int("completion_tokens", resp.CompletionTokens))

	return parsed, nil
}

// String is used in logs.
func (g *GeneratedSQL) String() string {
	return fmt.Sprintf("%s (%s)", g.SQL, g.Explanation)
}
