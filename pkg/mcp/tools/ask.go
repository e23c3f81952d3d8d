// Package tools registers the MCP tools served by ekaya-ask.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"
)

// AskToolName is the name clients call.
const AskToolName = "ask_database"

// AskToolDeps contains the dependencies of the ask_database tool.
type AskToolDeps struct {
	Ask    services.AskService
	Logger *zap.Logger
}

// RegisterAskTool adds the ask_database tool to the MCP server.
func RegisterAskTool(s *server.MCPServer, deps *AskToolDeps) {
	tool := mcp.NewTool(
		AskToolName,
		mcp.WithDescription(
			"Answer a natural-language question about the connected database. "+
				"The question is grounded in the business ontology, turned into one read-only SQL "+
				"statement and executed; failed statements are corrected and retried. "+
				"Returns the SQL, an explanation, the rows and any errors absorbed along the way.",
		),
		mcp.WithString(
			"question",
			mcp.Required(),
			mcp.Description("The question, e.g. \"Show unique vendor names\""),
		),
		mcp.WithString(
			"schema_name",
			mcp.Description("Database schema to query (default: the configured schema)"),
		),
		mcp.WithNumber(
			"max_retries",
			mcp.Description("Corrective retries after the first attempt (default: configured value, max: 10)"),
		),
		mcp.WithArray(
			"conversation_history",
			mcp.Description("Earlier turns as objects with role (user or assistant) and content"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"role":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
			}),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || strings.TrimSpace(question) == "" {
			return NewErrorResult("invalid_question", "question is required"), nil
		}

		askReq := &models.AskRequest{Question: question}
		args, _ := req.Params.Arguments.(map[string]any)
		if name, ok := args["schema_name"].(string); ok {
			askReq.SchemaName = strings.TrimSpace(name)
		}
		if v, ok := args["max_retries"].(float64); ok {
			n := int(v)
			askReq.MaxRetries = &n
		}
		askReq.ConversationHistory = conversationHistory(args["conversation_history"])

		resp, err := deps.Ask.Ask(ctx, askReq)
		if resp == nil {
			if errors.Is(err, apperrors.ErrInvalidQuestion) {
				return NewErrorResult("invalid_question", err.Error()), nil
			}
			return nil, fmt.Errorf("ask failed: %w", err)
		}
		deps.Logger.Debug("ask_database finished",
			zap.String("session_id", resp.SessionID),
			zap.String("status", string(resp.Status)),
			zap.Int("retry_count", resp.RetryCount))
		return askResult(resp)
	})
}

// askResult returns successes as plain results. Every other outcome is an
// error result carrying the full response so the caller can see the attempts.
func askResult(resp *models.QueryResponse) (*mcp.CallToolResult, error) {
	if resp.Succeeded() {
		body, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response: %w", err)
		}
		return mcp.NewToolResultText(string(body)), nil
	}

	message := resp.Error
	if resp.Summary != "" {
		message = resp.Summary
	}
	return NewErrorResultWithDetails(string(resp.Status), message, resp), nil
}

func conversationHistory(raw any) []models.ConversationTurn {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var turns []models.ConversationTurn
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		if strings.TrimSpace(content) == "" {
			continue
		}
		turns = append(turns, models.ConversationTurn{Role: role, Content: content})
	}
	return turns
}
