// Package mcp exposes the ask pipeline over the Model Context Protocol.
package mcp

import (
	"context"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/license"
	"github.com/ekaya-inc/ekaya-ask/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"
)

// Server wraps the mcp-go MCPServer.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates a new MCP server instance.
func NewServer(name, version string, logger *zap.Logger) *Server {
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	return &Server{
		mcp:    mcpServer,
		logger: logger,
	}
}

// NewAskServer creates a server with the ask_database and health tools registered.
func NewAskServer(version string, ask services.AskService, logger *zap.Logger) *Server {
	s := NewServer("ekaya-ask", version, logger)
	tools.RegisterAskTool(s.mcp, &tools.AskToolDeps{Ask: ask, Logger: logger.Named("mcp-ask")})
	tools.RegisterHealthTool(s.mcp, version)
	return s
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// NewStreamableHTTPServer creates an HTTP transport server wrapping this MCP server.
// The HTTP mux handles routing to /mcp, so no endpoint path is configured here.
// A bearer token on the request is passed to the license gate.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
		server.WithHTTPContextFunc(tokenFromRequest),
	)
}

// RegisterTool is a convenience wrapper for registering a tool.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
}

func tokenFromRequest(ctx context.Context, r *http.Request) context.Context {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return license.WithToken(ctx, strings.TrimSpace(h[7:]))
	}
	return ctx
}
