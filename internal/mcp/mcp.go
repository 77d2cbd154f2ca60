// Package mcp exposes the tutor over the Model Context Protocol.
//
// The tools mirror the HTTP API: an MCP client can solve a problem, answer a
// clarification, leave feedback and read statistics or similar solutions.
package mcp

import (
	"log/slog"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/mathmentor/internal/service/mentor"
)

// pendingWindow is how long a run awaiting clarification stays the
// default target of mentor_clarify for its caller.
const pendingWindow = 30 * time.Minute

// Server wraps the MCP server with the mentor service.
type Server struct {
	mcpServer *mcpserver.MCPServer
	svc       *mentor.Service
	pending   *pendingTracker
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources, tools
// and prompts.
func New(svc *mentor.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		svc:     svc,
		pending: newPendingTracker(pendingWindow),
		logger:  logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"mathmentor",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithInstructions("A math tutor. Call mentor_solve with a problem; "+
			"if the result status is needs_clarification, answer with mentor_clarify."),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
