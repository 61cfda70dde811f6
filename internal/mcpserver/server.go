// Package mcpserver exposes Quill's enhancement tools over the Model
// Context Protocol.
package mcpserver

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
	"github.com/zulandar/quill/internal/enhance"
	"github.com/zulandar/quill/internal/session"
)

// Enhancer is the orchestrator surface the tools use.
type Enhancer interface {
	Enhance(ctx context.Context, sessionID string, opts enhance.Options) (*enhance.Result, error)
	Progress(sessionID string) (float64, bool)
	Pending(sessionID string) bool
}

// Opts holds the dependencies shared by the tools.
type Opts struct {
	Version  string
	Store    *session.Store
	Enhancer Enhancer
}

// New creates the MCP server with every tool registered.
func New(opts Opts) (*server.MCPServer, error) {
	if opts.Store == nil {
		return nil, errors.New("mcpserver: store is required")
	}
	if opts.Enhancer == nil {
		return nil, errors.New("mcpserver: enhancer is required")
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := server.NewMCPServer(
		"quill",
		opts.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions("Quill turns meeting notes and transcripts into enhanced notes. "+
			"Use session_status to inspect a session and enhance_session to generate its note."),
	)

	enhanceTool := NewEnhanceTool(opts.Store, opts.Enhancer)
	s.AddTool(enhanceTool.Definition(), enhanceTool.Handle)

	grammarTool := NewGrammarTool(opts.Store)
	s.AddTool(grammarTool.Definition(), grammarTool.Handle)

	composeTool := NewComposeTool()
	s.AddTool(composeTool.Definition(), composeTool.Handle)

	statusTool := NewStatusTool(opts.Store, opts.Enhancer)
	s.AddTool(statusTool.Definition(), statusTool.Handle)

	return s, nil
}

// Serve runs the server on stdio until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
