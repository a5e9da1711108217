// Package tools declares the Perplexity MCP tools and their handlers.
// Each tool is a thin proxy over the upstream API client plus the
// conversation/report store; all transports share the same registrations.
package tools

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cfdude/mcp-perplexity-pro/internal/perplexity"
	"github.com/cfdude/mcp-perplexity-pro/internal/storage"
)

// Deps holds the collaborators the tool handlers need.
type Deps struct {
	// Client calls the upstream Perplexity API.
	Client *perplexity.Client
	// Store persists conversations and reports.
	Store *storage.Store
	// DefaultModel returns the model to use when a call does not name one.
	// It is a function so settings hot-reload takes effect without
	// re-registering tools.
	DefaultModel func() string
}

// model resolves the effective model for a call.
func (d Deps) model(requested string) string {
	if requested != "" {
		return requested
	}
	if d.DefaultModel != nil {
		if m := d.DefaultModel(); m != "" {
			return m
		}
	}
	return perplexity.ModelSonar
}

// Register adds all Perplexity tools to the server.
// Schema construction failures are programming errors (malformed input
// structs) and are returned eagerly.
func Register(srv *mcp.Server, deps Deps) error {
	if err := registerAsk(srv, deps); err != nil {
		return err
	}
	if err := registerReason(srv, deps); err != nil {
		return err
	}
	if err := registerResearch(srv, deps); err != nil {
		return err
	}
	if err := registerChat(srv, deps); err != nil {
		return err
	}
	if err := registerConversationTools(srv, deps); err != nil {
		return err
	}
	return registerReportTools(srv, deps)
}

// schemaFor builds the input schema for a tool input struct.
func schemaFor[T any](toolName string) (*jsonschema.Schema, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build schema for %s: %w", toolName, err)
	}
	return s, nil
}
