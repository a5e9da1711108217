// Package mcpserver builds configured MCP servers for the Perplexity tools
// and runs the stdio transport. HTTP sessions get a fresh server per
// session from the same Factory so tool registrations never leak state
// across clients.
package mcpserver

import (
	"context"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cfdude/mcp-perplexity-pro/internal/logging"
	"github.com/cfdude/mcp-perplexity-pro/internal/perplexity"
	"github.com/cfdude/mcp-perplexity-pro/internal/storage"
	"github.com/cfdude/mcp-perplexity-pro/internal/tools"
)

const (
	// ServerName is the MCP implementation name advertised to clients.
	ServerName = "mcp-perplexity-pro"

	// ServerVersion is the MCP implementation version advertised to clients.
	ServerVersion = "1.0.0"
)

// Factory creates MCP servers bound to the shared upstream client and store.
type Factory struct {
	client       *perplexity.Client
	store        *storage.Store
	defaultModel atomic.Value // string
}

// NewFactory creates a Factory. defaultModel may be empty; the tool layer
// falls back to its own default.
func NewFactory(client *perplexity.Client, store *storage.Store, defaultModel string) *Factory {
	f := &Factory{
		client: client,
		store:  store,
	}
	f.defaultModel.Store(defaultModel)
	return f
}

// SetDefaultModel updates the model used when calls do not name one.
// Existing sessions pick up the change on their next tool call.
func (f *Factory) SetDefaultModel(model string) {
	f.defaultModel.Store(model)
}

// DefaultModel returns the current default model.
func (f *Factory) DefaultModel() string {
	model, _ := f.defaultModel.Load().(string)
	return model
}

// NewServer creates a fresh MCP server with all tools registered.
// Each call returns an independent server so concurrent sessions do not
// share connection state.
func (f *Factory) NewServer() (*mcp.Server, error) {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, nil)

	err := tools.Register(srv, tools.Deps{
		Client:       f.client,
		Store:        f.store,
		DefaultModel: f.DefaultModel,
	})
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// RunStdio serves a single MCP session over stdin/stdout and blocks until
// the client disconnects or ctx is canceled.
func (f *Factory) RunStdio(ctx context.Context) error {
	logger := logging.Session()

	srv, err := f.NewServer()
	if err != nil {
		return err
	}

	logger.Info("MCP server started", "mode", "stdio")

	session, err := srv.Connect(ctx, &mcp.StdioTransport{}, nil)
	if err != nil {
		return err
	}

	err = session.Wait()
	if err != nil {
		logger.Debug("stdio session ended", "error", err)
	} else {
		logger.Info("MCP server stopped", "mode", "stdio")
	}
	return err
}
