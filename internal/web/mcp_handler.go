package web

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerFactory builds a fresh MCP server per session.
type ServerFactory interface {
	NewServer() (*mcp.Server, error)
}

// MCPHandlerFactory is the production HandlerFactory: each session gets its
// own MCP server connected to its own streamable HTTP transport.
type MCPHandlerFactory struct {
	servers ServerFactory
}

// NewMCPHandlerFactory creates a factory over the given server factory.
func NewMCPHandlerFactory(servers ServerFactory) *MCPHandlerFactory {
	return &MCPHandlerFactory{servers: servers}
}

// NewSessionHandler connects a fresh MCP server to a streamable transport
// keyed by the session id.
func (f *MCPHandlerFactory) NewSessionHandler(sessionID string) (SessionHandler, error) {
	srv, err := f.servers.NewServer()
	if err != nil {
		return nil, err
	}

	transport := &mcp.StreamableServerTransport{SessionID: sessionID}
	session, err := srv.Connect(context.Background(), transport, nil)
	if err != nil {
		return nil, err
	}

	return &mcpSessionHandler{
		transport: transport,
		session:   session,
	}, nil
}

// mcpSessionHandler adapts one MCP session to the SessionHandler contract.
type mcpSessionHandler struct {
	transport *mcp.StreamableServerTransport
	session   *mcp.ServerSession
}

func (h *mcpSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.transport.ServeHTTP(w, r)
}

func (h *mcpSessionHandler) Close() error {
	return h.session.Close()
}
