package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cfdude/mcp-perplexity-pro/internal/bridge"
)

// proxyCmd bridges a stdio-only client to the shared HTTP listener. It
// locates or starts the listener, waits for it to be healthy, then relays
// stdio frames as HTTP calls for the lifetime of the client.
var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Bridge a stdio MCP client to the shared HTTP listener",
	Long: `Bridge stdio framing to the shared HTTP server.

Used by MCP clients that only support stdio transport when the http
deployment mode is desired: the bridge finds or starts the shared
listener, then forwards every stdio frame as an HTTP call and relays the
response back on stdout.`,
	RunE: runProxy,
}

func init() {
	rootCmd.AddCommand(proxyCmd)
}

func runProxy(cmd *cobra.Command, args []string) error {
	return bridge.New(cfg, forwardFlags()...).Run(cmd.Context())
}
