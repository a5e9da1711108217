// Package cmd provides the CLI commands for mcp-perplexity-pro.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cfdude/mcp-perplexity-pro/internal/appdir"
	"github.com/cfdude/mcp-perplexity-pro/internal/config"
	"github.com/cfdude/mcp-perplexity-pro/internal/launcher"
	"github.com/cfdude/mcp-perplexity-pro/internal/logging"
	"github.com/cfdude/mcp-perplexity-pro/internal/mcpserver"
	"github.com/cfdude/mcp-perplexity-pro/internal/perplexity"
	"github.com/cfdude/mcp-perplexity-pro/internal/storage"
)

var (
	// Global flags
	configPath    string
	debug         bool
	logLevel      string
	logFile       string
	logComponents string
	portFlag      int
	transportFlag string

	// Loaded configuration
	cfg *config.Config
)

// rootCmd is the base command: it resolves the transport mode and either
// serves a single stdio session or runs the HTTP launcher.
var rootCmd = &cobra.Command{
	Use:   "mcp-perplexity-pro",
	Short: "MCP server exposing the Perplexity AI search and research API",
	Long: `mcp-perplexity-pro exposes Perplexity AI search, reasoning, and deep
research as MCP tools for desktop AI clients.

Clients connect either via stdio framing or via a shared local HTTP
server. In http mode the process first looks for an already-running
server on the configured port range and defers to it, so many client
invocations share one listener.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// --log-level wins over --debug.
		effectiveLogLevel := "info"
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debug {
			effectiveLogLevel = "debug"
		}
		var components []string
		for _, c := range strings.Split(logComponents, ",") {
			if c = strings.TrimSpace(c); c != "" {
				components = append(components, c)
			}
		}
		if err := logging.Initialize(logging.Config{
			Level:      effectiveLogLevel,
			LogFile:    logFile,
			Components: components,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if cmd.Flags().Changed("port") {
			if err := config.ValidatePort(portFlag); err != nil {
				return err
			}
			cfg.HTTP.Port = portFlag
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
	RunE: runRoot,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Settings file path (overrides the default settings.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to stderr)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log. Empty means all components.")
	rootCmd.PersistentFlags().IntVar(&portFlag, "port", 0, "Port for the shared HTTP server (default: 8321)")

	rootCmd.Flags().StringVar(&transportFlag, "transport", "auto", "Transport mode: stdio, http, or auto")
}

func runRoot(cmd *cobra.Command, args []string) error {
	mode, err := launcher.ParseMode(transportFlag)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	switch launcher.Resolve(mode) {
	case launcher.ModeStdio:
		return runStdioServer(ctx)
	default:
		return launcher.New(cfg, forwardFlags()...).Run(ctx)
	}
}

// forwardFlags rebuilds the persistent flags for a spawned listener child,
// so it loads the same settings file and logs the same way as this process.
func forwardFlags() []string {
	var args []string
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if debug {
		args = append(args, "--debug")
	}
	if logLevel != "" {
		args = append(args, "--log-level", logLevel)
	}
	if logFile != "" {
		args = append(args, "--logfile", logFile)
	}
	if logComponents != "" {
		args = append(args, "--log-components", logComponents)
	}
	return args
}

// runStdioServer serves one MCP session on stdin/stdout. All logging goes
// to stderr so it never corrupts the protocol stream.
func runStdioServer(ctx context.Context) error {
	factory, store, err := newServerFactory()
	if err != nil {
		return err
	}
	defer store.Close()

	return factory.RunStdio(ctx)
}

// newServerFactory wires the upstream client, the store, and the tool
// registrations shared by the stdio and http transports.
func newServerFactory() (*mcpserver.Factory, *storage.Store, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, nil, err
	}

	storageDir, err := cfg.ResolveStorageDir()
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.NewStore(storageDir)
	if err != nil {
		return nil, nil, err
	}

	client := perplexity.New(perplexity.Options{
		APIKey:  cfg.APIKey,
		Timeout: cfg.RequestTimeout,
	})

	return mcpserver.NewFactory(client, store, cfg.Model), store, nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		return launcher.ExitOK
	}

	fmt.Fprintln(os.Stderr, "Error:", err)

	var exitErr *launcher.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return launcher.ExitFailure
}
