package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cfdude/mcp-perplexity-pro/internal/appdir"
	"github.com/cfdude/mcp-perplexity-pro/internal/config"
	"github.com/cfdude/mcp-perplexity-pro/internal/hooks"
	"github.com/cfdude/mcp-perplexity-pro/internal/logging"
	"github.com/cfdude/mcp-perplexity-pro/internal/mcpserver"
	"github.com/cfdude/mcp-perplexity-pro/internal/web"
)

var listenPort int

// listenCmd is the long-lived HTTP listener the launcher spawns. It is
// hidden: users run the root command and the launcher decides whether a
// listener is needed.
var listenCmd = &cobra.Command{
	Use:    "listen",
	Short:  "Run the shared HTTP MCP listener",
	Hidden: true,
	RunE:   runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().IntVar(&listenPort, "port", config.DefaultPort, "Port to bind on 127.0.0.1")
}

func runListen(cmd *cobra.Command, args []string) error {
	logger := logging.Web()

	factory, store, err := newServerFactory()
	if err != nil {
		return err
	}

	srv := web.NewServer(web.ServerConfig{
		Port:           listenPort,
		SessionTimeout: cfg.HTTP.SessionTimeout,
		SweepInterval:  cfg.HTTP.SweepInterval,
	}, web.NewMCPHandlerFactory(factory))

	if err := srv.Start(); err != nil {
		store.Close()
		return fmt.Errorf("failed to start HTTP listener: %w", err)
	}

	// Hot-reload the default model when the settings file changes.
	watcher := startSettingsWatcher(factory, logger)

	sm := hooks.NewShutdownManager()
	sm.AddCleanup(func(reason string) {
		if watcher != nil {
			watcher.Close()
		}
	})
	sm.AddCleanup(func(reason string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("HTTP shutdown failed", "error", err)
		}
	})
	sm.AddCleanup(func(reason string) {
		if err := store.Close(); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	})
	sm.Start()

	logger.Info("listener ready", "port", srv.Port())
	<-sm.Done()
	return nil
}

// startSettingsWatcher watches the settings file for default-model changes.
// Watch failures are logged, not fatal; hot-reload is a convenience.
func startSettingsWatcher(factory *mcpserver.Factory, logger *slog.Logger) *config.Watcher {
	settingsPath, err := appdir.SettingsPath()
	if err != nil {
		return nil
	}

	watcher, err := config.NewWatcher(settingsPath, func(newCfg *config.Config) {
		factory.SetDefaultModel(newCfg.Model)
	}, logging.Get())
	if err != nil {
		logger.Warn("settings watcher unavailable", "error", err)
		return nil
	}
	if err := watcher.Start(); err != nil {
		logger.Warn("settings watcher failed to start", "error", err)
		watcher.Close()
		return nil
	}
	return watcher
}
