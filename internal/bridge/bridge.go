// Package bridge fronts the shared HTTP listener with a stdio interface,
// for clients that only speak stdio framing. It locates or starts the
// listener, waits for it to report healthy, then relays newline-framed
// JSON-RPC messages as HTTP calls. HTTP failures come back as JSON-RPC
// errors on stdout, never as bridge crashes.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cfdude/mcp-perplexity-pro/internal/config"
	"github.com/cfdude/mcp-perplexity-pro/internal/launcher"
	"github.com/cfdude/mcp-perplexity-pro/internal/logging"
	"github.com/cfdude/mcp-perplexity-pro/internal/port"
)

const (
	// healthAttempts bounds the post-spawn health wait (30 x 500ms = 15s).
	healthAttempts = 30
	healthDelay    = 500 * time.Millisecond
)

// Bridge locates or starts the HTTP listener and proxies stdio to it.
type Bridge struct {
	cfg        *config.Config
	prober     *port.Prober
	discoverer *port.Discoverer
	logger     *slog.Logger
	forward    []string

	// stdin/stdout are replaceable in tests.
	stdin  io.Reader
	stdout io.Writer
}

// New creates a Bridge for the given configuration. forward holds extra
// CLI flags to pass through to a spawned listener child, so the child
// resolves the same configuration as this process.
func New(cfg *config.Config, forward ...string) *Bridge {
	prober := port.NewProber(config.DefaultProbeTimeout)
	return &Bridge{
		cfg:        cfg,
		prober:     prober,
		discoverer: port.NewDiscoverer(prober),
		logger:     logging.Bridge(),
		forward:    forward,
		stdin:      os.Stdin,
		stdout:     os.Stdout,
	}
}

// Run locates or starts the listener, then proxies stdio frames until
// stdin closes or ctx is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	targetPort, err := b.locateOrStart(ctx)
	if err != nil {
		return err
	}

	targetURL := fmt.Sprintf("http://127.0.0.1:%d/mcp", targetPort)
	b.logger.Info("bridging stdio to HTTP listener", "target", targetURL)

	return proxyLoop(ctx, &http.Client{}, targetURL, b.stdin, b.stdout)
}

// locateOrStart finds an existing healthy listener, or spawns one and
// waits for its health endpoint to come up.
func (b *Bridge) locateOrStart(ctx context.Context) (int, error) {
	result, err := b.discoverer.Discover(ctx,
		b.cfg.HTTP.Port, b.cfg.HTTP.PortRangeLow, b.cfg.HTTP.PortRangeHigh)
	if err != nil {
		return 0, err
	}

	if result.IsExistingServer {
		b.logger.Info("found existing listener", "port", result.Port)
		return result.Port, nil
	}

	b.logger.Info("starting listener", "port", result.Port)
	cmd, err := launcher.StartListener(result.Port, b.forward)
	if err != nil {
		return 0, fmt.Errorf("failed to start listener: %w", err)
	}
	// The listener outlives the bridge; it is shared by other clients.
	if err := cmd.Process.Release(); err != nil {
		b.logger.Debug("failed to release listener process", "error", err)
	}

	if err := b.waitHealthy(ctx, result.Port); err != nil {
		return 0, err
	}
	return result.Port, nil
}

// waitHealthy polls the health endpoint until the listener reports healthy
// or the attempt budget runs out.
func (b *Bridge) waitHealthy(ctx context.Context, targetPort int) error {
	for attempt := 0; attempt < healthAttempts; attempt++ {
		if b.prober.ProbeHealth(ctx, targetPort) == port.Healthy {
			b.logger.Debug("listener is healthy", "port", targetPort, "attempts", attempt+1)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(healthDelay):
		}
	}
	return errors.New("listener did not become healthy in time")
}
