// Package launcher decides, per invocation, whether this process becomes
// the long-lived HTTP listener or defers to a peer that already serves the
// role, and spawns the listener child when appropriate.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/cfdude/mcp-perplexity-pro/internal/config"
	"github.com/cfdude/mcp-perplexity-pro/internal/logging"
	"github.com/cfdude/mcp-perplexity-pro/internal/port"
)

// Process exit codes. Deferring to an existing server is a success.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitBuildFailed   = 3
	ExitSpawnFailed   = 4
	ExitPortExhausted = 5
)

// ExitError carries a specific process exit code up to the CLI layer.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// discoverer is the port-discovery contract the Launcher depends on.
type discoverer interface {
	Discover(ctx context.Context, preferredPort, low, high int) (port.DiscoveryResult, error)
}

// Launcher coordinates discovery, deferral, and spawning.
type Launcher struct {
	cfg        *config.Config
	discoverer discoverer
	logger     *slog.Logger
	forward    []string

	// stdout receives the deferral address. Replaceable in tests.
	stdout io.Writer
}

// New creates a Launcher for the given configuration. forward holds extra
// CLI flags to pass through to a spawned listener child, so the child
// resolves the same configuration as this process.
func New(cfg *config.Config, forward ...string) *Launcher {
	return &Launcher{
		cfg:        cfg,
		discoverer: port.NewDiscoverer(port.NewProber(config.DefaultProbeTimeout)),
		logger:     logging.Launcher(),
		forward:    forward,
		stdout:     os.Stdout,
	}
}

// Run performs one launch attempt in HTTP mode: optional rebuild, port
// discovery, then defer-or-spawn. On deferral it prints the existing
// server's address on stdout and returns nil. On spawn it blocks until the
// child exits and forwards the child's exit code via ExitError.
func (l *Launcher) Run(ctx context.Context) error {
	if l.cfg.Dev.SourceDir != "" {
		binary, err := os.Executable()
		if err != nil {
			return &ExitError{Code: ExitBuildFailed, Err: err}
		}
		if err := EnsureFresh(ctx, l.cfg.Dev.SourceDir, binary, config.DefaultBuildTimeout); err != nil {
			return &ExitError{Code: ExitBuildFailed, Err: err}
		}
	}

	result, err := l.discover(ctx)
	if err != nil {
		return err
	}

	if result.IsExistingServer {
		l.logger.Info("deferring to existing server", "port", result.Port)
		fmt.Fprintf(l.stdout, "http://127.0.0.1:%d/mcp\n", result.Port)
		return nil
	}

	return l.spawnAndWait(ctx, result.Port)
}

// discover runs port discovery. Range exhaustion is fatal; any other
// discovery failure degrades to attempting the preferred port directly,
// because discovery is an optimization, not a requirement.
func (l *Launcher) discover(ctx context.Context) (port.DiscoveryResult, error) {
	result, err := l.discoverer.Discover(ctx,
		l.cfg.HTTP.Port, l.cfg.HTTP.PortRangeLow, l.cfg.HTTP.PortRangeHigh)
	if err == nil {
		return result, nil
	}

	var exhausted *port.RangeExhaustedError
	if errors.As(err, &exhausted) {
		return port.DiscoveryResult{}, &ExitError{Code: ExitPortExhausted, Err: err}
	}

	fallback := l.cfg.HTTP.Port
	if fallback == 0 {
		fallback = config.DefaultPort
	}
	l.logger.Warn("discovery failed, attempting preferred port directly",
		"port", fallback, "error", err)
	return port.DiscoveryResult{Port: fallback, IsExistingServer: false}, nil
}

// spawnAndWait starts the listener child on the given port, forwards
// termination signals to it, and exits with the child's code.
func (l *Launcher) spawnAndWait(ctx context.Context, listenPort int) error {
	cmd, err := StartListener(listenPort, l.forward)
	if err != nil {
		return &ExitError{Code: ExitSpawnFailed, Err: fmt.Errorf("failed to spawn listener: %w", err)}
	}

	l.logger.Info("spawned listener", "port", listenPort, "pid", cmd.Process.Pid)

	// The child's lifetime is wired to this process's termination signals.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	for {
		select {
		case sig := <-sigChan:
			l.logger.Info("forwarding signal to listener", "signal", sig.String())
			_ = cmd.Process.Signal(sig)
		case <-ctx.Done():
			_ = cmd.Process.Signal(syscall.SIGTERM)
			<-done
			return ctx.Err()
		case err := <-done:
			if err == nil {
				return nil
			}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return &ExitError{Code: exitErr.ExitCode(), Err: err}
			}
			return &ExitError{Code: ExitFailure, Err: err}
		}
	}
}

// listenerArgs builds the argument vector for the listen child. forward
// carries the parent's persistent flags so the child resolves the same
// configuration instead of re-loading defaults.
func listenerArgs(listenPort int, forward []string) []string {
	args := []string{"listen", "--port", strconv.Itoa(listenPort)}
	return append(args, forward...)
}

// StartListener spawns this executable's hidden listen command as a child
// process bound to the given port. The caller owns the returned command.
func StartListener(listenPort int, forward []string) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(self, listenerArgs(listenPort, forward)...)
	// The listener logs on stderr only; stdout stays clean for callers
	// that capture it.
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}
