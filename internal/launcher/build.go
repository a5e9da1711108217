package launcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cfdude/mcp-perplexity-pro/internal/logging"
)

// EnsureFresh rebuilds the binary when any Go source under sourceDir is
// newer than it. Used in development deployments where the config names a
// source directory; production installs skip this entirely. The build is
// synchronous with a hard timeout and fatal on failure.
func EnsureFresh(ctx context.Context, sourceDir, binaryPath string, timeout time.Duration) error {
	logger := logging.Launcher()

	stale, err := needsRebuild(binaryPath, sourceDir)
	if err != nil {
		return fmt.Errorf("build freshness check failed: %w", err)
	}
	if !stale {
		logger.Debug("binary is up to date", "binary", binaryPath)
		return nil
	}

	logger.Info("sources newer than binary, rebuilding",
		"source_dir", sourceDir, "binary", binaryPath, "timeout", timeout)

	buildCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(buildCtx, "go", "build", "-o", binaryPath, ".")
	cmd.Dir = sourceDir
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	logger.Info("rebuild complete", "binary", binaryPath)
	return nil
}

// needsRebuild reports whether any .go file under sourceDir is newer than
// the binary. A missing binary always needs a build.
func needsRebuild(binaryPath, sourceDir string) (bool, error) {
	binInfo, err := os.Stat(binaryPath)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	binTime := binInfo.ModTime()

	stale := false
	err = filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "vendor" || strings.HasPrefix(name, "_") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(binTime) {
			stale = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return stale, nil
}
