// Package appdir provides platform-native directory management for the
// Perplexity MCP server. It handles locating and creating the data
// directory, which stores configuration (settings.yaml), conversation
// history and research reports.
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// DataDirEnv is the environment variable to override the data directory.
	DataDirEnv = "MCP_PERPLEXITY_DIR"

	// SettingsFileName is the name of the settings file.
	SettingsFileName = "settings.yaml"

	// ConversationsDirName is the name of the conversations subdirectory.
	ConversationsDirName = "conversations"

	// ReportsDirName is the name of the research reports subdirectory.
	ReportsDirName = "reports"
)

var (
	// cachedDir stores the resolved data directory to avoid repeated lookups.
	cachedDir string
	mu        sync.RWMutex
)

// Dir returns the data directory path.
// The directory is determined in the following order:
//  1. MCP_PERPLEXITY_DIR environment variable (if set)
//  2. Platform-specific default:
//     - macOS: ~/Library/Application Support/mcp-perplexity-pro
//     - Linux: $XDG_DATA_HOME/mcp-perplexity-pro or ~/.local/share/mcp-perplexity-pro
//     - Windows: %APPDATA%\mcp-perplexity-pro
//
// This function only returns the path; it does not create the directory.
// Use EnsureDir() to create the directory if needed.
func Dir() (string, error) {
	mu.RLock()
	if cachedDir != "" {
		dir := cachedDir
		mu.RUnlock()
		return dir, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	if cachedDir != "" {
		return cachedDir, nil
	}

	dir, err := resolveDir()
	if err != nil {
		return "", err
	}

	cachedDir = dir
	return dir, nil
}

// resolveDir calculates the data directory path.
func resolveDir() (string, error) {
	if envDir := os.Getenv(DataDirEnv); envDir != "" {
		return envDir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, "Library", "Application Support", "mcp-perplexity-pro"), nil

	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		return filepath.Join(appData, "mcp-perplexity-pro"), nil

	default:
		// Linux and other Unix-like systems
		dataDir := os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dataDir = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataDir, "mcp-perplexity-pro"), nil
	}
}

// EnsureDir creates the data directory if it doesn't exist.
// It also creates the conversations and reports subdirectories.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}

	for _, sub := range []string{ConversationsDirName, ReportsDirName} {
		subDir := filepath.Join(dir, sub)
		if err := os.MkdirAll(subDir, 0755); err != nil {
			return fmt.Errorf("failed to create %s directory %s: %w", sub, subDir, err)
		}
	}

	return nil
}

// SettingsPath returns the full path to the settings.yaml file.
func SettingsPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SettingsFileName), nil
}

// ConversationsDir returns the full path to the conversations directory.
func ConversationsDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConversationsDirName), nil
}

// ReportsDir returns the full path to the reports directory.
func ReportsDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ReportsDirName), nil
}

// ResetCache clears the cached directory path.
// This is primarily useful for testing.
func ResetCache() {
	mu.Lock()
	defer mu.Unlock()
	cachedDir = ""
}
