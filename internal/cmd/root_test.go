package cmd

import (
	"reflect"
	"testing"
)

func stashFlags(t *testing.T) {
	t.Helper()
	savedConfig, savedDebug := configPath, debug
	savedLevel, savedFile, savedComponents := logLevel, logFile, logComponents
	t.Cleanup(func() {
		configPath, debug = savedConfig, savedDebug
		logLevel, logFile, logComponents = savedLevel, savedFile, savedComponents
	})
}

func TestForwardFlagsRebuildsPersistentFlags(t *testing.T) {
	stashFlags(t)

	configPath = "/custom/settings.yaml"
	debug = true
	logLevel = "warn"
	logFile = "/var/log/mcp.log"
	logComponents = "web,session"

	got := forwardFlags()
	want := []string{
		"--config", "/custom/settings.yaml",
		"--debug",
		"--log-level", "warn",
		"--logfile", "/var/log/mcp.log",
		"--log-components", "web,session",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("forwardFlags() = %v, want %v", got, want)
	}
}

func TestForwardFlagsEmptyByDefault(t *testing.T) {
	stashFlags(t)

	configPath = ""
	debug = false
	logLevel = ""
	logFile = ""
	logComponents = ""

	if got := forwardFlags(); len(got) != 0 {
		t.Errorf("forwardFlags() = %v, want empty", got)
	}
}
