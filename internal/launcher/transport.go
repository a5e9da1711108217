package launcher

import (
	"fmt"
	"os"
)

// Mode selects the wire transport for this invocation.
type Mode string

const (
	// ModeStdio serves a single MCP session on stdin/stdout.
	ModeStdio Mode = "stdio"

	// ModeHTTP joins or becomes the shared HTTP listener.
	ModeHTTP Mode = "http"

	// ModeAuto picks stdio when the process is embedded in a client
	// (standard streams not attached to a terminal), http otherwise.
	ModeAuto Mode = "auto"
)

// ParseMode validates a transport-mode flag value.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStdio, ModeHTTP, ModeAuto:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("invalid transport mode %q (want stdio, http, or auto)", s)
	}
}

// Resolve turns ModeAuto into a concrete mode. When neither stdin nor
// stdout is a terminal the process is embedded inside a client, so stdio
// framing is used directly without any port logic.
func Resolve(mode Mode) Mode {
	if mode != ModeAuto {
		return mode
	}
	if !isTerminal(os.Stdin) && !isTerminal(os.Stdout) {
		return ModeStdio
	}
	return ModeHTTP
}

func isTerminal(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
