// Package main is the entry point for the mcp-perplexity-pro CLI.
package main

import (
	"os"

	"github.com/cfdude/mcp-perplexity-pro/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
