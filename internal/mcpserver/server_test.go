package mcpserver

import (
	"testing"

	"github.com/cfdude/mcp-perplexity-pro/internal/perplexity"
	"github.com/cfdude/mcp-perplexity-pro/internal/storage"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()

	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	client := perplexity.New(perplexity.Options{APIKey: "test-key"})
	return NewFactory(client, store, "sonar")
}

func TestNewServerRegistersTools(t *testing.T) {
	f := newTestFactory(t)

	srv, err := f.NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if srv == nil {
		t.Fatal("NewServer returned nil server")
	}

	// Each call yields an independent server.
	srv2, err := f.NewServer()
	if err != nil {
		t.Fatalf("second NewServer: %v", err)
	}
	if srv == srv2 {
		t.Error("NewServer returned the same server twice")
	}
}

func TestDefaultModelHotSwap(t *testing.T) {
	f := newTestFactory(t)

	if got := f.DefaultModel(); got != "sonar" {
		t.Errorf("DefaultModel() = %q, want %q", got, "sonar")
	}

	f.SetDefaultModel("sonar-pro")
	if got := f.DefaultModel(); got != "sonar-pro" {
		t.Errorf("after SetDefaultModel, DefaultModel() = %q, want %q", got, "sonar-pro")
	}
}
