package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/cfdude/mcp-perplexity-pro/internal/perplexity"
	"github.com/cfdude/mcp-perplexity-pro/internal/storage"
)

// upstreamRecorder is a fake Perplexity API that records the requests it
// receives and answers with a canned completion.
type upstreamRecorder struct {
	mu       sync.Mutex
	requests []perplexity.ChatRequest
	answer   string
}

func (u *upstreamRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req perplexity.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		u.mu.Lock()
		u.requests = append(u.requests, req)
		u.mu.Unlock()

		resp := perplexity.ChatResponse{
			ID:    "cmpl-1",
			Model: req.Model,
			Choices: []perplexity.Choice{
				{Message: perplexity.Message{Role: "assistant", Content: u.answer}},
			},
			Citations: []string{"https://example.com/source"},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func (u *upstreamRecorder) lastRequest(t *testing.T) perplexity.ChatRequest {
	t.Helper()
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.requests) == 0 {
		t.Fatal("upstream received no requests")
	}
	return u.requests[len(u.requests)-1]
}

func newTestDeps(t *testing.T, defaultModel string) (Deps, *upstreamRecorder) {
	t.Helper()

	upstream := &upstreamRecorder{answer: "the answer"}
	ts := httptest.NewServer(upstream.handler())
	t.Cleanup(ts.Close)

	client := perplexity.New(perplexity.Options{
		APIKey:  "test-key",
		BaseURL: ts.URL,
	})

	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return Deps{
		Client:       client,
		Store:        store,
		DefaultModel: func() string { return defaultModel },
	}, upstream
}

func TestAskUsesDefaultModel(t *testing.T) {
	deps, upstream := newTestDeps(t, "sonar-pro")
	handler := makeAskHandler(deps, "")

	_, out, err := handler(context.Background(), nil, AskInput{Query: "what is Go?"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	if got := upstream.lastRequest(t).Model; got != "sonar-pro" {
		t.Errorf("upstream model = %q, want %q", got, "sonar-pro")
	}
	if out.Answer != "the answer" {
		t.Errorf("Answer = %q", out.Answer)
	}
	if len(out.Citations) != 1 {
		t.Errorf("Citations = %v", out.Citations)
	}
}

func TestAskExplicitModelWins(t *testing.T) {
	deps, upstream := newTestDeps(t, "sonar-pro")
	handler := makeAskHandler(deps, "")

	_, _, err := handler(context.Background(), nil, AskInput{
		Query: "q",
		Model: perplexity.ModelSonarReasoningPro,
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	if got := upstream.lastRequest(t).Model; got != perplexity.ModelSonarReasoningPro {
		t.Errorf("upstream model = %q, want %q", got, perplexity.ModelSonarReasoningPro)
	}
}

func TestReasonFallbackOverridesDefault(t *testing.T) {
	deps, upstream := newTestDeps(t, "sonar-pro")
	handler := makeAskHandler(deps, perplexity.ModelSonarReasoning)

	_, _, err := handler(context.Background(), nil, AskInput{Query: "why?"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	if got := upstream.lastRequest(t).Model; got != perplexity.ModelSonarReasoning {
		t.Errorf("upstream model = %q, want %q", got, perplexity.ModelSonarReasoning)
	}
}

func TestChatCreatesConversation(t *testing.T) {
	deps, upstream := newTestDeps(t, "sonar")
	handler := makeChatHandler(deps)

	_, out, err := handler(context.Background(), nil, ChatInput{Message: "hello"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if out.ChatID == "" {
		t.Fatal("ChatID empty for new conversation")
	}
	if out.Answer != "the answer" {
		t.Errorf("Answer = %q", out.Answer)
	}

	req := upstream.lastRequest(t)
	if len(req.Messages) != 1 || req.Messages[0].Content != "hello" {
		t.Errorf("upstream messages = %+v", req.Messages)
	}

	conv, err := deps.Store.GetConversation(out.ChatID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("stored %d messages, want 2", len(conv.Messages))
	}
	if conv.Messages[1].Role != "assistant" || conv.Messages[1].Content != "the answer" {
		t.Errorf("assistant message = %+v", conv.Messages[1])
	}
	if conv.Title != "hello" {
		t.Errorf("derived title = %q", conv.Title)
	}
}

func TestChatReplaysHistory(t *testing.T) {
	deps, upstream := newTestDeps(t, "sonar")
	handler := makeChatHandler(deps)

	_, first, err := handler(context.Background(), nil, ChatInput{Message: "first"})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}

	_, second, err := handler(context.Background(), nil, ChatInput{
		Message: "second",
		ChatID:  first.ChatID,
	})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if second.ChatID != first.ChatID {
		t.Errorf("ChatID changed: %q then %q", first.ChatID, second.ChatID)
	}

	// The second upstream call carries the full history plus the new
	// user message.
	req := upstream.lastRequest(t)
	if len(req.Messages) != 3 {
		t.Fatalf("upstream got %d messages, want 3", len(req.Messages))
	}
	if req.Messages[0].Content != "first" || req.Messages[2].Content != "second" {
		t.Errorf("replayed messages = %+v", req.Messages)
	}

	conv, err := deps.Store.GetConversation(first.ChatID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(conv.Messages) != 4 {
		t.Errorf("stored %d messages, want 4", len(conv.Messages))
	}
}

func TestChatKeepsConversationModel(t *testing.T) {
	deps, upstream := newTestDeps(t, "sonar")
	handler := makeChatHandler(deps)

	_, out, err := handler(context.Background(), nil, ChatInput{
		Message: "hi",
		Model:   "sonar-pro",
	})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}

	// Later calls without an override stay on the conversation's model.
	_, _, err = handler(context.Background(), nil, ChatInput{
		Message: "more",
		ChatID:  out.ChatID,
	})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if got := upstream.lastRequest(t).Model; got != "sonar-pro" {
		t.Errorf("upstream model = %q, want %q", got, "sonar-pro")
	}
}

func TestChatUnknownConversation(t *testing.T) {
	deps, _ := newTestDeps(t, "sonar")
	handler := makeChatHandler(deps)

	_, _, err := handler(context.Background(), nil, ChatInput{
		Message: "hi",
		ChatID:  "conv-missing",
	})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestResearchPersistsReport(t *testing.T) {
	deps, upstream := newTestDeps(t, "sonar")
	handler := makeResearchHandler(deps)

	_, out, err := handler(context.Background(), nil, ResearchInput{
		Query: "state of fusion energy",
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if out.ReportID == "" {
		t.Fatal("ReportID empty")
	}

	// Research defaults to the deep-research model, not the configured one.
	if got := upstream.lastRequest(t).Model; got != perplexity.ModelSonarDeepResearch {
		t.Errorf("upstream model = %q, want %q", got, perplexity.ModelSonarDeepResearch)
	}

	report, content, err := deps.Store.GetReport(out.ReportID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if content != "the answer" {
		t.Errorf("report content = %q", content)
	}
	if report.Query != "state of fusion energy" {
		t.Errorf("report query = %q", report.Query)
	}
	if report.Title != "state of fusion energy" {
		t.Errorf("report title = %q", report.Title)
	}
	if len(report.Citations) != 1 {
		t.Errorf("report citations = %v", report.Citations)
	}
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"short query kept", "what is Go?", "what is Go?"},
		{"whitespace trimmed", "  padded  ", "padded"},
		{
			"long query breaks at word boundary",
			strings.Repeat("word ", 30),
			strings.TrimSpace(strings.Repeat("word ", 16)),
		},
		{
			// 3 bytes per rune; byte 80 is mid-rune, so the cut backs
			// up to byte 78.
			"multibyte query cut on rune boundary",
			strings.Repeat("研究", 30),
			strings.Repeat("研究", 13),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deriveTitle(tt.query)
			if got != tt.want {
				t.Errorf("deriveTitle(%q) = %q, want %q", tt.query, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("deriveTitle(%q) produced invalid UTF-8", tt.query)
			}
		})
	}
}

func TestDepsModelResolution(t *testing.T) {
	deps := Deps{DefaultModel: func() string { return "sonar-pro" }}

	if got := deps.model("sonar-reasoning"); got != "sonar-reasoning" {
		t.Errorf("explicit model = %q", got)
	}
	if got := deps.model(""); got != "sonar-pro" {
		t.Errorf("default model = %q", got)
	}

	// With no default configured the built-in model applies.
	bare := Deps{}
	if got := bare.model(""); got != perplexity.ModelSonar {
		t.Errorf("fallback model = %q, want %q", got, perplexity.ModelSonar)
	}
}
