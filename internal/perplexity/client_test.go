package perplexity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(baseURL string) *Client {
	return New(Options{
		APIKey:  "pplx-test",
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
	})
}

func TestCreateChatCompletion(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer pplx-test" {
			t.Errorf("Authorization = %q", got)
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("request body not JSON: %v", err)
		}
		if req.Model != ModelSonar {
			t.Errorf("model = %q, want %q", req.Model, ModelSonar)
		}

		json.NewEncoder(w).Encode(ChatResponse{
			ID:    "resp-1",
			Model: ModelSonar,
			Choices: []Choice{
				{Message: Message{Role: "assistant", Content: "the answer"}},
			},
			Citations: []string{"https://example.com"},
			Usage:     Usage{TotalTokens: 42},
		})
	}))
	defer ts.Close()

	resp, err := newTestClient(ts.URL).CreateChatCompletion(context.Background(), ChatRequest{
		Model:    ModelSonar,
		Messages: []Message{{Role: "user", Content: "question"}},
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion failed: %v", err)
	}
	if got := resp.Content(); got != "the answer" {
		t.Errorf("Content() = %q, want %q", got, "the answer")
	}
	if len(resp.Citations) != 1 {
		t.Errorf("len(Citations) = %d, want 1", len(resp.Citations))
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"bad request", http.StatusBadRequest, ErrBadRequest},
		{"upstream", http.StatusBadGateway, ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"message": "upstream says no"},
				})
			}))
			defer ts.Close()

			_, err := newTestClient(ts.URL).CreateChatCompletion(context.Background(), ChatRequest{
				Model:    ModelSonar,
				Messages: []Message{{Role: "user", Content: "q"}},
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error is not *APIError: %v", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Message != "upstream says no" {
				t.Errorf("Message = %q", apiErr.Message)
			}
		})
	}
}

func TestRequestValidation(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1")

	_, err := client.CreateChatCompletion(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	if !errors.Is(err, ErrBadRequest) {
		t.Errorf("missing model: error = %v, want ErrBadRequest", err)
	}

	_, err = client.CreateChatCompletion(context.Background(), ChatRequest{Model: ModelSonar})
	if !errors.Is(err, ErrBadRequest) {
		t.Errorf("missing messages: error = %v, want ErrBadRequest", err)
	}
}

func TestMissingAPIKey(t *testing.T) {
	client := New(Options{})
	_, err := client.CreateChatCompletion(context.Background(), ChatRequest{
		Model:    ModelSonar,
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}
