// Package perplexity provides a thin client for the Perplexity AI
// chat-completions API. It performs a single attempt per call (no retries)
// and maps HTTP failures to typed errors the tool layer can report.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/cfdude/mcp-perplexity-pro/internal/logging"
)

// DefaultBaseURL is the Perplexity API endpoint.
const DefaultBaseURL = "https://api.perplexity.ai"

// Known model identifiers. Callers may pass other identifiers; the API is
// the source of truth.
const (
	ModelSonar             = "sonar"
	ModelSonarPro          = "sonar-pro"
	ModelSonarReasoning    = "sonar-reasoning"
	ModelSonarReasoningPro = "sonar-reasoning-pro"
	ModelSonarDeepResearch = "sonar-deep-research"
)

var (
	// ErrUnauthorized indicates a missing or rejected API credential.
	ErrUnauthorized = errors.New("perplexity: unauthorized")

	// ErrRateLimited indicates the upstream API rejected the call with 429.
	ErrRateLimited = errors.New("perplexity: rate limited")

	// ErrBadRequest indicates the upstream API rejected the request shape.
	ErrBadRequest = errors.New("perplexity: bad request")

	// ErrUpstream indicates a 5xx from the upstream API.
	ErrUpstream = errors.New("perplexity: upstream error")
)

// APIError carries the HTTP status and upstream message of a failed call.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("perplexity: API error %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code onto the package sentinels so callers can
// use errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return ErrBadRequest
	default:
		return ErrUpstream
	}
}

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body for the chat-completions endpoint.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// Usage reports token accounting for a completed call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is a single completion choice.
type Choice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason"`
	Message      Message `json:"message"`
}

// ChatResponse is the response body for the chat-completions endpoint.
type ChatResponse struct {
	ID        string   `json:"id"`
	Model     string   `json:"model"`
	Choices   []Choice `json:"choices"`
	Citations []string `json:"citations,omitempty"`
	Usage     Usage    `json:"usage"`
}

// Content returns the first choice's message content, or empty.
func (r *ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Options configures a Client.
type Options struct {
	// APIKey is the Perplexity API credential. Required.
	APIKey string
	// BaseURL overrides the API endpoint. Used by tests.
	BaseURL string
	// Timeout bounds a single call end to end.
	Timeout time.Duration
	// RequestsPerSecond rate-limits outgoing calls. Zero disables limiting.
	RequestsPerSecond float64
	// Burst is the limiter burst size (default 1 when limiting is enabled).
	Burst int
}

// Client calls the Perplexity chat-completions API.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// New creates a Client from options.
func New(opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		limiter:    limiter,
		logger:     logging.Perplexity(),
	}
}

// CreateChatCompletion performs a single chat-completions call.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.apiKey == "" {
		return nil, ErrUnauthorized
	}
	if req.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrBadRequest)
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: at least one message is required", ErrBadRequest)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("perplexity: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.errorFromResponse(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("perplexity: failed to decode response: %w", err)
	}

	c.logger.Debug("chat completion",
		"model", req.Model,
		"messages", len(req.Messages),
		"total_tokens", chatResp.Usage.TotalTokens,
		"duration", time.Since(start).Round(time.Millisecond))

	return &chatResp, nil
}

// errorFromResponse builds an APIError from a non-2xx response.
func (c *Client) errorFromResponse(resp *http.Response) error {
	// Error bodies are small; bound the read anyway.
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	message := http.StatusText(resp.StatusCode)
	var errBody struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errBody); err == nil && errBody.Error.Message != "" {
		message = errBody.Error.Message
	} else if len(data) > 0 {
		message = string(data)
	}

	c.logger.Warn("API call failed", "status", resp.StatusCode, "message", message)
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}
