package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// sessionHeader carries the MCP session id assigned by the listener. The
// bridge holds the id on behalf of its stdio client for the whole run.
const sessionHeader = "Mcp-Session-Id"

// proxyLoop reads newline-framed JSON-RPC messages from in, forwards each
// to the listener, and writes responses to out. A forwarding failure
// produces a JSON-RPC error frame carrying the original request id.
func proxyLoop(ctx context.Context, client *http.Client, targetURL string, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	var sessionID string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		trimmed := strings.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}

		var reqMsg struct {
			ID any `json:"id"`
		}
		var reqID any
		if err := json.Unmarshal([]byte(trimmed), &reqMsg); err == nil {
			reqID = reqMsg.ID
		}

		resp, newSessionID, err := forwardToHTTP(ctx, client, targetURL, trimmed, sessionID)
		if err != nil {
			writeStdioError(out, reqID, -32603, fmt.Sprintf("bridge error: %v", err))
			continue
		}
		if newSessionID != "" {
			sessionID = newSessionID
		}

		// Notifications have no response body.
		if len(resp) > 0 {
			out.Write(resp)
			if resp[len(resp)-1] != '\n' {
				out.Write([]byte("\n"))
			}
		}
	}
}

// forwardToHTTP posts one JSON-RPC message to the listener. The streamable
// transport answers either plain JSON or an SSE stream; both are reduced to
// newline-separated JSON-RPC messages. Returns the response body and any
// session id the listener assigned.
func forwardToHTTP(ctx context.Context, client *http.Client, targetURL, jsonBody, sessionID string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewBufferString(jsonBody))
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	newSessionID := resp.Header.Get(sessionHeader)

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, newSessionID, fmt.Errorf("http error %d: %s", resp.StatusCode, string(body))
	}

	// 202 Accepted acknowledges a notification; there is no response.
	if resp.StatusCode == http.StatusAccepted {
		return nil, newSessionID, nil
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		body, err := parseSSEResponse(resp.Body)
		return body, newSessionID, err
	}

	body, err := io.ReadAll(resp.Body)
	return body, newSessionID, err
}

// parseSSEResponse extracts the JSON-RPC messages from an SSE stream.
func parseSSEResponse(r io.Reader) ([]byte, error) {
	scanner := bufio.NewScanner(r)
	// Large tool responses can exceed the 64KB scanner default.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var result bytes.Buffer
	var dataBuffer bytes.Buffer

	flush := func() {
		if dataBuffer.Len() == 0 {
			return
		}
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		result.Write(dataBuffer.Bytes())
		dataBuffer.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data: "):
			// SSE data fields can span multiple lines.
			if dataBuffer.Len() > 0 {
				dataBuffer.WriteString("\n")
			}
			dataBuffer.WriteString(line[6:])
		case line == "":
			flush()
		}
		// "event:" and other SSE fields are ignored.
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan SSE: %w", err)
	}
	return result.Bytes(), nil
}

// writeStdioError writes a JSON-RPC error frame to the stdio stream.
func writeStdioError(w io.Writer, id any, code int, message string) {
	errResp := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	data, _ := json.Marshal(errResp)
	w.Write(data)
	w.Write([]byte("\n"))
}
