package web

import (
	"encoding/json"
	"net/http"
)

// JSON-RPC error codes used on the MCP endpoint.
const (
	// CodeSessionNotFound tells the client its session is gone and it must
	// send a new initialize request.
	CodeSessionNotFound = -32001

	// CodeInvalidRequest rejects non-initialize requests sent without a
	// session id.
	CodeInvalidRequest = -32600
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// jsonRPCError is the wire shape of a JSON-RPC error response.
type jsonRPCError struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Error   jsonRPCDetail `json:"error"`
}

type jsonRPCDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// writeJSONRPCError writes a structured JSON-RPC error object with the
// given HTTP status. id may be nil when the request id is unknown.
func writeJSONRPCError(w http.ResponseWriter, status, code int, message string, id any) {
	writeJSON(w, status, jsonRPCError{
		JSONRPC: "2.0",
		ID:      id,
		Error: jsonRPCDetail{
			Code:    code,
			Message: message,
		},
	})
}

// methodNotAllowed writes a 405 Method Not Allowed response.
func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
