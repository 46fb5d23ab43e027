package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// JSON-RPC 2.0 error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
)

// ResponseWriter wraps http.ResponseWriter with convenient JSON response methods
type ResponseWriter struct {
	w      http.ResponseWriter
	logger *slog.Logger
}

// NewResponseWriter creates a new ResponseWriter
func NewResponseWriter(w http.ResponseWriter, logger *slog.Logger) *ResponseWriter {
	return &ResponseWriter{
		w:      w,
		logger: logger,
	}
}

// WriteJSON writes a JSON response with the given status code
func (rw *ResponseWriter) WriteJSON(status int, data interface{}) {
	rw.w.Header().Set("Content-Type", "application/json")
	rw.w.Header().Set("Cache-Control", "no-store")
	rw.w.WriteHeader(status)
	if err := json.NewEncoder(rw.w).Encode(data); err != nil {
		rw.logger.Error("Failed to encode JSON response", "error", err)
	}
}

type rpcSuccess struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result"`
}

type rpcFailure struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      interface{}    `json:"id"`
	Error   rpcErrorObject `json:"error"`
}

type rpcErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// WriteJSONRPCSuccess writes a successful JSON-RPC 2.0 response
func (rw *ResponseWriter) WriteJSONRPCSuccess(id interface{}, result interface{}) {
	rw.WriteJSON(http.StatusOK, rpcSuccess{JSONRPC: "2.0", ID: id, Result: result})
}

// WriteJSONRPCError writes a JSON-RPC 2.0 error response. Errors travel in
// a 200 response body like every other JSON-RPC reply; the id is null when
// the request could not be parsed.
func (rw *ResponseWriter) WriteJSONRPCError(id interface{}, code int, message string, data string) {
	rw.WriteJSON(http.StatusOK, rpcFailure{
		JSONRPC: "2.0",
		ID:      id,
		Error:   rpcErrorObject{Code: code, Message: message, Data: data},
	})
}
