package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/FiligranHQ/xtm-mcp/internal/auth"
	"github.com/FiligranHQ/xtm-mcp/internal/resources"
	"github.com/FiligranHQ/xtm-mcp/internal/tools"
)

// supportedProtocolVersions lists MCP revisions this server answers, newest first.
var supportedProtocolVersions = []string{"2025-03-26", "2024-11-05"}

type jsonRPCRequest struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      interface{}            `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
}

func (s *Server) handleMCPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	s.logger.Debug("Handling MCP request", "api_version", GetVersionFromContext(r.Context()), "path", r.URL.Path)

	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONRPCError(w, nil, CodeParseError, "Parse error", err.Error())
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeJSONRPCError(w, req.ID, CodeInvalidRequest, "Invalid Request", "jsonrpc must be '2.0'")
		return
	}

	switch req.Method {
	case "ping":
		s.writeJSONRPCSuccess(w, req.ID, map[string]interface{}{})
	case "initialize":
		s.handleInitialize(w, req.ID, req.Params)
	case "notifications/initialized":
		s.logger.Info("Client initialization complete")
		// Notifications don't require a response, but we'll send success for compatibility
		s.writeJSONRPCSuccess(w, req.ID, map[string]interface{}{})
	case "tools/list":
		s.handleToolsList(w, r, req.ID)
	case "tools/call":
		s.handleToolCall(w, r, req.ID, req.Params)
	case "resources/list":
		s.handleResourcesList(w, req.ID)
	case "resources/read":
		s.handleResourcesRead(w, r, req.ID, req.Params)
	default:
		s.writeJSONRPCError(w, req.ID, CodeMethodNotFound, "Method not found", fmt.Sprintf("Unknown method: %s", req.Method))
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, id interface{}, params map[string]interface{}) {
	if clientInfo, ok := params["clientInfo"].(map[string]interface{}); ok {
		clientName, _ := clientInfo["name"].(string)
		clientVersion, _ := clientInfo["version"].(string)
		s.logger.Info("MCP client initializing", "client", clientName, "version", clientVersion)
	}

	version := supportedProtocolVersions[0]
	if requested, _ := params["protocolVersion"].(string); slices.Contains(supportedProtocolVersions, requested) {
		version = requested
	}

	s.writeJSONRPCSuccess(w, id, map[string]interface{}{
		"protocolVersion": version,
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{},
			"resources": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    serverName,
			"version": serverVersion,
		},
	})
}

func (s *Server) handleToolsList(w http.ResponseWriter, r *http.Request, id interface{}) {
	regs, err := s.getToolsForRequest(r)
	if err != nil {
		s.writeJSONRPCError(w, id, CodeInvalidParams, "Invalid params", err.Error())
		return
	}

	toolList := make([]map[string]interface{}, 0, len(regs))
	for _, reg := range regs {
		toolList = append(toolList, map[string]interface{}{
			"name":        reg.Name,
			"description": reg.Description,
			"inputSchema": reg.Schema.InputSchema,
		})
	}

	s.writeJSONRPCSuccess(w, id, map[string]interface{}{
		"tools": toolList,
	})
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request, id interface{}, params map[string]interface{}) {
	start := time.Now()
	requestID := auth.GetRequestID(r.Context())

	toolName, ok := params["name"].(string)
	if !ok || toolName == "" {
		s.writeJSONRPCError(w, id, CodeInvalidParams, "Invalid params", "Missing or invalid 'name' parameter")
		return
	}
	arguments, _ := params["arguments"].(map[string]interface{})

	regs, err := s.getToolsForRequest(r)
	if err != nil {
		s.writeJSONRPCError(w, id, CodeInvalidParams, "Invalid params", err.Error())
		return
	}
	idx := slices.IndexFunc(regs, func(reg *tools.ToolRegistration) bool { return reg.Name == toolName })
	if idx < 0 {
		s.writeJSONRPCError(w, id, CodeMethodNotFound, "Tool not found", fmt.Sprintf("Unknown tool: %s", toolName))
		return
	}

	s.logger.Info("Tool call started", "request_id", requestID, "tool", toolName)

	ctx := s.opts.Inject(r.Context())
	result, err := tools.Invoke(ctx, regs[idx], arguments)
	if err != nil {
		s.logger.Info("Tool execution failed", "request_id", requestID, "tool", toolName,
			"duration_ms", time.Since(start).Milliseconds(), "error", err.Error())
		s.writeJSONRPCError(w, id, CodeServerError, "Tool execution error", err.Error())
		return
	}

	s.logger.Info("Tool call completed", "request_id", requestID, "tool", toolName,
		"is_error", result.IsError, "duration_ms", time.Since(start).Milliseconds())
	s.writeJSONRPCSuccess(w, id, result)
}

func (s *Server) handleResourcesList(w http.ResponseWriter, id interface{}) {
	s.writeJSONRPCSuccess(w, id, map[string]interface{}{
		"resources": []mcp.Resource{resources.NewToolRelationshipsResource()},
	})
}

func (s *Server) handleResourcesRead(w http.ResponseWriter, r *http.Request, id interface{}, params map[string]interface{}) {
	uri, _ := params["uri"].(string)
	if uri == "" {
		s.writeJSONRPCError(w, id, CodeInvalidParams, "Invalid params", "Missing or invalid 'uri' parameter")
		return
	}

	regs, err := s.getToolsForRequest(r)
	if err != nil {
		s.writeJSONRPCError(w, id, CodeInvalidParams, "Invalid params", err.Error())
		return
	}

	contents, err := resources.Read(uri, tools.Names(regs))
	if err != nil {
		s.writeJSONRPCError(w, id, CodeInvalidParams, "Resource not found", err.Error())
		return
	}

	s.writeJSONRPCSuccess(w, id, map[string]interface{}{
		"contents": contents,
	})
}

func (s *Server) writeJSONRPCSuccess(w http.ResponseWriter, id interface{}, result interface{}) {
	rw := NewResponseWriter(w, s.logger)
	rw.WriteJSONRPCSuccess(id, result)
}

func (s *Server) writeJSONRPCError(w http.ResponseWriter, id interface{}, code int, message string, data string) {
	rw := NewResponseWriter(w, s.logger)
	rw.WriteJSONRPCError(id, code, message, data)
}
