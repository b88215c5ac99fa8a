package mcp

import (
	"context"
	"encoding/json"
)

// JSON-RPC 2.0 error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InternalError  = -32603
)

// fallbackID is echoed when the request id cannot be recovered.
var fallbackID = json.RawMessage("0")

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification returns true if the request has no ID or a null ID.
func (r *JSONRPCRequest) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// JSONRPCResponse represents a JSON-RPC 2.0 response. Exactly one of Result
// and Error is set.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return e.Message
}

// WithData returns a copy of e carrying data as diagnostic detail.
func (e *JSONRPCError) WithData(data interface{}) *JSONRPCError {
	out := *e
	if raw, err := json.Marshal(data); err == nil {
		out.Data = raw
	}
	return &out
}

// Error constructors.

func NewParseError(msg string) *JSONRPCError {
	return &JSONRPCError{Code: ParseError, Message: msg}
}

func NewInvalidRequest(msg string) *JSONRPCError {
	return &JSONRPCError{Code: InvalidRequest, Message: msg}
}

func NewMethodNotFound(msg string) *JSONRPCError {
	return &JSONRPCError{Code: MethodNotFound, Message: msg}
}

func NewInternalError(msg string) *JSONRPCError {
	return &JSONRPCError{Code: InternalError, Message: msg}
}

// MCP protocol types.

// ServerInfo identifies the MCP server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientInfo identifies the MCP client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities declares what the server supports.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// InitializeParams is the params for the initialize request.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ClientInfo      ClientInfo      `json:"clientInfo"`
}

// InitializeResult is the result for the initialize response.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

// Tool types.

// ToolDefinition describes a tool for tools/list.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// ToolCallParams is the params for tools/call.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the result for tools/call.
type ToolResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// ToolResultContent is a content item in a tool result.
type ToolResultContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextResult wraps text as a single-item tool result.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []ToolResultContent{{Type: "text", Text: text}}}
}

// MethodHandler is the interface that MCP method dispatchers must implement.
// The transport decodes every request into a Call and handles initialize
// itself; everything else is passed to HandleCall. Notifications are passed
// too, and their result is discarded.
type MethodHandler interface {
	HandleCall(ctx context.Context, call Call) (interface{}, *JSONRPCError)
	ServerInfo() ServerInfo
	Capabilities() ServerCapabilities
}
