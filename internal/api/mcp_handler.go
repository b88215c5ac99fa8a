package api

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/agent-smit/marketplace-mcp/internal/mcp"
)

const (
	ServerName    = "directus-marketplace-search"
	ServerVersion = "1.0.0"
)

// ToolExecutor is the contract for tool operations.
// Satisfied by *tools.Executor.
type ToolExecutor interface {
	Definitions() []mcp.ToolDefinition
	Call(ctx context.Context, name string, args json.RawMessage) (*mcp.ToolResult, *mcp.JSONRPCError)
}

// MCPHandler dispatches decoded MCP calls to the tool executor.
// It implements mcp.MethodHandler.
type MCPHandler struct {
	tools  ToolExecutor
	logger *zap.Logger
}

// NewMCPHandler creates an MCPHandler.
func NewMCPHandler(tools ToolExecutor, logger *zap.Logger) *MCPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MCPHandler{tools: tools, logger: logger.With(zap.String("component", "mcp_handler"))}
}

// ServerInfo implements mcp.MethodHandler.
func (h *MCPHandler) ServerInfo() mcp.ServerInfo {
	return mcp.ServerInfo{Name: ServerName, Version: ServerVersion}
}

// Capabilities implements mcp.MethodHandler.
func (h *MCPHandler) Capabilities() mcp.ServerCapabilities {
	return mcp.ServerCapabilities{
		Tools: &mcp.ToolsCapability{ListChanged: true},
	}
}

// HandleCall implements mcp.MethodHandler.
func (h *MCPHandler) HandleCall(ctx context.Context, call mcp.Call) (interface{}, *mcp.JSONRPCError) {
	switch c := call.(type) {
	case mcp.PingCall:
		return map[string]interface{}{}, nil

	case mcp.ListToolsCall:
		return mcp.ListToolsResult{Tools: h.tools.Definitions()}, nil

	case mcp.CallToolCall:
		return h.handleToolsCall(ctx, c)

	case mcp.NotificationCall:
		if c.Name == mcp.NotificationCancelled {
			h.logger.Debug("client cancelled request", zap.ByteString("params", c.Params))
		}
		return nil, nil // no-op ack

	case mcp.InitializeCall:
		// The transport answers initialize itself; reaching here means it was
		// routed around session creation.
		return mcp.InitializeResult{
			ProtocolVersion: mcp.NegotiateVersion(c.Params.ProtocolVersion),
			Capabilities:    h.Capabilities(),
			ServerInfo:      h.ServerInfo(),
		}, nil

	default:
		return nil, mcp.NewMethodNotFound("Method not found: " + call.Method())
	}
}

func (h *MCPHandler) handleToolsCall(ctx context.Context, c mcp.CallToolCall) (interface{}, *mcp.JSONRPCError) {
	result, rpcErr := h.tools.Call(ctx, c.Name, c.Arguments)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return result, nil
}
