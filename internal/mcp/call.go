package mcp

import (
	"bytes"
	"encoding/json"
)

// Method names.
const (
	MethodInitialize = "initialize"
	MethodPing       = "ping"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"

	NotificationInitialized       = "notifications/initialized"
	NotificationInitializedLegacy = "initialized"
	NotificationCancelled         = "notifications/cancelled"
	NotificationProgress          = "notifications/progress"
)

// Call is a decoded, validated JSON-RPC request. It is one of
// InitializeCall, PingCall, ListToolsCall, CallToolCall, NotificationCall or
// UnknownCall.
type Call interface {
	Method() string
	isCall()
}

type InitializeCall struct {
	Params InitializeParams
}

type PingCall struct{}

type ListToolsCall struct {
	Cursor string
}

type CallToolCall struct {
	Name      string
	Arguments json.RawMessage
}

// NotificationCall is any request without an id. Known reports whether the
// method is one of the notifications the server acknowledges.
type NotificationCall struct {
	Name   string
	Params json.RawMessage
	Known  bool
}

// UnknownCall is an id-bearing request for a method the server does not
// implement.
type UnknownCall struct {
	Name string
}

func (InitializeCall) Method() string     { return MethodInitialize }
func (PingCall) Method() string           { return MethodPing }
func (ListToolsCall) Method() string      { return MethodToolsList }
func (CallToolCall) Method() string       { return MethodToolsCall }
func (c NotificationCall) Method() string { return c.Name }
func (c UnknownCall) Method() string      { return c.Name }

func (InitializeCall) isCall()   {}
func (PingCall) isCall()         {}
func (ListToolsCall) isCall()    {}
func (CallToolCall) isCall()     {}
func (NotificationCall) isCall() {}
func (UnknownCall) isCall()      {}

// IsKnownNotification reports whether method is an acknowledged notification.
func IsKnownNotification(method string) bool {
	switch method {
	case NotificationInitialized, NotificationInitializedLegacy, NotificationCancelled, NotificationProgress:
		return true
	}
	return false
}

// DecodeCall classifies req and decodes its params. Params are read
// leniently: a missing, malformed or non-object envelope leaves the fields
// it would have carried at their zero values, so a tools/call without a
// usable name reaches the executor as an unknown tool.
func DecodeCall(req *JSONRPCRequest) Call {
	if req.IsNotification() {
		return NotificationCall{Name: req.Method, Params: req.Params, Known: IsKnownNotification(req.Method)}
	}

	fields := paramFields(req.Params)

	switch req.Method {
	case MethodInitialize:
		p := InitializeParams{
			ProtocolVersion: stringField(fields, "protocolVersion"),
			Capabilities:    fields["capabilities"],
		}
		if raw, ok := fields["clientInfo"]; ok {
			var info ClientInfo
			if err := json.Unmarshal(raw, &info); err == nil {
				p.ClientInfo = info
			}
		}
		return InitializeCall{Params: p}

	case MethodPing:
		return PingCall{}

	case MethodToolsList:
		return ListToolsCall{Cursor: stringField(fields, "cursor")}

	case MethodToolsCall:
		return CallToolCall{Name: stringField(fields, "name"), Arguments: fields["arguments"]}
	}

	return UnknownCall{Name: req.Method}
}

// paramFields splits an object params envelope into its members. Anything
// other than an object yields nil.
func paramFields(params json.RawMessage) map[string]json.RawMessage {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil
	}
	return fields
}

// stringField returns fields[key] when it holds a JSON string, else "".
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
