package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	maxBodySize = 1 << 20 // 1 MB

	// SessionHeader carries the session id.
	SessionHeader = "Mcp-Session-Id"
)

// Admission decides whether a request may proceed. When it returns false it
// has already written the rejection response.
type Admission interface {
	Admit(w http.ResponseWriter, r *http.Request) bool
}

// TransportConfig configures a Transport. Sessions defaults to an in-memory
// store; a nil Admission admits everything.
type TransportConfig struct {
	Handler   MethodHandler
	Sessions  SessionStore
	Admission Admission
	Logger    *zap.Logger
}

// Transport implements the MCP Streamable HTTP transport: JSON-RPC 2.0 over
// POST, session termination over DELETE, and a minimal event-stream
// acknowledgement over GET.
type Transport struct {
	handler   MethodHandler
	sessions  SessionStore
	admission Admission
	logger    *zap.Logger
	now       func() time.Time
}

// NewTransport creates a Transport.
func NewTransport(cfg TransportConfig) *Transport {
	if cfg.Sessions == nil {
		cfg.Sessions = NewMemorySessionStore(DefaultSessionIdleTTL)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Transport{
		handler:   cfg.Handler,
		sessions:  cfg.Sessions,
		admission: cfg.Admission,
		logger:    cfg.Logger.With(zap.String("component", "mcp")),
		now:       time.Now,
	}
}

// ServeHTTP implements http.Handler.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		t.handleGet(w, r)
	case http.MethodPost:
		t.handlePost(w, r)
	case http.MethodDelete:
		t.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (t *Transport) handleGet(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		http.Error(w, "Bad Request - Expected SSE", http.StatusBadRequest)
		return
	}
	if t.admission != nil && !t.admission.Admit(w, r) {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "event: connected\ndata: {\"connected\": true}\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (t *Transport) handleDelete(w http.ResponseWriter, r *http.Request) {
	if sid := r.Header.Get(SessionHeader); sid != "" {
		if err := t.sessions.Delete(r.Context(), sid); err != nil {
			t.logger.Warn("session delete failed", zap.String("session", sid), zap.Error(err))
		} else {
			t.logger.Debug("session terminated", zap.String("session", sid))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request) {
	notification := false
	defer func() {
		if rec := recover(); rec != nil {
			t.logger.Error("panic in transport", zap.Any("panic", rec), zap.Stack("stack"))
			if notification {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			writeJSON(w, errorResponse(fallbackID, NewInternalError("Internal error").WithData(fmt.Sprint(rec))))
		}
	}()

	if ct := r.Header.Get("Content-Type"); ct != "" && !isJSONContentType(ct) {
		t.writeParseError(w, r, "unsupported content type: "+ct)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		t.writeParseError(w, r, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
		return
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		t.writeParseError(w, r, "Request body is empty or whitespace only")
		return
	}

	if trimmed[0] == '[' {
		t.handleBatch(w, r, trimmed)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		t.writeParseError(w, r, err.Error())
		return
	}

	if req.IsNotification() {
		notification = true
		t.notify(r.Context(), &req)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if t.admission != nil && !t.admission.Admit(w, r) {
		return
	}

	resp, sessionID := t.respond(r, &req)
	if sessionID != "" {
		w.Header().Set(SessionHeader, sessionID)
	}
	writeJSON(w, resp)
}

func (t *Transport) handleBatch(w http.ResponseWriter, r *http.Request, body []byte) {
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		t.writeParseError(w, r, err.Error())
		return
	}
	if len(raws) == 0 {
		writeJSON(w, errorResponse(fallbackID, NewInvalidRequest("empty batch")))
		return
	}

	RequestTraceFrom(r.Context()).setMethod("batch")

	reqs := make([]*JSONRPCRequest, len(raws))
	needsAdmission := false
	for i, raw := range raws {
		var req JSONRPCRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		reqs[i] = &req
		if !req.IsNotification() {
			needsAdmission = true
		}
	}

	if needsAdmission && t.admission != nil && !t.admission.Admit(w, r) {
		return
	}

	responses := make([]JSONRPCResponse, 0, len(reqs))
	for _, req := range reqs {
		if req == nil {
			responses = append(responses, errorResponse(fallbackID, NewInvalidRequest("invalid batch element")))
			continue
		}
		if req.IsNotification() {
			t.notify(r.Context(), req)
			continue
		}
		resp, sessionID := t.respond(r, req)
		if sessionID != "" && w.Header().Get(SessionHeader) == "" {
			w.Header().Set(SessionHeader, sessionID)
		}
		responses = append(responses, resp)
	}

	if len(responses) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, responses)
}

// respond runs one id-bearing request and returns its response. A panic in
// the handler becomes an InternalError carrying the request id.
func (t *Transport) respond(r *http.Request, req *JSONRPCRequest) (resp JSONRPCResponse, sessionID string) {
	ctx := r.Context()
	tr := RequestTraceFrom(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			t.logger.Error("panic while handling request",
				zap.String("method", req.Method),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			tr.setError(InternalError)
			resp = errorResponse(req.ID, NewInternalError("Internal error").WithData(fmt.Sprint(rec)))
			sessionID = ""
		}
	}()

	tr.setMethod(req.Method)
	t.touchSession(ctx, r.Header.Get(SessionHeader))

	var result interface{}
	var rpcErr *JSONRPCError
	switch c := DecodeCall(req).(type) {
	case InitializeCall:
		result, sessionID, rpcErr = t.initialize(ctx, c)
	case CallToolCall:
		tr.setTool(c.Name)
		result, rpcErr = t.handler.HandleCall(ctx, c)
	default:
		result, rpcErr = t.handler.HandleCall(ctx, c)
	}

	if rpcErr != nil {
		tr.setError(rpcErr.Code)
		return errorResponse(req.ID, rpcErr), ""
	}
	if result == nil {
		result = struct{}{}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		tr.setError(InternalError)
		return errorResponse(req.ID, NewInternalError("failed to marshal result")), ""
	}
	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: raw}, sessionID
}

// notify runs a notification for its side effects. Failures are logged and
// never reported to the caller.
func (t *Transport) notify(ctx context.Context, req *JSONRPCRequest) {
	tr := RequestTraceFrom(ctx)
	if tr != nil {
		tr.Notification = true
	}
	tr.setMethod(req.Method)

	defer func() {
		if rec := recover(); rec != nil {
			t.logger.Error("panic while handling notification",
				zap.String("method", req.Method),
				zap.Any("panic", rec),
			)
		}
	}()

	call := DecodeCall(req)
	if n, ok := call.(NotificationCall); ok && !n.Known {
		t.logger.Info("ignoring unknown notification", zap.String("method", req.Method))
	}
	if _, rpcErr := t.handler.HandleCall(ctx, call); rpcErr != nil {
		t.logger.Warn("notification handler failed", zap.String("method", req.Method), zap.Error(rpcErr))
	}
}

func (t *Transport) initialize(ctx context.Context, c InitializeCall) (interface{}, string, *JSONRPCError) {
	version := NegotiateVersion(c.Params.ProtocolVersion)
	sess := NewSession(version, c.Params.ClientInfo, t.now())
	if err := t.sessions.Put(ctx, sess); err != nil {
		t.logger.Error("session create failed", zap.Error(err))
		return nil, "", NewInternalError("failed to create session").WithData(err.Error())
	}

	t.logger.Info("session created",
		zap.String("session", sess.ID),
		zap.String("requested_version", c.Params.ProtocolVersion),
		zap.String("protocol_version", version),
		zap.String("client", c.Params.ClientInfo.Name),
	)

	return InitializeResult{
		ProtocolVersion: version,
		Capabilities:    t.handler.Capabilities(),
		ServerInfo:      t.handler.ServerInfo(),
	}, sess.ID, nil
}

// touchSession refreshes LastSeen for a known session. Unknown ids are
// tolerated: requests are never rejected for their session header.
func (t *Transport) touchSession(ctx context.Context, id string) {
	if id == "" {
		return
	}
	sess, err := t.sessions.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			t.logger.Warn("session lookup failed", zap.String("session", id), zap.Error(err))
		}
		return
	}
	sess.LastSeen = t.now()
	if err := t.sessions.Put(ctx, sess); err != nil {
		t.logger.Warn("session touch failed", zap.String("session", id), zap.Error(err))
	}
}

func (t *Transport) writeParseError(w http.ResponseWriter, r *http.Request, detail string) {
	tr := RequestTraceFrom(r.Context())
	tr.setMethod("invalid")
	tr.setError(ParseError)
	writeJSON(w, errorResponse(fallbackID, NewParseError("Parse error").WithData(detail)))
}

func isJSONContentType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func errorResponse(id json.RawMessage, rpcErr *JSONRPCError) JSONRPCResponse {
	if len(id) == 0 {
		id = fallbackID
	}
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
