package mcp

import "context"

// RequestTrace records what the transport did with a request so that outer
// middleware can account for it after the response is written.
type RequestTrace struct {
	Method       string
	Tool         string
	ErrorCode    int
	Notification bool
}

type traceKey struct{}

// WithRequestTrace attaches an empty RequestTrace to ctx.
func WithRequestTrace(ctx context.Context) (context.Context, *RequestTrace) {
	tr := &RequestTrace{}
	return context.WithValue(ctx, traceKey{}, tr), tr
}

// RequestTraceFrom returns the trace attached to ctx, or nil.
func RequestTraceFrom(ctx context.Context) *RequestTrace {
	tr, _ := ctx.Value(traceKey{}).(*RequestTrace)
	return tr
}

func (tr *RequestTrace) setMethod(m string) {
	if tr != nil && tr.Method == "" {
		tr.Method = m
	}
}

func (tr *RequestTrace) setTool(name string) {
	if tr != nil && tr.Tool == "" {
		tr.Tool = name
	}
}

func (tr *RequestTrace) setError(code int) {
	if tr != nil && tr.ErrorCode == 0 {
		tr.ErrorCode = code
	}
}
