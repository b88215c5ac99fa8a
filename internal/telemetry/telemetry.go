package telemetry

import (
	"context"
	"net/http"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/agent-smit/marketplace-mcp"

// Shutdown is a function that cleans up telemetry resources.
type Shutdown func(ctx context.Context) error

var serviceName atomic.Value

// Init installs the W3C trace-context propagator and records the service
// name stamped on every span from StartSpan. Spans go to whatever
// TracerProvider is registered globally; with none registered they are
// no-ops.
func Init(ctx context.Context, name string) (Shutdown, error) {
	serviceName.Store(name)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return func(ctx context.Context) error {
		return nil
	}, nil
}

// ServiceName returns the name recorded by Init, or "" before Init.
func ServiceName() string {
	name, _ := serviceName.Load().(string)
	return name
}

// StartSpan starts a span from the tracer provider carried by ctx, falling
// back to the global provider.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if svc := ServiceName(); svc != "" {
		opts = append(opts, trace.WithAttributes(attribute.String("service.name", svc)))
	}
	tp := trace.SpanFromContext(ctx).TracerProvider()
	if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// RecordError marks the span as failed when err is non-nil.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Middleware extracts an incoming trace context from the request headers so
// downstream spans join the caller's trace.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
