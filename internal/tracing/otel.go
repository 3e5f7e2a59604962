package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config describes the process tracer provider
type Config struct {
	ServiceName    string
	ServiceVersion string

	// SampleRatio is the fraction of root spans kept, in (0, 1]. Anything else means 1.
	SampleRatio float64

	// Exporter receives ended spans. Without one, spans only carry ids into logs.
	Exporter sdktrace.SpanExporter
}

var (
	installOnce sync.Once
	installMu   sync.RWMutex
	installed   *sdktrace.TracerProvider
	installErr  error
)

// NewProvider builds a tracer provider for cfg without installing it.
func NewProvider(cfg Config) (*sdktrace.TracerProvider, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return nil, err
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(res),
	}
	if cfg.Exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(cfg.Exporter))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

// Init installs the global tracer provider once per process; later calls
// return the first result.
func Init(cfg Config) error {
	installOnce.Do(func() {
		tp, err := NewProvider(cfg)
		if err != nil {
			installErr = err
			return
		}

		installMu.Lock()
		installed = tp
		installMu.Unlock()

		otel.SetTracerProvider(tp)
	})
	return installErr
}

// Shutdown flushes pending spans and stops the installed provider.
func Shutdown(ctx context.Context) error {
	installMu.RLock()
	tp := installed
	installMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span tagged with the session and turn ids found in ctx,
// and records the span's trace id in ctx when none is set yet.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	if id := GetSessionID(ctx); id != "" {
		attrs = append(attrs, attribute.String("session_id", id))
	}
	if id := GetTurnID(ctx); id != "" {
		attrs = append(attrs, attribute.String("turn_id", id))
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
