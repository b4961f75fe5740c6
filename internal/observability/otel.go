package observability

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

const (
	tracerName         = "github.com/yungbote/neurobridge-chat"
	defaultSampleRatio = 0.1
	exportBatchTimeout = 5 * time.Second
)

// Span attributes set by the chat pipeline.
const (
	AttrConversationID = attribute.Key("chat.conversation_id")
	AttrStreamID       = attribute.Key("chat.stream_id")
	AttrModelVariant   = attribute.Key("chat.model_variant")
)

type OtelConfig struct {
	Enabled     bool
	ServiceName string
	Environment string
	Version     string
	// Endpoint is the OTLP/HTTP collector host:port. Empty exports to stdout.
	Endpoint    string
	Headers     map[string]string
	Insecure    bool
	SampleRatio float64
}

// ShutdownFunc flushes buffered spans.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// InitOTel installs the global tracer provider and W3C propagators. Exporter
// or resource failures are logged and tracing continues with what could be
// built. When tracing is disabled the returned func does nothing.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) ShutdownFunc {
	if !cfg.Enabled {
		return noopShutdown
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "Tracing")

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(samplerFor(cfg.SampleRatio)),
	}
	res, err := serviceResource(ctx, cfg)
	if err != nil {
		log.Warn("trace resource incomplete", "error", err)
	}
	if res != nil {
		opts = append(opts, sdktrace.WithResource(res))
	}

	exp, sink, err := exporterFor(ctx, cfg)
	switch {
	case err != nil:
		log.Warn("trace exporter unavailable, spans will be dropped", "sink", sink, "error", err)
	default:
		opts = append(opts, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(exportBatchTimeout)))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	log.Info("tracing enabled", "sink", sink, "sample_ratio", clampRatio(cfg.SampleRatio))
	return tp.Shutdown
}

// Tracer returns the process tracer. Before InitOTel it is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func serviceResource(ctx context.Context, cfg OtelConfig) (*resource.Resource, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "neurobridge-chat"
	}
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(name)}
	if v := strings.TrimSpace(cfg.Version); v != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(v))
	}
	if env := strings.TrimSpace(cfg.Environment); env != "" {
		attrs = append(attrs, attribute.String("deployment.environment", env))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...), resource.WithProcessRuntimeName())
}

// samplerFor honours an upstream sampling decision and otherwise keeps the
// given share of new traces.
func samplerFor(ratio float64) sdktrace.Sampler {
	ratio = clampRatio(ratio)
	if ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func clampRatio(f float64) float64 {
	switch {
	case f <= 0:
		return defaultSampleRatio
	case f > 1:
		return 1
	default:
		return f
	}
}

// exporterFor returns the span exporter and a short name for where spans go.
func exporterFor(ctx context.Context, cfg OtelConfig) (sdktrace.SpanExporter, string, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		return exp, "stdout", err
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	return exp, "otlp:" + endpoint, err
}

// ParseHeaders reads the OTEL_EXPORTER_OTLP_HEADERS form "k1=v1,k2=v2".
// Malformed pairs are skipped.
func ParseHeaders(raw string) map[string]string {
	var headers map[string]string
	for _, pair := range strings.Split(raw, ",") {
		key, val, ok := strings.Cut(pair, "=")
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		if !ok || key == "" || val == "" {
			continue
		}
		if headers == nil {
			headers = make(map[string]string)
		}
		headers[key] = val
	}
	return headers
}
