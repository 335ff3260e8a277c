// Package tracing installs the process TracerProvider and traces HTTP requests.
// Graph code opens child spans through pkg/tracing.
package tracing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"

	"github.com/emergent-company/emergent.graph/internal/config"
	"github.com/emergent-company/emergent.graph/internal/version"
	"github.com/emergent-company/emergent.graph/pkg/logger"
)

var Module = fx.Module("tracing",
	fx.Provide(NewTracerProvider),
	fx.Invoke(RegisterEchoMiddleware),
)

// NewTracerProvider registers the global provider. With OTLP configured the
// SDK provider is flushed on stop; otherwise spans are dropped.
func NewTracerProvider(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (trace.TracerProvider, error) {
	log = log.With(logger.Scope("tracing"))
	oc := cfg.Otel

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	if !oc.Enabled() {
		log.Debug("span export disabled")
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(oc.ExporterEndpoint)}
	if oc.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(oc.ServiceName),
		semconv.ServiceVersion(version.Version),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(oc.SamplingRate))),
	)
	otel.SetTracerProvider(tp)
	lc.Append(fx.Hook{OnStop: tp.Shutdown})

	log.Info("exporting spans",
		slog.String("endpoint", oc.ExporterEndpoint),
		slog.String("service", oc.ServiceName),
		slog.Float64("sampling_rate", oc.SamplingRate),
	)
	return tp, nil
}

// RegisterEchoMiddleware opens a server span per graph or schema request.
func RegisterEchoMiddleware(e *echo.Echo, tp trace.TracerProvider, cfg *config.Config) {
	if !cfg.Otel.Enabled() {
		return
	}
	e.Use(otelecho.Middleware(cfg.Otel.ServiceName,
		otelecho.WithTracerProvider(tp),
		otelecho.WithSkipper(func(c echo.Context) bool {
			return !strings.HasPrefix(c.Request().URL.Path, "/api/")
		}),
	))
}
