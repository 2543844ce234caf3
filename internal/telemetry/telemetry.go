package telemetry

import (
	"context"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type TracingOptions struct {
	ServiceName string
	Endpoint    string
	Insecure    bool
	// SampleRatio is the share of root spans kept, between 0 and 1.
	SampleRatio float64
}

// TracingFromEnv reads the standard OTEL_* exporter variables.
func TracingFromEnv(serviceName string) TracingOptions {
	options := TracingOptions{
		ServiceName: serviceName,
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:    os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		SampleRatio: 1,
	}
	if raw := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); raw != "" {
		if ratio, err := strconv.ParseFloat(raw, 64); err == nil && ratio >= 0 && ratio <= 1 {
			options.SampleRatio = ratio
		} else {
			logrus.WithField("value", raw).Warn("telemetry: ignoring invalid sampler ratio")
		}
	}
	return options
}

// Setup installs tracing configured from the environment.
func Setup(serviceName string) func(context.Context) error {
	return SetupTracing(TracingFromEnv(serviceName))
}

// SetupTracing installs an OTLP tracer provider and W3C propagation. Without
// an endpoint nothing is exported and the returned shutdown is a no-op.
func SetupTracing(options TracingOptions) func(context.Context) error {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if options.Endpoint == "" {
		return func(context.Context) error { return nil }
	}

	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(options.Endpoint)}
	if options.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(context.Background(), exporterOpts...)
	if err != nil {
		logrus.WithError(err).Error("telemetry: otlp exporter unavailable, tracing disabled")
		return func(context.Context) error { return nil }
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(semconv.ServiceName(options.ServiceName)))
	if err != nil {
		logrus.WithError(err).Warn("telemetry: partial resource")
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(options.SampleRatio))),
	)
	otel.SetTracerProvider(provider)
	logrus.WithFields(logrus.Fields{
		"endpoint": options.Endpoint,
		"ratio":    options.SampleRatio,
	}).Info("telemetry: tracing enabled")
	return provider.Shutdown
}

// SetupLogging configures the standard logrus logger.
func SetupLogging(level, format string) {
	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithField("level", level).Warn("unknown log level, using info")
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}
