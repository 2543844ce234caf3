package telemetry

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown := Setup("qalert-test")
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

func TestSetupLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetFormatter(&logrus.TextFormatter{})

	SetupLogging("debug", "json")
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", logrus.GetLevel())
	}
	if _, ok := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatal("expected json formatter")
	}

	SetupLogging("loud", "text")
	if logrus.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected fallback to info, got %s", logrus.GetLevel())
	}
}

func TestTracingFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")

	options := TracingFromEnv("qalert")
	if options.Endpoint != "collector:4317" || !options.Insecure || options.SampleRatio != 0.25 {
		t.Fatalf("unexpected options %+v", options)
	}

	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "2")
	if got := TracingFromEnv("qalert").SampleRatio; got != 1 {
		t.Fatalf("expected invalid ratio to fall back to 1, got %v", got)
	}
}
