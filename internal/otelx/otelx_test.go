package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false})
	if err != nil {
		t.Fatalf("disabled init errored: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown func is nil")
	}
	if otel.GetTracerProvider() == nil {
		t.Fatal("no tracer provider installed")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInit_DisabledPropagatorInstalled(t *testing.T) {
	_, err := Init(context.Background(), Options{Enabled: false})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	fields := otel.GetTextMapPropagator().Fields()
	var hasTraceparent bool
	for _, f := range fields {
		if f == "traceparent" {
			hasTraceparent = true
		}
	}
	if !hasTraceparent {
		t.Errorf("propagator fields = %v, want traceparent", fields)
	}
}
