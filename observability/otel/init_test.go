package otel

import (
	"context"
	"strings"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization = Bearer abc ,bad, =skip,x-tenant=home")
	if len(headers) != 2 {
		t.Fatalf("unexpected headers %v", headers)
	}
	if headers["authorization"] != "Bearer abc" || headers["x-tenant"] != "home" {
		t.Fatalf("unexpected values %v", headers)
	}
}

func TestInitWithoutExporters(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected service name requirement")
	}
	shutdown, err := Init(context.Background(), Config{ServiceName: "listingd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSamplerBounds(t *testing.T) {
	for _, ratio := range []float64{-1, 0, 1, 2} {
		if got := sampler(ratio).Description(); !strings.Contains(got, "root:AlwaysOnSampler") {
			t.Fatalf("ratio %v: unexpected sampler %s", ratio, got)
		}
	}
	if got := sampler(0.25).Description(); !strings.Contains(got, "TraceIDRatioBased{0.25}") {
		t.Fatalf("unexpected sampler %s", got)
	}
}
