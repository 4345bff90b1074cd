package tracing

import (
	"context"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.IsEnabled() {
		t.Error("expected disabled provider")
	}
	if p.Tracer("test") == nil {
		t.Error("Tracer() should never return nil")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() on disabled provider error = %v", err)
	}
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing service name",
			cfg:     Config{Enabled: true, SamplingRate: 1},
			wantErr: "service name is required",
		},
		{
			name:    "negative sampling rate",
			cfg:     Config{Enabled: true, ServiceName: "storyviews", SamplingRate: -0.1},
			wantErr: "sampling rate",
		},
		{
			name:    "sampling rate above one",
			cfg:     Config{Enabled: true, ServiceName: "storyviews", SamplingRate: 1.5},
			wantErr: "sampling rate",
		},
		{
			name:    "unsupported exporter",
			cfg:     Config{Enabled: true, ServiceName: "storyviews", SamplingRate: 1, ExporterType: "zipkin"},
			wantErr: "unsupported exporter type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewProvider_ValidConfig(t *testing.T) {
	for _, exporter := range []string{ExporterOTLPHTTP, ExporterOTLPGRPC} {
		t.Run(exporter, func(t *testing.T) {
			p, err := NewProvider(Config{
				ServiceName:  "storyviews-test",
				Enabled:      true,
				Environment:  "test",
				ExporterType: exporter,
				OTLPEndpoint: "localhost:4318",
				SamplingRate: 0.5,
				InsecureMode: true,
			})
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			if !p.IsEnabled() {
				t.Error("expected enabled provider")
			}
			if p.Tracer("test") == nil {
				t.Error("Tracer() returned nil")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 0)
			defer cancel()
			// Nothing was exported, so a failed flush against the absent
			// collector is acceptable here.
			_ = p.Shutdown(ctx)
		})
	}
}

func TestNewSampler(t *testing.T) {
	sampledParent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))

	tests := []struct {
		name   string
		rate   float64
		ctx    context.Context
		sample bool
	}{
		{"root always", 1, context.Background(), true},
		{"root never", 0, context.Background(), false},
		{"sampled parent overrides zero rate", 0, sampledParent, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := newSampler(tt.rate).ShouldSample(sdktrace.SamplingParameters{
				ParentContext: tt.ctx,
				TraceID:       trace.TraceID{2},
				Name:          "test",
			})
			got := result.Decision == sdktrace.RecordAndSample
			if got != tt.sample {
				t.Errorf("sampled = %v, want %v", got, tt.sample)
			}
		})
	}
}

func TestProvider_Shutdown_Nil(t *testing.T) {
	p := &Provider{}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
