package svcctx

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/jackzampolin/screenocr/internal/metrics"
)

func TestServicesFrom(t *testing.T) {
	ctx := context.Background()
	if ServicesFrom(ctx) != nil || ModelsFrom(ctx) != nil || InferenceFrom(ctx) != nil || HomeFrom(ctx) != nil {
		t.Fatal("empty context returned services")
	}

	rec := metrics.NewRecorder()
	s := &Services{Metrics: rec}
	ctx = WithServices(ctx, s)
	if ServicesFrom(ctx) != s {
		t.Error("ServicesFrom() did not return attached services")
	}
	if MetricsFrom(ctx) != rec {
		t.Error("MetricsFrom() mismatch")
	}
}

func TestLoggerFrom(t *testing.T) {
	if LoggerFrom(context.Background()) != slog.Default() {
		t.Error("expected default logger")
	}

	svcLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := WithServices(context.Background(), &Services{Logger: svcLogger})
	if LoggerFrom(ctx) != svcLogger {
		t.Error("expected service logger")
	}

	reqLogger := svcLogger.With("request_id", "abc")
	if LoggerFrom(WithLogger(ctx, reqLogger)) != reqLogger {
		t.Error("expected request logger")
	}
}
