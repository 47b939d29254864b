package observability

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cuvejm/stockengine/internal/platform/requestctx"
)

func TestEventLoggerUsesRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.InfoLevel)
	reqCore, reqLogs := observer.New(zapcore.InfoLevel)

	logEvent := EventLogger(zap.New(baseCore))
	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))

	logEvent(ctx, "order.created", map[string]any{"orderNumber": "GCP-2025-001"})
	logEvent(context.Background(), "stock.item.failed", map[string]any{"error": errors.New("boom")})

	if reqLogs.Len() != 1 {
		t.Fatalf("expected request logger entry, got %d", reqLogs.Len())
	}
	entry := reqLogs.All()[0]
	if entry.Message != "order.created" || entry.ContextMap()["orderNumber"] != "GCP-2025-001" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if baseLogs.Len() != 1 {
		t.Fatalf("expected base logger entry, got %d", baseLogs.Len())
	}
	if baseLogs.All()[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected failure to log at warn, got %s", baseLogs.All()[0].Level)
	}
}

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatal("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
	if sc.SpanID().String() != "0000000000000001" || !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("unexpected span context %+v", sc)
	}
	if _, ok := parseCloudTraceContext("bogus"); ok {
		t.Fatal("expected malformed header to be rejected")
	}
}

func TestSanitizeStringDropsControlCharacters(t *testing.T) {
	if got := sanitizeString("a\nb\x00c", 10); got != "abc" {
		t.Fatalf("unexpected sanitised value %q", got)
	}
	if got := sanitizeString("abcdef", 3); got != "abc" {
		t.Fatalf("expected truncation, got %q", got)
	}
}
