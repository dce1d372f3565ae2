package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/requestctx"
)

func TestServiceLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := ServiceLogger(zap.New(core), "booking")

	log(context.Background(), "booking.created", map[string]any{"booking_id": "bk_1"})
	log(context.Background(), "booking.notify.failed", map[string]any{"error": "boom"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].Message != "booking.created" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[0].ContextMap()["component"] != "booking" || entries[0].ContextMap()["booking_id"] != "bk_1" {
		t.Fatalf("missing fields %v", entries[0].ContextMap())
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for failure events, got %s", entries[1].Level)
	}
}

func TestServiceLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.InfoLevel)
	reqCore, reqLogs := observer.New(zapcore.InfoLevel)
	log := ServiceLogger(zap.New(baseCore), "jobs")

	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	log(ctx, "jobs.run.completed", nil)

	if baseLogs.Len() != 0 || reqLogs.Len() != 1 {
		t.Fatalf("expected request logger to be used: base=%d req=%d", baseLogs.Len(), reqLogs.Len())
	}
}

func TestParseCloudTraceContext(t *testing.T) {
	spanCtx, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if spanCtx.TraceID().String() != "105445aa7843bc8bf206b12000100000" || !spanCtx.IsSampled() {
		t.Fatalf("unexpected span context %+v", spanCtx)
	}
	if _, ok := parseCloudTraceContext("short/1"); ok {
		t.Fatalf("expected invalid trace id to be rejected")
	}
}

func TestRecoveryMiddlewareWritesJSON(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
}
