package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"

	"github.com/odera-store/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-7")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "4bf92f3577b34da6a3ce929d0e0e4736"})

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("failed_precondition", "stock insuficiente\nintenta de nuevo", http.StatusConflict).
		WithDetails(map[string]any{"reason": "insufficient_stock", "status": 200, "error": "spoofed"}))

	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.Empty(t, rr.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "failed_precondition", body["error"])
	require.Equal(t, "stock insuficiente intenta de nuevo", body["message"])
	require.Equal(t, float64(http.StatusConflict), body["status"])
	require.Equal(t, "insufficient_stock", body["reason"])
	require.Equal(t, "req-7", body["request_id"])
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", body["trace_id"])
}

func TestWriteErrorRetryAfter(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, NewError("rate_limited", "too many requests", http.StatusTooManyRequests).
		WithRetryAfter(1500*time.Millisecond))

	require.Equal(t, "2", rr.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotContains(t, body, "request_id")
	require.NotContains(t, body, "trace_id")
}

func TestRetryAfterSecondsFloor(t *testing.T) {
	require.Equal(t, 1, RetryAfterSeconds(0))
	require.Equal(t, 1, RetryAfterSeconds(200*time.Millisecond))
	require.Equal(t, 120, RetryAfterSeconds(2*time.Minute))
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	err := NewError("internal", "boom", 0)
	require.Equal(t, http.StatusInternalServerError, err.Status)
	require.EqualError(t, err, "internal: boom")
}
