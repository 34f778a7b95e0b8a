package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

var probeNow = time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)

func readyRouter(svc services.SystemService) http.Handler {
	return NewRouter(WithHealthHandlers(NewHealthHandlers(
		WithHealthSystemService(svc),
		WithHealthBuildInfo(services.BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "prod", StartedAt: probeNow.Add(-90 * time.Second)}),
		WithHealthClock(func() time.Time { return probeNow }),
	)))
}

func TestHealthzReportsBuild(t *testing.T) {
	body := decodeBody(t, serve(readyRouter(nil), http.MethodGet, "/healthz"))
	require.Equal(t, domain.HealthStatusOK, body["status"])
	require.Equal(t, "1.4.0", body["version"])
	require.Equal(t, "abc123", body["commitSha"])
	require.Equal(t, "prod", body["environment"])
	require.Equal(t, "1m30s", body["uptime"])
}

func TestReadyzOK(t *testing.T) {
	rr := serve(readyRouter(&stubSystemService{report: services.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Uptime: time.Minute,
		Checks: map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond, CheckedAt: probeNow},
		},
	}}), http.MethodGet, "/readyz")

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	require.Empty(t, body["details"])
	firestore := body["checks"].(map[string]any)["firestore"].(map[string]any)
	require.Equal(t, "ok", firestore["status"])
	require.Equal(t, 12.0, firestore["latencyMs"])
}

func TestReadyzDegradedListsReasons(t *testing.T) {
	rr := serve(readyRouter(&stubSystemService{report: services.SystemHealthReport{
		Status: domain.HealthStatusDegraded,
		Checks: map[string]domain.SystemHealthCheck{
			"events":    {Status: domain.HealthStatusDegraded, Error: "publish failed"},
			"ratelimit": {Status: domain.HealthStatusError},
			"firestore": {Status: domain.HealthStatusOK},
		},
	}}), http.MethodGet, "/readyz")

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decodeBody(t, rr)
	require.Equal(t, domain.HealthStatusDegraded, body["status"])
	require.Equal(t, []any{"events: publish failed", "ratelimit: error"}, body["details"])
}

func TestReadyzServiceError(t *testing.T) {
	rr := serve(readyRouter(&stubSystemService{err: errors.New("collect failed")}), http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, domain.HealthStatusError, decodeBody(t, rr)["status"])
}
