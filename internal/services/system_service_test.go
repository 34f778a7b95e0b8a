package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/repositories"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

var _ repositories.HealthRepository = (*stubHealthRepository)(nil)

func healthyRepo() *stubHealthRepository {
	return &stubHealthRepository{report: domain.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
	}}
}

func TestSystemServiceStampsBuildInfo(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: healthyRepo(),
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start},
	})
	require.NoError(t, err)

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusOK, report.Status)
	require.Equal(t, "1.4.0", report.Version)
	require.Equal(t, "abc123", report.CommitSHA)
	require.Equal(t, "prod", report.Environment)
	require.Equal(t, 5*time.Minute, report.Uptime)
	require.Equal(t, now, report.GeneratedAt)
}

func TestSystemServiceProbesDegradeReport(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: healthyRepo(),
		Probes: map[string]HealthProbe{
			"events": func(context.Context) error { return errors.New("broker unreachable") },
			"mail":   func(context.Context) error { return nil },
			"unused": nil,
		},
	})
	require.NoError(t, err)

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusDegraded, report.Status)
	require.Equal(t, "broker unreachable", report.Checks["events"].Error)
	require.Equal(t, domain.HealthStatusOK, report.Checks["mail"].Status)
	require.NotContains(t, report.Checks, "unused")
}

func TestSystemServiceRecomputesStatusFromChecks(t *testing.T) {
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusError},
			"ratelimit": {Status: domain.HealthStatusDegraded},
		},
	}}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	require.NoError(t, err)

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusError, report.Status)
}

func TestSystemServiceErrors(t *testing.T) {
	_, err := NewSystemService(SystemServiceDeps{})
	require.Error(t, err)

	collectErr := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: collectErr}})
	require.NoError(t, err)
	_, err = svc.HealthReport(context.Background())
	require.ErrorIs(t, err, collectErr)
}
