package services

import (
	"cmp"
	"context"
	"errors"
	"time"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/repositories"
)

// BuildInfo is the deployment metadata reported by /healthz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// Probes add checks for dependencies outside the registry, such as the event backend.
	Probes map[string]HealthProbe
}

// HealthProbe checks one non-repository dependency.
type HealthProbe func(ctx context.Context) error

type systemService struct {
	healthRepo repositories.HealthRepository
	clock      func() time.Time
	build      BuildInfo
	probes     map[string]HealthProbe
}

var _ SystemService = (*systemService)(nil)

// NewSystemService builds the health service. StartedAt defaults to construction time.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		clock:      func() time.Time { return clock().UTC() },
		build:      build,
		probes:     deps.Probes,
	}, nil
}

// HealthReport merges the repository report with the extra probes and stamps build metadata.
// A failing probe degrades the report the same way a failing repository check does.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	for name, probe := range s.probes {
		if probe != nil {
			report.Checks[name] = repositories.RunCheck(ctx, repositories.DependencyCheck{Name: name, Check: probe}, s.clock)
		}
	}
	report.Status = repositories.Overall(report.Checks)

	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.Version = cmp.Or(report.Version, s.build.Version)
	report.CommitSHA = cmp.Or(report.CommitSHA, s.build.CommitSHA)
	report.Environment = cmp.Or(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	return report, nil
}
