package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/odera-store/api/internal/domain"
)

const defaultCheckTimeout = 1500 * time.Millisecond

// DependencyCheck is one readiness probe. A zero Timeout uses the default of 1.5s.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// RunCheck executes check under its timeout. A returned error grades the dependency degraded;
// running out of time or being cancelled grades it error.
func RunCheck(ctx context.Context, check DependencyCheck, now func() time.Time) domain.SystemHealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := now()
	err := check.Check(checkCtx)
	if err == nil {
		err = checkCtx.Err()
	}
	end := now()

	result := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result.Status, result.Detail, result.Error = domain.HealthStatusError, "timeout", err.Error()
	case errors.Is(err, context.Canceled):
		result.Status, result.Detail, result.Error = domain.HealthStatusError, "cancelled", err.Error()
	default:
		result.Status, result.Detail, result.Error = domain.HealthStatusDegraded, err.Error(), err.Error()
	}
	return result
}

// Overall folds check results into a report status: any error wins over degraded.
func Overall(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}

type DependencyHealthOption func(*dependencyHealth)

// WithDependencyClock replaces time.Now for latency and timestamps.
func WithDependencyClock(now func() time.Time) DependencyHealthOption {
	return func(h *dependencyHealth) {
		if now != nil {
			h.now = now
		}
	}
}

type dependencyHealth struct {
	checks []DependencyCheck
	now    func() time.Time
}

// NewDependencyHealthRepository returns a HealthRepository that runs checks concurrently on
// every Collect.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	for i, check := range checks {
		if strings.TrimSpace(check.Name) == "" {
			return nil, fmt.Errorf("health repository: check %d has no name", i)
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health repository: check %s has no function", check.Name)
		}
	}
	h := &dependencyHealth{checks: append([]DependencyCheck(nil), checks...), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

func (h *dependencyHealth) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	results := make([]domain.SystemHealthCheck, len(h.checks))
	var group errgroup.Group
	for i, check := range h.checks {
		group.Go(func() error {
			results[i] = RunCheck(ctx, check, h.now)
			return nil
		})
	}
	_ = group.Wait()

	checks := make(map[string]domain.SystemHealthCheck, len(results))
	for i, result := range results {
		checks[h.checks[i].Name] = result
	}
	return domain.SystemHealthReport{
		Status:      Overall(checks),
		Checks:      checks,
		GeneratedAt: h.now(),
	}, nil
}
