package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/motomarket/api/internal/domain"
	"github.com/motomarket/api/internal/repositories"
)

// BuildInfo is the release metadata reported by health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a SystemService.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	health       repositories.HealthRepository
	clock        func() time.Time
	build        BuildInfo
	exposeErrors bool
}

var _ SystemService = (*systemService)(nil)

// NewSystemService constructs a SystemService. Raw dependency errors are only reported
// in local and test environments; elsewhere a failing check carries its detail alone.
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
		health:       deps.HealthRepository,
		clock:        func() time.Time { return clock().UTC() },
		build:        build,
		exposeErrors: exposesDependencyErrors(build.Environment),
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, fmt.Errorf("system service: collect health: %w", err)
	}

	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.Version = s.build.Version
	report.CommitSHA = s.build.CommitSHA
	report.Environment = s.build.Environment
	report.Uptime = now.Sub(s.build.StartedAt.UTC())

	checks := make(map[string]domain.SystemHealthCheck, len(report.Checks))
	for name, check := range report.Checks {
		if !s.exposeErrors && check.Error != "" {
			check.Error = check.Detail
		}
		checks[name] = check
	}
	report.Checks = checks

	if strings.TrimSpace(report.Status) == "" {
		report.Status = worstStatus(checks)
	}
	return report, nil
}

func exposesDependencyErrors(environment string) bool {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "", "local", "dev", "test":
		return true
	}
	return false
}

func worstStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusError:
			return domain.HealthStatusError
		case domain.HealthStatusDegraded:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
