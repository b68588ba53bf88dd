package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storefront/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps wires the dependency probes and build metadata.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	probes repositories.HealthRepository
	now    func() time.Time
	build  BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService constructs the readiness reporter.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	svc := &systemService{
		probes: deps.HealthRepository,
		now:    func() time.Time { return now().UTC() },
		build:  deps.Build,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

// HealthReport probes every dependency and stamps the report with build metadata. Values the
// repository already set take precedence.
func (s *systemService) HealthReport(ctx context.Context) (HealthReport, error) {
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return HealthReport{}, fmt.Errorf("system service: collect health: %w", err)
	}

	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	fill(&report.Version, s.build.Version)
	fill(&report.CommitSHA, s.build.CommitSHA)
	fill(&report.Environment, s.build.Environment)

	report.Summarize()
	return report, nil
}

func fill(dst *string, value string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = value
	}
}
