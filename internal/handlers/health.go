package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/requestctx"
	"github.com/storefront/api/internal/services"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build  services.BuildInfo
	system services.SystemService
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the metadata reported by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthSystemService sets the service producing readiness reports.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type buildPayload struct {
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime,omitempty"`
}

type healthzResponse struct {
	Status string `json:"status"`
	buildPayload
	Timestamp string `json:"timestamp"`
}

type dependencyPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

type readyzResponse struct {
	Status string `json:"status"`
	buildPayload
	GeneratedAt  string                       `json:"generatedAt,omitempty"`
	Dependencies map[string]dependencyPayload `json:"checks"`
	Failing      []string                     `json:"failing,omitempty"`
	Error        string                       `json:"error,omitempty"`
}

// Healthz reports liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.clock()
	writeJSONResponse(w, http.StatusOK, healthzResponse{
		Status: domain.HealthStatusOK,
		buildPayload: buildPayload{
			Version:     h.build.Version,
			CommitSHA:   h.build.CommitSHA,
			Environment: h.build.Environment,
			Uptime:      now.Sub(h.build.StartedAt).Truncate(time.Second).String(),
		},
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}

// Readyz probes dependencies. Degraded reports answer 200 so the instance keeps serving; an
// error report or a failed probe answers 503.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		writeServiceUnavailable(ctx, w, "system")
		return
	}
	report, err := h.system.HealthReport(ctx)
	if err != nil {
		requestctx.Logger(ctx).Warn("readiness report failed", zap.Error(err))
		writeJSONResponse(w, http.StatusServiceUnavailable, readyzResponse{
			Status:       domain.HealthStatusError,
			Dependencies: map[string]dependencyPayload{},
			Error:        err.Error(),
		})
		return
	}

	resp := readyzResponse{
		Status: report.Status,
		buildPayload: buildPayload{
			Version:     report.Version,
			CommitSHA:   report.CommitSHA,
			Environment: report.Environment,
		},
		GeneratedAt:  formatTime(report.GeneratedAt),
		Dependencies: make(map[string]dependencyPayload, len(report.Checks)),
		Failing:      report.Failing,
	}
	if report.Uptime > 0 {
		resp.Uptime = report.Uptime.Truncate(time.Second).String()
	}
	for name, check := range report.Checks {
		resp.Dependencies[name] = dependencyPayload{
			Status:    check.Status,
			Detail:    check.Detail,
			LatencyMS: check.Latency.Milliseconds(),
			CheckedAt: formatTime(check.CheckedAt),
		}
	}

	status := http.StatusOK
	if !report.Serving() {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, resp)
}
