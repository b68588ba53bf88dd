package domain

import (
	"sort"
	"time"
)

// Health statuses reported by readiness checks. A critical dependency failure is an error; any
// other failure degrades the report.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// HealthCheck is the outcome of one dependency probe.
type HealthCheck struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes with the build that produced them.
type HealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	Failing     []string
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// Serving reports whether the instance should keep receiving traffic. Only an error status
// takes it out of rotation.
func (r HealthReport) Serving() bool {
	return r.Status != HealthStatusError
}

// Summarize fills Failing with the sorted names of checks that are not ok and, when Status is
// empty, derives it from the worst check.
func (r *HealthReport) Summarize() {
	if r.Checks == nil {
		r.Checks = map[string]HealthCheck{}
	}
	r.Failing = r.Failing[:0]
	worst := HealthStatusOK
	for name, check := range r.Checks {
		switch check.Status {
		case HealthStatusOK, "":
			continue
		case HealthStatusError:
			worst = HealthStatusError
		default:
			if worst != HealthStatusError {
				worst = HealthStatusDegraded
			}
		}
		r.Failing = append(r.Failing, name)
	}
	sort.Strings(r.Failing)
	if r.Status == "" {
		r.Status = worst
	}
}
