package repositories

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/storefront/api/internal/domain"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// DependencyCheck probes one downstream dependency. A failing critical check marks the whole
// report as error; other failures only degrade it.
type DependencyCheck struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(context.Context) error
}

// DependencyHealthOption customises the dependency-backed health repository.
type DependencyHealthOption func(*dependencyHealthRepository)

// WithDependencyTimeout overrides the timeout applied when a check omits its own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if timeout > 0 {
			repo.defaultTimeout = timeout
		}
	}
}

// WithDependencyClock injects a custom clock.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type dependencyHealthRepository struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

// NewDependencyHealthRepository constructs a HealthRepository running checks concurrently.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" || check.Check == nil {
			return nil, errors.New("health repository: every check needs a name and a function")
		}
	}
	repo := &dependencyHealthRepository{
		checks:         append([]DependencyCheck(nil), checks...),
		defaultTimeout: defaultDependencyTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	results := make(map[string]domain.HealthCheck, len(r.checks))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		critical bool
		degraded bool
	)

	for _, check := range r.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			timeout := check.Timeout
			if timeout <= 0 {
				timeout = r.defaultTimeout
			}
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := r.now()
			err := check.Check(checkCtx)
			end := r.now()

			result := domain.HealthCheck{Status: domain.HealthStatusOK, Detail: "ok", Latency: end.Sub(start), CheckedAt: end}
			if err == nil && checkCtx.Err() != nil {
				err = checkCtx.Err()
			}
			if err != nil {
				result.Status = domain.HealthStatusDegraded
				result.Detail = err.Error()
				if errors.Is(err, context.DeadlineExceeded) {
					result.Detail = "timeout"
				}
				if check.Critical {
					result.Status = domain.HealthStatusError
				}
			}

			mu.Lock()
			defer mu.Unlock()
			results[check.Name] = result
			switch result.Status {
			case domain.HealthStatusError:
				critical = true
			case domain.HealthStatusDegraded:
				degraded = true
			}
		}()
	}
	wg.Wait()

	status := domain.HealthStatusOK
	switch {
	case critical:
		status = domain.HealthStatusError
	case degraded:
		status = domain.HealthStatusDegraded
	}
	return domain.HealthReport{Status: status, Checks: results, GeneratedAt: r.now()}, nil
}
