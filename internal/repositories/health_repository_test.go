package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/storefront/api/internal/domain"
)

func TestDependencyHealthRepositoryCollectSuccess(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Critical: true, Check: func(context.Context) error { return nil }},
		{Name: "storage", Check: func(context.Context) error { return nil }},
	}, WithDependencyClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK || len(report.Checks) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Checks["firestore"].CheckedAt != now || report.GeneratedAt != now {
		t.Fatalf("expected injected clock to be used")
	}
}

func TestDependencyHealthRepositoryNonCriticalFailureDegrades(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Critical: true, Check: func(context.Context) error { return nil }},
		{Name: "pubsub", Check: func(context.Context) error { return errors.New("boom") }},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, _ := repo.Collect(context.Background())
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if report.Checks["pubsub"].Detail != "boom" {
		t.Fatalf("expected failure detail, got %q", report.Checks["pubsub"].Detail)
	}
}

func TestDependencyHealthRepositoryCriticalTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Critical: true, Timeout: 10 * time.Millisecond, Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, _ := repo.Collect(context.Background())
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
	if report.Checks["firestore"].Detail != "timeout" {
		t.Fatalf("expected timeout detail, got %q", report.Checks["firestore"].Detail)
	}
}

func TestNewDependencyHealthRepositoryValidatesChecks(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil); err == nil {
		t.Fatalf("expected error for empty checks")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "x"}}); err == nil {
		t.Fatalf("expected error for missing function")
	}
}
