package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/storefront/api/internal/repositories"
)

// ValidationError names the offending field of a rejected command. It unwraps to the
// service-specific invalid input sentinel.
type ValidationError struct {
	Field   string
	Message string
	kind    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", e.kind, e.Message)
	}
	return fmt.Sprintf("%v: %s: %s", e.kind, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.kind }

func invalidField(kind error, field, message string) error {
	return &ValidationError{Field: field, Message: message, kind: kind}
}

// NewValidationError reports a rejected field against the kind sentinel. Transport layers use it
// for parameters they parse before calling a service.
func NewValidationError(kind error, field, message string) error {
	return invalidField(kind, field, message)
}

// repoErrors maps repository failures onto one service's sentinels.
type repoErrors struct {
	notFound    error
	conflict    error
	unavailable error
}

func (m repoErrors) translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound() && m.notFound != nil:
			return fmt.Errorf("%w: %v", m.notFound, err)
		case repoErr.IsConflict() && m.conflict != nil:
			return fmt.Errorf("%w: %v", m.conflict, err)
		}
	}
	return fmt.Errorf("%w: %v", m.unavailable, err)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func noopLogger(context.Context, string, map[string]any) {}
