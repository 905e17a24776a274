// Package store persists verification requests. Every status change is a
// compare-and-set on the current status, so concurrent runs, expiry sweeps and
// reconciliation never overwrite a record that moved underneath them.
package store

import (
	"fmt"

	"vouch/internal/verification/models"
	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

// DefaultListLimit and MaxListLimit bound ListBySubject.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// StatusConflictError reports a failed compare-and-set. It wraps
// sentinel.ErrInvalidState so callers can test with errors.Is and inspect
// Actual with errors.As.
type StatusConflictError struct {
	ID       id.VerificationID
	Expected models.Status
	Actual   models.Status
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("verification %s: expected status %s, found %s", e.ID, e.Expected, e.Actual)
}

func (e *StatusConflictError) Unwrap() error {
	return sentinel.ErrInvalidState
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
