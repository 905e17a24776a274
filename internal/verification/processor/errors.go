package processor

import (
	"context"
	"errors"
	"fmt"

	"vouch/pkg/platform/sentinel"
)

// ErrorCategory is the normalized failure taxonomy for processing.
type ErrorCategory string

const (
	// ErrorTimeout indicates a stage took too long.
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorArtifact indicates the artifact could not be read.
	ErrorArtifact ErrorCategory = "artifact_unavailable"

	// ErrorBadData indicates the model returned an unusable response.
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorModelOutage indicates the model server is unavailable.
	ErrorModelOutage ErrorCategory = "model_outage"

	ErrorInternal ErrorCategory = "internal"
)

// ErrNoProcessor is returned when no processor handles a kind.
var ErrNoProcessor = errors.New("no processor registered")

// ProcessingError wraps a failed stage with a normalized category.
type ProcessingError struct {
	Category   ErrorCategory
	Stage      string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *ProcessingError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("stage %s [%s]: %s: %v", e.Stage, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("stage %s [%s]: %s", e.Stage, e.Category, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Underlying
}

// NewProcessingError creates a categorized error. Timeouts and outages are
// retryable.
func NewProcessingError(category ErrorCategory, stage, message string, underlying error) *ProcessingError {
	return &ProcessingError{
		Category:   category,
		Stage:      stage,
		Message:    message,
		Underlying: underlying,
		Retryable:  category == ErrorTimeout || category == ErrorModelOutage,
	}
}

// CategoryOf extracts the category from err, defaulting to ErrorInternal.
func CategoryOf(err error) ErrorCategory {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// asProcessingError normalizes any stage failure.
func asProcessingError(err error, stage string) *ProcessingError {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		if pe.Stage == "" {
			pe.Stage = stage
		}
		return pe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProcessingError(ErrorTimeout, stage, "deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return NewProcessingError(ErrorTimeout, stage, "canceled", err)
	case errors.Is(err, sentinel.ErrNotFound):
		return NewProcessingError(ErrorArtifact, stage, "artifact not found", err)
	case errors.Is(err, sentinel.ErrUnavailable):
		return NewProcessingError(ErrorModelOutage, stage, "dependency unavailable", err)
	}
	return NewProcessingError(ErrorInternal, stage, "stage failed", err)
}
