// Package activity records the user-visible activity feed. Events are appended
// by background side effects and mirrored to Kafka when a publisher is set.
package activity

import (
	"context"
	"log/slog"
	"strings"
	"time"

	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/requestcontext"
)

// Feed limits for List.
const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

// Store persists events. Append must ignore an event whose ID already exists
// so retried appends stay idempotent.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject id.SubjectID, limit int) ([]Event, error)
}

// Publisher mirrors appended events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Log validates and stores activity events.
type Log struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
}

type Option func(*Log)

func WithPublisher(p Publisher) Option {
	return func(l *Log) {
		l.publisher = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewLog(store Store, opts ...Option) *Log {
	l := &Log{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append stores event. Only subject, type and description are required; a
// missing ID or timestamp is filled in. A failed Kafka mirror is logged and
// does not fail the append.
func (l *Log) Append(ctx context.Context, event Event) error {
	if event.SubjectID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "subject_id is required")
	}
	if strings.TrimSpace(event.Type) == "" {
		return dErrors.New(dErrors.CodeValidation, "activity_type is required")
	}
	if strings.TrimSpace(event.Description) == "" {
		return dErrors.New(dErrors.CodeValidation, "description is required")
	}
	if event.ID.IsNil() {
		event.ID = id.NewEventID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = requestcontext.Now(ctx)
	}
	event.CreatedAt = event.CreatedAt.UTC().Truncate(time.Microsecond)

	if err := l.store.Append(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append activity")
	}
	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, event); err != nil {
			l.logger.WarnContext(ctx, "activity mirror publish failed",
				"event_id", event.ID.String(),
				"activity_type", event.Type,
				"error", err,
			)
		}
	}
	return nil
}

// List returns the subject's newest events first.
func (l *Log) List(ctx context.Context, subject id.SubjectID, limit int) ([]Event, error) {
	if subject.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "subject required")
	}
	events, err := l.store.ListBySubject(ctx, subject, ClampLimit(limit))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list activity")
	}
	return events, nil
}

// ClampLimit applies the default and maximum feed sizes.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
