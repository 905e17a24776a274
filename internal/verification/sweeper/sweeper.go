// Package sweeper periodically expires verified records past their expiry and
// rejects runs stuck in processing.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"vouch/internal/verification/lease"
	"vouch/pkg/requestcontext"
)

// Orchestrator is the part of the verification service the sweeper drives.
type Orchestrator interface {
	ExpireSweep(ctx context.Context, now time.Time) (int, error)
	ReconcileStuck(ctx context.Context, now time.Time) (int, error)
}

// Lease lets one replica own a sweep tick.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (lease.Release, error)
}

const leaseKey = "sweep"

// Sweeper runs both sweeps on a fixed interval.
type Sweeper struct {
	orchestrator Orchestrator
	interval     time.Duration
	lease        Lease
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*Sweeper)

func WithLease(l Lease) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.lease = l
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func New(o Orchestrator, interval time.Duration, opts ...Option) *Sweeper {
	s := &Sweeper{
		orchestrator: o,
		interval:     interval,
		lease:        lease.Noop{},
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result counts the records moved by one tick.
type Result struct {
	Expired    int
	Reconciled int
	Skipped    bool
}

// Run sweeps every interval until ctx is cancelled. A failed tick is logged
// and retried on the next one.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "verification sweep failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce performs a single tick. Both sweeps run even if the first fails.
// When another replica holds the sweep lease the tick is skipped.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	release, err := s.lease.Acquire(ctx, leaseKey, s.interval)
	switch {
	case errors.Is(err, lease.ErrHeld):
		return Result{Skipped: true}, nil
	case err != nil:
		s.logger.WarnContext(ctx, "sweep lease unavailable", "error", err)
	default:
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "sweep lease release failed", "error", err)
			}
		}()
	}

	now := s.now().UTC()
	ctx = requestcontext.WithTime(ctx, now)

	var res Result
	expired, expireErr := s.orchestrator.ExpireSweep(ctx, now)
	res.Expired = expired
	reconciled, reconcileErr := s.orchestrator.ReconcileStuck(ctx, now)
	res.Reconciled = reconciled

	if expired > 0 || reconciled > 0 {
		s.logger.InfoContext(ctx, "verification sweep completed",
			"expired", expired,
			"reconciled", reconciled,
		)
	}
	return res, errors.Join(expireErr, reconcileErr)
}
