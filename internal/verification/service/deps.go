package service

import (
	"context"
	"time"

	"vouch/internal/platform/dispatch"
	"vouch/internal/verification/artifact"
	"vouch/internal/verification/lease"
	"vouch/internal/verification/models"
	"vouch/internal/verification/processor"
	"vouch/internal/verification/progress"
	id "vouch/pkg/domain"
)

// ArtifactStore holds submitted bytes under stable references.
type ArtifactStore interface {
	Put(ctx context.Context, u artifact.Upload) (artifact.Artifact, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// ProcessorRegistry resolves the processor bound to a kind.
type ProcessorRegistry interface {
	For(kind models.Kind) (processor.Processor, error)
}

// Anchorer produces the ledger hash for a verified record.
type Anchorer interface {
	Anchor(ctx context.Context, v *models.Verification, confidence float64) (string, error)
}

// ProgressTracker stores advisory progress.
type ProgressTracker interface {
	Report(ctx context.Context, vid id.VerificationID, stage string, percent int, at time.Time) error
	Get(ctx context.Context, vid id.VerificationID) (progress.Progress, error)
}

// Lease guards a run across replicas.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (lease.Release, error)
}

// Dispatcher runs side effects in the background with retries.
type Dispatcher interface {
	Submit(ctx context.Context, task dispatch.Task) error
}
