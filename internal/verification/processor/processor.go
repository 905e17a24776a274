// Package processor scores verification artifacts. Each kind has a processor
// that runs a fixed list of weighted stages over the artifact, reports progress
// as stages complete, and decides pass or fail against a per-kind threshold.
package processor

import (
	"context"
	"fmt"

	"vouch/internal/verification/models"
)

// ProgressSink receives stage-completion events. percent never decreases
// within one Process call.
type ProgressSink func(stage string, percent int)

// ArtifactReader fetches the bytes behind an artifact reference.
type ArtifactReader interface {
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Input is what a processor needs to score one request.
type Input struct {
	ArtifactRef string
	Kind        models.Kind
	Progress    ProgressSink
}

// Result is a processor's verdict.
type Result struct {
	Passed          bool
	ConfidenceScore float64
	LivenessScore   *float64
	Threshold       float64
	ModelVersion    string
	Stages          []models.StageScore
	Details         models.Details
	ExtractedData   map[string]string
}

// Processor scores artifacts of one kind family.
type Processor interface {
	Kind() models.KindName
	Process(ctx context.Context, in Input) (Result, error)
}

// Registry maps kind families to processors.
type Registry struct {
	processors map[models.KindName]Processor
}

func NewRegistry() *Registry {
	return &Registry{processors: make(map[models.KindName]Processor)}
}

// Register adds p, refusing a second processor for the same family.
func (r *Registry) Register(p Processor) error {
	kind := p.Kind()
	if _, exists := r.processors[kind]; exists {
		return fmt.Errorf("processor for %s already registered", kind)
	}
	r.processors[kind] = p
	return nil
}

// For returns the processor bound to kind.
func (r *Registry) For(kind models.Kind) (Processor, error) {
	p, ok := r.processors[kind.Name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind.Name, ErrNoProcessor)
	}
	return p, nil
}

// Thresholds are pass cutoffs keyed by models.Kind.ThresholdKey.
type Thresholds map[string]float64

// DefaultThreshold applies to kinds with no configured cutoff.
const DefaultThreshold = 0.85

func (t Thresholds) For(kind models.Kind) float64 {
	if v, ok := t[kind.ThresholdKey()]; ok {
		return v
	}
	return DefaultThreshold
}

// Config is shared by the built-in processors.
type Config struct {
	Artifacts  ArtifactReader
	Strategy   ScoringStrategy
	Thresholds Thresholds
}

// NewDefaultRegistry registers the document, biometric and business processors.
func NewDefaultRegistry(cfg Config) *Registry {
	r := NewRegistry()
	_ = r.Register(NewDocumentProcessor(cfg))
	_ = r.Register(NewBiometricProcessor(cfg))
	_ = r.Register(NewBusinessProcessor(cfg))
	return r
}
