package processor

import (
	"context"
	"fmt"

	"vouch/internal/verification/models"
)

const biometricModelVersion = "deepface_v2.0.0"

// Biometric stages.
const (
	StageDetection = "detection"
	StageLiveness  = "liveness"
	StageMatching  = "matching"
)

// BiometricProcessor checks biometric samples.
type BiometricProcessor struct {
	pipeline pipeline
}

func NewBiometricProcessor(cfg Config) *BiometricProcessor {
	return &BiometricProcessor{pipeline: newPipeline(cfg, []stage{
		{name: StageDetection, weight: 0.2, milestone: 33},
		{name: StageLiveness, weight: 0.3, milestone: 66},
		{name: StageMatching, weight: 0.5, milestone: 100},
	})}
}

func (p *BiometricProcessor) Kind() models.KindName { return models.KindBiometric }

func (p *BiometricProcessor) Process(ctx context.Context, in Input) (Result, error) {
	if in.Kind.Name != models.KindBiometric {
		return Result{}, NewProcessingError(ErrorInternal, "", fmt.Sprintf("biometric processor given %s", in.Kind), nil)
	}
	s, err := p.pipeline.run(ctx, in)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Passed:          s.passed(),
		ConfidenceScore: s.confidence,
		Threshold:       s.threshold,
		ModelVersion:    biometricModelVersion,
		Stages:          s.stages,
		Details: &models.BiometricDetails{
			BiometricType:   in.Kind.BiometricType,
			FeatureCount:    featureCount(in.Kind.BiometricType),
			LivenessChecked: reportsLiveness(in.Kind.BiometricType),
		},
	}
	if reportsLiveness(in.Kind.BiometricType) {
		liveness := s.byStage[StageLiveness]
		res.LivenessScore = &liveness
	}
	return res, nil
}

func reportsLiveness(t models.BiometricType) bool {
	return t == models.BiometricFace || t == models.BiometricIris
}

func featureCount(t models.BiometricType) int {
	switch t {
	case models.BiometricFingerprint:
		return 40
	case models.BiometricFace:
		return 128
	}
	return 64
}
