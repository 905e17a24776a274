package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"vouch/internal/verification/artifact"
	"vouch/internal/verification/models"
)

type progressEvent struct {
	stage   string
	percent int
}

type ProcessorSuite struct {
	suite.Suite
	artifacts *artifact.MemoryStore
	ref       string
	events    []progressEvent
}

func TestProcessorSuite(t *testing.T) {
	suite.Run(t, new(ProcessorSuite))
}

func (s *ProcessorSuite) SetupTest() {
	s.artifacts = artifact.NewMemoryStore(artifact.Policy{})
	s.ref = s.put("%PDF-1.4 passport scan")
	s.events = nil
}

func (s *ProcessorSuite) put(content string) string {
	a, err := s.artifacts.Put(context.Background(), artifact.Upload{Data: []byte(content)})
	s.Require().NoError(err)
	return a.Ref
}

func (s *ProcessorSuite) sink() ProgressSink {
	return func(stage string, percent int) {
		s.events = append(s.events, progressEvent{stage, percent})
	}
}

func (s *ProcessorSuite) cfg(strategy ScoringStrategy) Config {
	return Config{Artifacts: s.artifacts, Strategy: strategy, Thresholds: Thresholds{
		"document":    0.85,
		"business":    0.85,
		"face":        0.85,
		"fingerprint": 0.90,
	}}
}

func (s *ProcessorSuite) percents() []int {
	out := make([]int, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.percent)
	}
	return out
}

func (s *ProcessorSuite) TestDocumentPassesAboveThreshold() {
	p := NewDocumentProcessor(s.cfg(FixedStrategy{Default: 0.9}))

	res, err := p.Process(context.Background(), Input{
		ArtifactRef: s.ref,
		Kind:        models.DocumentKind(models.DocumentPassport),
		Progress:    s.sink(),
	})
	s.Require().NoError(err)

	s.True(res.Passed)
	s.InDelta(0.9, res.ConfidenceScore, 1e-9)
	s.Nil(res.LivenessScore)
	s.Equal(0.85, res.Threshold)
	s.Equal("v1.0.0", res.ModelVersion)
	s.Equal([]int{25, 50, 75, 100}, s.percents())
	s.Require().Len(res.Stages, 4)
	s.Equal(StageSegmentation, res.Stages[0].Name)
	s.Equal("passport", res.ExtractedData["document_type"])
	s.Regexp(`^DOC\d{6}$`, res.ExtractedData["document_number"])

	details, ok := res.Details.(*models.DocumentDetails)
	s.Require().True(ok)
	s.Equal(3, details.FieldsExtracted)
	s.Empty(details.TamperSignals)
}

func (s *ProcessorSuite) TestDocumentRejectsWithWeightedConfidence() {
	p := NewDocumentProcessor(s.cfg(FixedStrategy{Scores: map[string]float64{
		StageSegmentation:   1.0,
		StageTextExtraction: 1.0,
		StageAuthenticity:   0.4,
		StageQuality:        1.0,
	}}))

	res, err := p.Process(context.Background(), Input{ArtifactRef: s.ref, Kind: models.DocumentKind(models.DocumentNationalID)})
	s.Require().NoError(err)

	s.False(res.Passed)
	s.InDelta(0.82, res.ConfidenceScore, 1e-9)
	details := res.Details.(*models.DocumentDetails)
	s.Equal([]string{StageAuthenticity}, details.TamperSignals)
}

func (s *ProcessorSuite) TestConfidenceEqualToThresholdIsNotAPass() {
	cfg := s.cfg(FixedStrategy{Default: 1.0})
	cfg.Thresholds = Thresholds{"document": 1.0}

	res, err := NewDocumentProcessor(cfg).Process(context.Background(), Input{
		ArtifactRef: s.ref,
		Kind:        models.DocumentKind(models.DocumentPassport),
	})
	s.Require().NoError(err)
	s.Equal(1.0, res.ConfidenceScore)
	s.False(res.Passed)
}

func (s *ProcessorSuite) TestBiometricFaceReportsLiveness() {
	p := NewBiometricProcessor(s.cfg(FixedStrategy{Default: 0.95, Scores: map[string]float64{StageLiveness: 0.92}}))

	res, err := p.Process(context.Background(), Input{
		ArtifactRef: s.ref,
		Kind:        models.BiometricKind(models.BiometricFace),
		Progress:    s.sink(),
	})
	s.Require().NoError(err)

	s.True(res.Passed)
	s.Require().NotNil(res.LivenessScore)
	s.InDelta(0.92, *res.LivenessScore, 1e-9)
	s.Equal([]int{33, 66, 100}, s.percents())
	s.Equal("deepface_v2.0.0", res.ModelVersion)
	s.Equal(&models.BiometricDetails{BiometricType: models.BiometricFace, FeatureCount: 128, LivenessChecked: true}, res.Details)
}

func (s *ProcessorSuite) TestBiometricFingerprintUsesStricterThreshold() {
	p := NewBiometricProcessor(s.cfg(FixedStrategy{Default: 0.88}))

	res, err := p.Process(context.Background(), Input{ArtifactRef: s.ref, Kind: models.BiometricKind(models.BiometricFingerprint)})
	s.Require().NoError(err)

	s.False(res.Passed)
	s.Equal(0.90, res.Threshold)
	s.Nil(res.LivenessScore)
	s.Equal(40, res.Details.(*models.BiometricDetails).FeatureCount)
}

func (s *ProcessorSuite) TestBusinessMilestones() {
	p := NewBusinessProcessor(s.cfg(FixedStrategy{Default: 0.9}))

	res, err := p.Process(context.Background(), Input{
		ArtifactRef: s.ref,
		Kind:        models.BusinessKind("llc"),
		Progress:    s.sink(),
	})
	s.Require().NoError(err)

	s.True(res.Passed)
	s.Equal([]int{30, 80, 100}, s.percents())
	s.Equal(&models.BusinessDetails{BusinessType: "llc", RegistryMatched: true}, res.Details)
}

func (s *ProcessorSuite) TestMissingArtifactIsProcessingError() {
	p := NewDocumentProcessor(s.cfg(FixedStrategy{Default: 0.9}))

	_, err := p.Process(context.Background(), Input{
		ArtifactRef: artifact.RefFor(artifact.Digest([]byte("never stored"))),
		Kind:        models.DocumentKind(models.DocumentPassport),
	})

	var pe *ProcessingError
	s.Require().True(errors.As(err, &pe))
	s.Equal(ErrorArtifact, pe.Category)
	s.Equal("fetch", pe.Stage)
	s.False(pe.Retryable)
}

func (s *ProcessorSuite) TestStrategyFailureStopsAtFirstStage() {
	p := NewDocumentProcessor(s.cfg(FixedStrategy{Err: context.DeadlineExceeded}))

	_, err := p.Process(context.Background(), Input{
		ArtifactRef: s.ref,
		Kind:        models.DocumentKind(models.DocumentPassport),
		Progress:    s.sink(),
	})

	s.Equal(ErrorTimeout, CategoryOf(err))
	s.True(IsRetryable(err))
	s.Empty(s.events)
}

func (s *ProcessorSuite) TestOutOfRangeScoreIsBadData() {
	p := NewBusinessProcessor(s.cfg(FixedStrategy{Default: 1.5}))

	_, err := p.Process(context.Background(), Input{ArtifactRef: s.ref, Kind: models.BusinessKind("llc")})
	s.Equal(ErrorBadData, CategoryOf(err))
}

func (s *ProcessorSuite) TestWrongKindIsRejected() {
	p := NewBiometricProcessor(s.cfg(FixedStrategy{Default: 0.9}))

	_, err := p.Process(context.Background(), Input{ArtifactRef: s.ref, Kind: models.DocumentKind(models.DocumentPassport)})
	s.Equal(ErrorInternal, CategoryOf(err))
}

func (s *ProcessorSuite) TestDeterministicStrategyIsStablePerContent() {
	cfg := s.cfg(DeterministicStrategy{})
	p := NewDocumentProcessor(cfg)
	in := Input{ArtifactRef: s.ref, Kind: models.DocumentKind(models.DocumentPassport)}

	first, err := p.Process(context.Background(), in)
	s.Require().NoError(err)
	second, err := p.Process(context.Background(), in)
	s.Require().NoError(err)
	s.Equal(first, second)

	other, err := p.Process(context.Background(), Input{ArtifactRef: s.put("a different passport"), Kind: in.Kind})
	s.Require().NoError(err)
	s.NotEqual(first.ConfidenceScore, other.ConfidenceScore)
	s.NotEqual(first.ExtractedData["content_digest"], other.ExtractedData["content_digest"])
}

func TestDeterministicStrategyRange(t *testing.T) {
	strategy := DeterministicStrategy{Floor: 0.6}
	for _, stage := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		score, err := strategy.Score(context.Background(), ScoreRequest{
			Kind:   models.BiometricKind(models.BiometricVoice),
			Stage:  stage,
			Digest: artifact.Digest([]byte(stage)),
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, 0.6)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestRegistry(t *testing.T) {
	cfg := Config{Strategy: FixedStrategy{Default: 0.9}}

	t.Run("default registry covers every family", func(t *testing.T) {
		r := NewDefaultRegistry(cfg)
		for _, kind := range []models.Kind{
			models.DocumentKind(models.DocumentPassport),
			models.BiometricKind(models.BiometricIris),
			models.BusinessKind("llc"),
		} {
			p, err := r.For(kind)
			require.NoError(t, err)
			assert.Equal(t, kind.Name, p.Kind())
		}
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(NewDocumentProcessor(cfg)))
		assert.Error(t, r.Register(NewDocumentProcessor(cfg)))
	})

	t.Run("unknown family", func(t *testing.T) {
		_, err := NewRegistry().For(models.BusinessKind("llc"))
		assert.ErrorIs(t, err, ErrNoProcessor)
	})
}

func TestThresholdsFallBackToDefault(t *testing.T) {
	th := Thresholds{"iris": 0.9}
	assert.Equal(t, 0.9, th.For(models.BiometricKind(models.BiometricIris)))
	assert.Equal(t, DefaultThreshold, th.For(models.BusinessKind("llc")))
}
