package models

import (
	"fmt"
	"time"

	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
)

// Verification is one submitted artifact's journey through the pipeline.
type Verification struct {
	ID            id.VerificationID
	SubjectID     id.SubjectID
	Kind          Kind
	ArtifactRef   string
	FileName      string
	ContentType   string
	SizeBytes     int64
	SubmittedFrom string

	Status          Status
	ConfidenceScore *float64
	LivenessScore   *float64
	ExtractedData   map[string]string
	AnchorHash      string
	Metadata        *Metadata

	CreatedAt           time.Time
	ProcessingStartedAt *time.Time
	VerifiedAt          *time.Time
	ExpiresAt           *time.Time
	UpdatedAt           time.Time
}

// Clone returns a deep copy so stores never hand out aliases to their state.
func (v *Verification) Clone() *Verification {
	if v == nil {
		return nil
	}
	c := *v
	c.ConfidenceScore = cloneFloat(v.ConfidenceScore)
	c.LivenessScore = cloneFloat(v.LivenessScore)
	c.ProcessingStartedAt = cloneTime(v.ProcessingStartedAt)
	c.VerifiedAt = cloneTime(v.VerifiedAt)
	c.ExpiresAt = cloneTime(v.ExpiresAt)
	if v.ExtractedData != nil {
		c.ExtractedData = make(map[string]string, len(v.ExtractedData))
		for k, val := range v.ExtractedData {
			c.ExtractedData[k] = val
		}
	}
	if v.Metadata != nil {
		m := *v.Metadata
		m.Stages = append([]StageScore(nil), v.Metadata.Stages...)
		m.VerifiedAt = cloneTime(v.Metadata.VerifiedAt)
		m.ConfidenceAtExpiry = cloneFloat(v.Metadata.ConfidenceAtExpiry)
		c.Metadata = &m
	}
	return &c
}

// CheckInvariants verifies the relationships between status and the fields it
// governs:
//   - verified_at is set exactly when the record is verified
//   - confidence_score is set exactly when the record is verified or rejected
//   - liveness_score only appears on biometric records
//   - anchor_hash is set on verified records
func (v *Verification) CheckInvariants() error {
	if err := v.Kind.Validate(); err != nil {
		return err
	}
	verified := v.Status == StatusVerified
	if (v.VerifiedAt != nil) != verified {
		return invariant("verified_at presence does not match status %s", v.Status)
	}
	if (v.ConfidenceScore != nil) != v.Status.IsScored() {
		return invariant("confidence_score presence does not match status %s", v.Status)
	}
	if v.ConfidenceScore != nil && (*v.ConfidenceScore < 0 || *v.ConfidenceScore > 1) {
		return invariant("confidence_score %v out of range", *v.ConfidenceScore)
	}
	if v.LivenessScore != nil && v.Kind.Name != KindBiometric {
		return invariant("liveness_score on %s record", v.Kind.Name)
	}
	if verified && v.AnchorHash == "" {
		return invariant("verified record without anchor hash")
	}
	if v.Status == StatusProcessing && v.ProcessingStartedAt == nil {
		return invariant("processing record without processing_started_at")
	}
	return nil
}

// Expire moves a verified record to expired at the given time. The verification
// time and confidence leave the record's columns and are kept in metadata.
func (v *Verification) Expire(at time.Time) {
	var m Metadata
	if v.Metadata != nil {
		m = *v.Metadata
	}
	m.VerifiedAt = cloneTime(v.VerifiedAt)
	m.ConfidenceAtExpiry = cloneFloat(v.ConfidenceScore)
	v.Metadata = &m
	v.Status = StatusExpired
	v.VerifiedAt = nil
	v.ConfidenceScore = nil
	v.UpdatedAt = at
}

func invariant(format string, args ...any) error {
	return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf(format, args...))
}

// Outcome is the terminal state written when processing finishes.
type Outcome struct {
	Status          Status
	ConfidenceScore float64
	LivenessScore   *float64
	ExtractedData   map[string]string
	AnchorHash      string
	Metadata        *Metadata
	VerifiedAt      *time.Time
	ExpiresAt       *time.Time
	At              time.Time
}

// Apply writes o onto v. Callers must already hold the processing→terminal
// transition.
func (o Outcome) Apply(v *Verification) {
	score := o.ConfidenceScore
	v.Status = o.Status
	v.ConfidenceScore = &score
	v.LivenessScore = cloneFloat(o.LivenessScore)
	v.ExtractedData = o.ExtractedData
	v.AnchorHash = o.AnchorHash
	v.Metadata = o.Metadata
	v.VerifiedAt = cloneTime(o.VerifiedAt)
	v.ExpiresAt = cloneTime(o.ExpiresAt)
	v.UpdatedAt = o.At
}

// Filter narrows a subject's verification listing.
type Filter struct {
	Kind   KindName
	Status Status
	Limit  int
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
