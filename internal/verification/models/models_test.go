package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
)

func TestStatusTransitions(t *testing.T) {
	all := []Status{StatusPending, StatusProcessing, StatusVerified, StatusRejected, StatusExpired}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusProcessing}:  true,
		{StatusProcessing, StatusVerified}: true,
		{StatusProcessing, StatusRejected}: true,
		{StatusVerified, StatusExpired}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		subtype  string
		want     Kind
		wantCode dErrors.Code
	}{
		{"passport", "document", "passport", DocumentKind(DocumentPassport), ""},
		{"case insensitive", "Document", "Drivers_License", DocumentKind(DocumentDriversLicense), ""},
		{"face", "biometric", "face", BiometricKind(BiometricFace), ""},
		{"business keeps case", "business", "LLC", BusinessKind("LLC"), ""},
		{"unknown document type", "document", "library_card", Kind{}, dErrors.CodeValidation},
		{"unknown biometric type", "biometric", "gait", Kind{}, dErrors.CodeValidation},
		{"empty business type", "business", " ", Kind{}, dErrors.CodeValidation},
		{"accented business type", "business", "école", BusinessKind("école"), ""},
		{"invalid utf-8 business type", "business", "\xff\xfe", Kind{}, dErrors.CodeValidation},
		{"truncated rune in business type", "business", "llc\xc3", Kind{}, dErrors.CodeValidation},
		{"control character in business type", "business", "llc\x00", Kind{}, dErrors.CodeValidation},
		{"embedded newline in business type", "business", "sole\nproprietor", Kind{}, dErrors.CodeValidation},
		{"overlong business type", "business", strings.Repeat("a", 65), Kind{}, dErrors.CodeValidation},
		{"unknown kind", "vehicle", "car", Kind{}, dErrors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKind(tt.kind, tt.subtype)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, tt.wantCode))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKindPresentation(t *testing.T) {
	assert.Equal(t, "Drivers License", DocumentKind(DocumentDriversLicense).Label())
	assert.Equal(t, "Sole Proprietorship", BusinessKind("sole_proprietorship").Label())
	assert.Equal(t, "LLC", BusinessKind("LLC").Label())

	for _, subtype := range []string{"école", "ömer_gmbh", "ınc", "日本_kk"} {
		label := BusinessKind(subtype).Label()
		assert.True(t, utf8.ValidString(label), "label %q for %q", label, subtype)
	}
	assert.Equal(t, "École", BusinessKind("école").Label())
	assert.Equal(t, "Ömer Gmbh", BusinessKind("ömer_gmbh").Label())

	assert.Equal(t, "fingerprint", BiometricKind(BiometricFingerprint).ThresholdKey())
	assert.Equal(t, "document", DocumentKind(DocumentPassport).ThresholdKey())
	assert.Equal(t, "business", BusinessKind("llc").ThresholdKey())
}

func TestKindRejectsForeignSubtype(t *testing.T) {
	k := Kind{Name: KindDocument, DocumentType: DocumentPassport, BiometricType: BiometricFace}
	assert.True(t, dErrors.HasCode(k.Validate(), dErrors.CodeInvariantViolation))
}

func TestMetadataTaggedDetails(t *testing.T) {
	tests := []struct {
		name    string
		details Details
		tag     string
	}{
		{"document", &DocumentDetails{DocumentType: DocumentPassport, FieldsExtracted: 4}, "document"},
		{"biometric", &BiometricDetails{BiometricType: BiometricFace, FeatureCount: 128, LivenessChecked: true}, "biometric"},
		{"business", &BusinessDetails{BusinessType: "llc", RegistryMatched: true}, "business"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Metadata{ModelVersion: "v1.0.0", Details: tt.details, Stages: []StageScore{{Name: "quality", Weight: 1, Score: 0.9}}}

			raw, err := json.Marshal(m)
			require.NoError(t, err)

			var generic map[string]any
			require.NoError(t, json.Unmarshal(raw, &generic))
			details := generic["details"].(map[string]any)
			assert.Equal(t, tt.tag, details["type"])

			var decoded Metadata
			require.NoError(t, json.Unmarshal(raw, &decoded))
			assert.Equal(t, tt.details, decoded.Details)
			assert.Equal(t, "v1.0.0", decoded.ModelVersion)
		})
	}

	t.Run("unknown tag is an error", func(t *testing.T) {
		var m Metadata
		err := json.Unmarshal([]byte(`{"details":{"type":"vehicle"}}`), &m)
		assert.Error(t, err)
	})

	t.Run("error metadata without details", func(t *testing.T) {
		raw, err := json.Marshal(Metadata{Error: "processing timed out"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"error":"processing timed out"}`, string(raw))
	})
}

func TestCheckInvariants(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	score := 0.9
	base := func() *Verification {
		return &Verification{
			ID:        id.NewVerificationID(),
			SubjectID: id.SubjectID(uuid.New()),
			Kind:      DocumentKind(DocumentPassport),
			Status:    StatusPending,
			CreatedAt: now,
		}
	}

	t.Run("pending without score is valid", func(t *testing.T) {
		assert.NoError(t, base().CheckInvariants())
	})

	t.Run("pending with score is invalid", func(t *testing.T) {
		v := base()
		v.ConfidenceScore = &score
		assert.True(t, dErrors.HasCode(v.CheckInvariants(), dErrors.CodeInvariantViolation))
	})

	t.Run("verified requires verified_at and anchor", func(t *testing.T) {
		v := base()
		v.Status = StatusVerified
		v.ConfidenceScore = &score
		assert.Error(t, v.CheckInvariants())

		v.VerifiedAt = &now
		assert.Error(t, v.CheckInvariants())

		v.AnchorHash = "0xabc"
		assert.NoError(t, v.CheckInvariants())
	})

	t.Run("rejected must not carry verified_at", func(t *testing.T) {
		v := base()
		v.Status = StatusRejected
		v.ConfidenceScore = &score
		v.VerifiedAt = &now
		assert.Error(t, v.CheckInvariants())
	})

	t.Run("expired must not carry verified_at or score", func(t *testing.T) {
		v := base()
		v.Status = StatusExpired
		v.AnchorHash = "0xabc"
		assert.NoError(t, v.CheckInvariants())

		v.ConfidenceScore = &score
		assert.Error(t, v.CheckInvariants())

		v.ConfidenceScore = nil
		v.VerifiedAt = &now
		assert.Error(t, v.CheckInvariants())
	})

	t.Run("liveness only on biometrics", func(t *testing.T) {
		v := base()
		v.Status = StatusRejected
		v.ConfidenceScore = &score
		v.LivenessScore = &score
		assert.Error(t, v.CheckInvariants())
	})
}

func TestExpireMovesScoreIntoMetadata(t *testing.T) {
	verifiedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expiredAt := verifiedAt.Add(24 * time.Hour)
	score := 0.92
	v := &Verification{
		ID:              id.NewVerificationID(),
		SubjectID:       id.NewSubjectID(),
		Kind:            DocumentKind(DocumentPassport),
		Status:          StatusVerified,
		ConfidenceScore: &score,
		AnchorHash:      "0xabc",
		Metadata:        &Metadata{ModelVersion: "v1.0.0"},
		VerifiedAt:      &verifiedAt,
		CreatedAt:       verifiedAt,
	}
	require.NoError(t, v.CheckInvariants())
	written := v.Metadata

	v.Expire(expiredAt)
	assert.Nil(t, written.ConfidenceAtExpiry, "metadata written by the terminal transition is not mutated")

	assert.Equal(t, StatusExpired, v.Status)
	assert.Nil(t, v.VerifiedAt)
	assert.Nil(t, v.ConfidenceScore)
	assert.True(t, v.UpdatedAt.Equal(expiredAt))
	assert.Equal(t, "v1.0.0", v.Metadata.ModelVersion)
	require.NotNil(t, v.Metadata.VerifiedAt)
	assert.True(t, v.Metadata.VerifiedAt.Equal(verifiedAt))
	require.NotNil(t, v.Metadata.ConfidenceAtExpiry)
	assert.Equal(t, 0.92, *v.Metadata.ConfidenceAtExpiry)
	assert.NoError(t, v.CheckInvariants())

	raw, err := json.Marshal(v.Metadata)
	require.NoError(t, err)
	assert.JSONEq(t, `{"model_version":"v1.0.0","verified_at":"2025-01-01T00:00:00Z","confidence_at_expiry":0.92}`, string(raw))

	bare := &Verification{Status: StatusVerified, Kind: DocumentKind(DocumentPassport), ConfidenceScore: &score, VerifiedAt: &verifiedAt, AnchorHash: "0xabc"}
	bare.Expire(expiredAt)
	require.NotNil(t, bare.Metadata)
	assert.Equal(t, 0.92, *bare.Metadata.ConfidenceAtExpiry)
}

func TestCloneIsDeep(t *testing.T) {
	score := 0.5
	v := &Verification{
		ConfidenceScore: &score,
		ExtractedData:   map[string]string{"name": "A"},
		Metadata:        &Metadata{Stages: []StageScore{{Name: "a"}}},
	}
	c := v.Clone()
	*c.ConfidenceScore = 0.1
	c.ExtractedData["name"] = "B"
	c.Metadata.Stages[0].Name = "b"

	assert.Equal(t, 0.5, *v.ConfidenceScore)
	assert.Equal(t, "A", v.ExtractedData["name"])
	assert.Equal(t, "a", v.Metadata.Stages[0].Name)
}
