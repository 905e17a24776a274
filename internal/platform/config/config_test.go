package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := fromLookup(lookupFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, int64(10<<20), cfg.Artifact.MaxBytes)
	assert.Equal(t, DefaultAllowedTypes, cfg.Artifact.AllowedTypes)
	assert.Equal(t, 0.85, cfg.Verification.Thresholds["document"])
	assert.Equal(t, 0.90, cfg.Verification.Thresholds["fingerprint"])
	assert.Equal(t, 365*24*time.Hour, cfg.Verification.TTL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := fromLookup(lookupFrom(map[string]string{
		"KAFKA_BROKERS":          "b1:9092, b2:9092,b1:9092",
		"THRESHOLD_FACE":         "0.7",
		"ARTIFACT_ALLOWED_TYPES": "Image/PNG",
		"VERIFICATION_TTL":       "48h",
		"SCORE_WEIGHT_BUSINESS":  "0",
		"LOG_FORMAT":             "TEXT",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 0.7, cfg.Verification.Thresholds["face"])
	assert.Equal(t, []string{"image/png"}, cfg.Artifact.AllowedTypes)
	assert.Equal(t, 48*time.Hour, cfg.Verification.TTL)
	assert.Zero(t, cfg.Score.BusinessWeight)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestFromEnvReportsEveryError(t *testing.T) {
	_, err := fromLookup(lookupFrom(map[string]string{
		"VERIFICATION_TTL":     "soon",
		"THRESHOLD_DOCUMENT":   "1.5",
		"DISPATCH_WORKERS":     "many",
		"SCORE_WEIGHT_DOCUMENT": "-1",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VERIFICATION_TTL")
	assert.Contains(t, err.Error(), "threshold document")
	assert.Contains(t, err.Error(), "DISPATCH_WORKERS")
	assert.Contains(t, err.Error(), "score weights")
}
