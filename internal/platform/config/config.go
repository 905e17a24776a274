package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "vouch/pkg/platform/strings"
)

// Config is the full process configuration, read once at startup.
type Config struct {
	Server       Server
	Log          LogConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Artifact     ArtifactConfig
	Verification VerificationConfig
	Score        ScoreConfig
	Inference    InferenceConfig
	Dispatch     DispatchConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	GRPCHealthAddr  string
	JWTSigningKey   string
	JWTIssuer       string
	JWTAudience     string
	ShutdownTimeout time.Duration
}

// LogConfig selects the slog handler and level.
type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

// PostgresConfig configures the shared database pool. An empty DSN selects the
// in-memory stores.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the optional Redis client used for run leases and
// progress tracking. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional activity mirror. No brokers disables it.
type KafkaConfig struct {
	Brokers           []string
	ActivityTopic     string
	Partitions        int32
	ReplicationFactor int16
}

// ArtifactConfig bounds what Submit accepts. An empty Dir keeps artifacts in memory.
type ArtifactConfig struct {
	Dir          string
	MaxBytes     int64
	AllowedTypes []string
}

// VerificationConfig holds the orchestration timings and pass thresholds.
// Threshold keys are "document", "business" and the biometric types.
type VerificationConfig struct {
	TTL               time.Duration
	StuckTimeout      time.Duration
	SweepInterval     time.Duration
	ProcessingTimeout time.Duration
	LeaseTTL          time.Duration
	Thresholds        map[string]float64
}

// ScoreConfig weights the security score categories. Weights are normalised
// by the aggregator, so only their ratios matter.
type ScoreConfig struct {
	DocumentWeight  float64
	BiometricWeight float64
	BusinessWeight  float64
}

// InferenceConfig points stage scoring at a model server. An empty Endpoint
// selects deterministic content-hash scoring.
type InferenceConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// DispatchConfig sizes the side-effect worker pool.
type DispatchConfig struct {
	Workers        int
	QueueSize      int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultThresholds are the pass cutoffs used when no override is configured.
func DefaultThresholds() map[string]float64 {
	return map[string]float64{
		"document":    0.85,
		"business":    0.85,
		"face":        0.85,
		"voice":       0.85,
		"fingerprint": 0.90,
		"iris":        0.90,
	}
}

// DefaultAllowedTypes are the artifact MIME types accepted when ARTIFACT_ALLOWED_TYPES is unset.
var DefaultAllowedTypes = []string{"application/pdf", "image/jpeg", "image/png", "image/webp"}

// FromEnv builds the configuration from environment variables so main stays lean.
// Every malformed value is reported, not just the first.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	e := &env{lookup: lookup}

	cfg := Config{
		Server: Server{
			Addr:            e.str("VOUCH_ADDR", ":8080"),
			GRPCHealthAddr:  e.str("GRPC_HEALTH_ADDR", ""),
			JWTSigningKey:   e.str("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:       e.str("JWT_ISSUER", "vouch"),
			JWTAudience:     e.str("JWT_AUDIENCE", "vouch-api"),
			ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  strings.ToLower(e.str("LOG_LEVEL", "info")),
			Format: strings.ToLower(e.str("LOG_FORMAT", "json")),
		},
		Postgres: PostgresConfig{
			DSN:             e.str("DATABASE_URL", ""),
			MaxOpenConns:    e.int("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    e.int("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: e.duration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:           pstrings.SplitList(e.str("KAFKA_BROKERS", "")),
			ActivityTopic:     e.str("KAFKA_ACTIVITY_TOPIC", "vouch.activity"),
			Partitions:        int32(e.int("KAFKA_ACTIVITY_PARTITIONS", 3)),
			ReplicationFactor: int16(e.int("KAFKA_REPLICATION_FACTOR", 1)),
		},
		Artifact: ArtifactConfig{
			Dir:          e.str("ARTIFACT_DIR", ""),
			MaxBytes:     int64(e.int("ARTIFACT_MAX_BYTES", 10<<20)),
			AllowedTypes: pstrings.SplitList(e.str("ARTIFACT_ALLOWED_TYPES", strings.Join(DefaultAllowedTypes, ","))),
		},
		Verification: VerificationConfig{
			TTL:               e.duration("VERIFICATION_TTL", 365*24*time.Hour),
			StuckTimeout:      e.duration("VERIFICATION_STUCK_TIMEOUT", 10*time.Minute),
			SweepInterval:     e.duration("VERIFICATION_SWEEP_INTERVAL", time.Minute),
			ProcessingTimeout: e.duration("VERIFICATION_PROCESSING_TIMEOUT", 2*time.Minute),
			LeaseTTL:          e.duration("VERIFICATION_LEASE_TTL", 5*time.Minute),
			Thresholds:        DefaultThresholds(),
		},
		Score: ScoreConfig{
			DocumentWeight:  e.float("SCORE_WEIGHT_DOCUMENT", 1),
			BiometricWeight: e.float("SCORE_WEIGHT_BIOMETRIC", 1),
			BusinessWeight:  e.float("SCORE_WEIGHT_BUSINESS", 1),
		},
		Inference: InferenceConfig{
			Endpoint: e.str("INFERENCE_ENDPOINT", ""),
			Timeout:  e.duration("INFERENCE_TIMEOUT", 30*time.Second),
		},
		Dispatch: DispatchConfig{
			Workers:        e.int("DISPATCH_WORKERS", 4),
			QueueSize:      e.int("DISPATCH_QUEUE_SIZE", 256),
			MaxRetries:     e.int("DISPATCH_MAX_RETRIES", 5),
			InitialBackoff: e.duration("DISPATCH_INITIAL_BACKOFF", 200*time.Millisecond),
			MaxBackoff:     e.duration("DISPATCH_MAX_BACKOFF", 10*time.Second),
		},
	}

	for key := range cfg.Verification.Thresholds {
		name := "THRESHOLD_" + strings.ToUpper(key)
		cfg.Verification.Thresholds[key] = e.float(name, cfg.Verification.Thresholds[key])
	}

	cfg.validate(e)
	if len(e.errs) > 0 {
		return Config{}, errors.Join(e.errs...)
	}
	return cfg, nil
}

func (c *Config) validate(e *env) {
	for key, v := range c.Verification.Thresholds {
		if v < 0 || v > 1 {
			e.fail(fmt.Errorf("threshold %s must be within [0,1], got %v", key, v))
		}
	}
	if c.Score.DocumentWeight < 0 || c.Score.BiometricWeight < 0 || c.Score.BusinessWeight < 0 {
		e.fail(errors.New("score weights must not be negative"))
	}
	if c.Score.DocumentWeight+c.Score.BiometricWeight+c.Score.BusinessWeight == 0 {
		e.fail(errors.New("at least one score weight must be positive"))
	}
	if c.Artifact.MaxBytes <= 0 {
		e.fail(errors.New("ARTIFACT_MAX_BYTES must be positive"))
	}
	if c.Dispatch.Workers <= 0 {
		e.fail(errors.New("DISPATCH_WORKERS must be positive"))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		e.fail(fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Log.Format))
	}
}

type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) fail(err error) { e.errs = append(e.errs, err) }

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) int(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (e *env) float(key string, def float64) float64 {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}
