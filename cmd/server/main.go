package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"vouch/internal/activity"
	jwttoken "vouch/internal/jwt_token"
	"vouch/internal/platform/config"
	"vouch/internal/platform/dispatch"
	"vouch/internal/platform/health"
	"vouch/internal/platform/httpserver"
	"vouch/internal/platform/kafka"
	"vouch/internal/platform/logger"
	"vouch/internal/platform/metrics"
	"vouch/internal/platform/postgres"
	"vouch/internal/platform/redis"
	"vouch/internal/securityscore"
	"vouch/internal/verification/artifact"
	"vouch/internal/verification/handler"
	"vouch/internal/verification/lease"
	"vouch/internal/verification/processor"
	"vouch/internal/verification/progress"
	"vouch/internal/verification/service"
	"vouch/internal/verification/store"
	"vouch/internal/verification/sweeper"
	authmw "vouch/pkg/platform/middleware/auth"
	"vouch/pkg/platform/middleware/metadata"
	"vouch/pkg/platform/middleware/requesttime"
)

// main loads configuration, wires the stores and services, and runs the HTTP
// server, sweeper and optional gRPC health server until SIGINT/SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

type infra struct {
	db    *sql.DB
	redis *redis.Client
	kafka *kgo.Client
}

func (i *infra) close() {
	if i.kafka != nil {
		i.kafka.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

func connect(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if db != nil {
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		in.db = db
		log.Info("postgres connected")
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	in.redis, err = redis.New(ctx, cfg.Redis)
	if err != nil {
		in.close()
		return nil, err
	}
	if in.redis == nil {
		log.Warn("REDIS_URL not set, run leases and progress are process-local")
	}

	in.kafka, err = kafka.NewClient(cfg.Kafka)
	if err != nil {
		in.close()
		return nil, err
	}
	if in.kafka != nil {
		if err := kafka.EnsureTopic(ctx, in.kafka, cfg.Kafka.ActivityTopic, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			in.close()
			return nil, err
		}
		log.Info("kafka activity mirror enabled", "topic", cfg.Kafka.ActivityTopic)
	}
	return in, nil
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	in, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer in.close()

	reg := metrics.NewRegistry()
	checker := health.NewChecker(2 * time.Second)

	// verification records, artifacts
	var (
		records      service.Store
		recordSource securityscore.RecordSource
		activityLog  activity.Store
		scoreStore   securityscore.Store
	)
	if in.db != nil {
		pg := store.NewPostgres(in.db)
		records, recordSource = pg, pg
		activityLog = activity.NewPostgresStore(in.db)
		scoreStore = securityscore.NewPostgresStore(in.db)
		checker.Register("postgres", in.db.PingContext)
	} else {
		mem := store.NewInMemory()
		records, recordSource = mem, mem
		activityLog = activity.NewInMemoryStore()
		scoreStore = securityscore.NewInMemoryStore()
	}

	policy := artifact.Policy{MaxBytes: cfg.Artifact.MaxBytes, AllowedTypes: cfg.Artifact.AllowedTypes}
	var artifacts interface {
		service.ArtifactStore
		processor.ArtifactReader
	}
	if cfg.Artifact.Dir != "" {
		fs, err := artifact.NewFileStore(cfg.Artifact.Dir, policy)
		if err != nil {
			return err
		}
		checker.Register("artifacts", fs.Health)
		artifacts = fs
	} else {
		artifacts = artifact.NewMemoryStore(policy)
	}

	// scoring
	var strategy processor.ScoringStrategy = processor.DeterministicStrategy{}
	if cfg.Inference.Endpoint != "" {
		strategy = processor.NewInferenceStrategy(cfg.Inference.Endpoint, cfg.Inference.Timeout,
			processor.WithInferenceLogger(log))
		log.Info("stage scoring via inference server", "endpoint", cfg.Inference.Endpoint)
	}
	processors := processor.NewDefaultRegistry(processor.Config{
		Artifacts:  artifacts,
		Strategy:   strategy,
		Thresholds: processor.Thresholds(cfg.Verification.Thresholds),
	})

	// side effects
	dispatcher := dispatch.New(dispatch.Config{
		Workers:        cfg.Dispatch.Workers,
		QueueSize:      cfg.Dispatch.QueueSize,
		MaxRetries:     cfg.Dispatch.MaxRetries,
		InitialBackoff: cfg.Dispatch.InitialBackoff,
		MaxBackoff:     cfg.Dispatch.MaxBackoff,
	}, dispatch.WithLogger(log), dispatch.WithMetrics(dispatch.NewMetrics(reg)))

	logOpts := []activity.Option{activity.WithLogger(log)}
	if in.kafka != nil {
		breaker := activity.NewCircuitBreaker(5, 30*time.Second)
		logOpts = append(logOpts, activity.WithPublisher(activity.NewKafkaPublisher(in.kafka, cfg.Kafka.ActivityTopic, breaker)))
		checker.Register("kafka", func(ctx context.Context) error { return kafka.Health(ctx, in.kafka) })
	}
	activities := activity.NewLog(activityLog, logOpts...)

	scores := securityscore.NewService(recordSource, scoreStore,
		securityscore.WithWeights(securityscore.Weights{
			Document:  cfg.Score.DocumentWeight,
			Biometric: cfg.Score.BiometricWeight,
			Business:  cfg.Score.BusinessWeight,
		}),
		securityscore.WithLogger(log),
		securityscore.WithMetrics(securityscore.NewMetrics(reg)),
	)

	svcOpts := []service.Option{
		service.WithConfig(service.Config{
			TTL:               cfg.Verification.TTL,
			StuckTimeout:      cfg.Verification.StuckTimeout,
			ProcessingTimeout: cfg.Verification.ProcessingTimeout,
			LeaseTTL:          cfg.Verification.LeaseTTL,
			ReconcileBatch:    service.DefaultConfig().ReconcileBatch,
		}),
		service.WithLogger(log),
		service.WithMetrics(service.NewMetrics(reg)),
		service.WithActivityLog(activities),
		service.WithScoreAggregator(scores),
		service.WithDispatcher(dispatcher),
	}
	sweepOpts := []sweeper.Option{sweeper.WithLogger(log)}
	if in.redis != nil {
		leases := lease.NewRedis(in.redis.UniversalClient)
		svcOpts = append(svcOpts,
			service.WithLease(leases),
			service.WithProgressTracker(progress.NewRedisTracker(in.redis.UniversalClient, progress.DefaultTTL)),
		)
		sweepOpts = append(sweepOpts, sweeper.WithLease(leases))
		checker.Register("redis", in.redis.Health)
	}
	verifications := service.New(records, artifacts, processors, svcOpts...)

	// HTTP
	jwtValidator := jwttoken.NewJWTServiceAdapter(
		jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience))
	httpMetrics := metrics.New(reg)
	api := handler.New(verifications, activities, scores, log, cfg.Artifact.MaxBytes)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(httpMetrics.Middleware)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	r.Method(http.MethodGet, "/healthz", checker.HTTPHandler())
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(jwtValidator, log))
		api.Register(r)
	})

	dispatcher.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.Server.Addr)
		return httpserver.Run(gctx, httpserver.New(cfg.Server.Addr, r), cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		err := sweeper.New(verifications, cfg.Verification.SweepInterval, sweepOpts...).Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if cfg.Server.GRPCHealthAddr != "" {
		g.Go(func() error {
			log.Info("grpc health server listening", "addr", cfg.Server.GRPCHealthAddr)
			return health.NewGRPCServer(checker, cfg.Server.GRPCHealthAddr, 10*time.Second, log).Run(gctx)
		})
	}

	err = g.Wait()

	// background runs may still enqueue side effects, so drain them first
	verifications.Wait()
	dispatcher.Stop()
	return err
}
