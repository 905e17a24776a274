// Package health aggregates dependency checks and exposes them over HTTP
// (/healthz) and the standard gRPC health protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"vouch/pkg/platform/httputil"
)

// CheckFunc reports an unhealthy dependency by returning an error.
type CheckFunc func(ctx context.Context) error

// Checker runs named dependency checks.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
}

// NewChecker creates a checker whose individual checks are bounded by timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{checks: make(map[string]CheckFunc), timeout: timeout}
}

// Register adds a named check. Registering the same name twice replaces it.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check runs every check and returns per-dependency results plus a joined error.
func (c *Checker) Check(ctx context.Context) (map[string]string, error) {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names))
	var errs []error
	for _, name := range names {
		c.mu.RLock()
		check := c.checks[name]
		c.mu.RUnlock()

		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := check(checkCtx)
		cancel()
		if err != nil {
			results[name] = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		results[name] = "ok"
	}
	return results, errors.Join(errs...)
}

// HTTPHandler serves /healthz: 200 when every check passes, 503 otherwise.
func (c *Checker) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results, err := c.Check(r.Context())
		status := http.StatusOK
		overall := "ok"
		if err != nil {
			status = http.StatusServiceUnavailable
			overall = "unavailable"
		}
		httputil.WriteJSON(w, status, map[string]any{"status": overall, "checks": results})
	})
}

// GRPCServer serves the gRPC health protocol, refreshing the overall serving
// status from the checker every interval.
type GRPCServer struct {
	checker  *Checker
	addr     string
	interval time.Duration
	logger   *slog.Logger
}

// NewGRPCServer creates a gRPC health server bound to addr.
func NewGRPCServer(checker *Checker, addr string, interval time.Duration, logger *slog.Logger) *GRPCServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &GRPCServer{checker: checker, addr: addr, interval: interval, logger: logger}
}

// Run listens and serves until ctx is cancelled.
func (s *GRPCServer) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen grpc health: %w", err)
	}

	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	s.refresh(ctx, hs)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			srv.GracefulStop()
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.refresh(ctx, hs)
		}
	}
}

func (s *GRPCServer) refresh(ctx context.Context, hs *grpchealth.Server) {
	status := healthpb.HealthCheckResponse_SERVING
	if _, err := s.checker.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.WarnContext(ctx, "health check failed", "error", err)
	}
	hs.SetServingStatus("", status)
}
