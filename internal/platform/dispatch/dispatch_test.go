package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
)

type DispatcherSuite struct {
	suite.Suite
	metrics *Metrics
	d       *Dispatcher
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.d = New(Config{
		Workers:        2,
		QueueSize:      8,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
	)
	s.d.Start(context.Background())
}

func (s *DispatcherSuite) TearDownTest() {
	s.d.Stop()
}

func (s *DispatcherSuite) TestRetriesUntilSuccess() {
	var calls atomic.Int32
	err := s.d.Submit(context.Background(), Task{Name: "flaky", Run: func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}})
	s.Require().NoError(err)

	s.d.Stop()
	s.Equal(int32(3), calls.Load())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.TaskOutcome.WithLabelValues("flaky", "ok")))
	s.Equal(2.0, testutil.ToFloat64(s.metrics.TaskRetries.WithLabelValues("flaky")))
}

func (s *DispatcherSuite) TestAbandonsAfterMaxRetries() {
	var calls atomic.Int32
	s.Require().NoError(s.d.Submit(context.Background(), Task{Name: "broken", Run: func(context.Context) error {
		calls.Add(1)
		return errors.New("always")
	}}))

	s.d.Stop()
	s.Equal(int32(4), calls.Load(), "one attempt plus three retries")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.TaskOutcome.WithLabelValues("broken", "abandoned")))
}

func (s *DispatcherSuite) TestPermanentErrorIsNotRetried() {
	var calls atomic.Int32
	s.Require().NoError(s.d.Submit(context.Background(), Task{Name: "invalid", Run: func(context.Context) error {
		calls.Add(1)
		return Permanent(errors.New("bad payload"))
	}}))

	s.d.Stop()
	s.Equal(int32(1), calls.Load())
}

func (s *DispatcherSuite) TestStopDrainsQueueAndRejectsNewWork() {
	var done atomic.Int32
	for range 5 {
		s.Require().NoError(s.d.Submit(context.Background(), Task{Name: "work", Run: func(context.Context) error {
			time.Sleep(time.Millisecond)
			done.Add(1)
			return nil
		}}))
	}

	s.d.Stop()
	s.Equal(int32(5), done.Load())
	s.ErrorIs(s.d.Submit(context.Background(), Task{Name: "late"}), ErrClosed)
}

func (s *DispatcherSuite) TestTasksOutliveCallerCancellation() {
	ctx, cancel := context.WithCancel(context.Background())
	var sawCancel atomic.Bool
	s.Require().NoError(s.d.Submit(ctx, Task{Name: "detached", Run: func(taskCtx context.Context) error {
		sawCancel.Store(taskCtx.Err() != nil)
		return nil
	}}))
	cancel()

	s.d.Stop()
	s.False(sawCancel.Load())
}
