package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// InferenceStrategy asks a model server to score each stage. The server
// receives POST {endpoint}/v1/score with the stage and artifact and answers
// {"score": <0..1>}.
type InferenceStrategy struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// InferenceOption configures an InferenceStrategy.
type InferenceOption func(*InferenceStrategy)

func WithHTTPClient(client *http.Client) InferenceOption {
	return func(s *InferenceStrategy) {
		if client != nil {
			s.client = client
		}
	}
}

func WithInferenceLogger(logger *slog.Logger) InferenceOption {
	return func(s *InferenceStrategy) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewInferenceStrategy(endpoint string, timeout time.Duration, opts ...InferenceOption) *InferenceStrategy {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &InferenceStrategy{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type scoreRequest struct {
	Kind    string `json:"kind"`
	Subtype string `json:"subtype"`
	Stage   string `json:"stage"`
	Digest  string `json:"digest"`
	Content []byte `json:"content"`
}

type scoreResponse struct {
	Score *float64 `json:"score"`
}

func (s *InferenceStrategy) Score(ctx context.Context, req ScoreRequest) (float64, error) {
	body, err := json.Marshal(scoreRequest{
		Kind:    string(req.Kind.Name),
		Subtype: req.Kind.Subtype(),
		Stage:   req.Stage,
		Digest:  req.Digest,
		Content: req.Data,
	})
	if err != nil {
		return 0, NewProcessingError(ErrorInternal, req.Stage, "encode score request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/score", bytes.NewReader(body))
	if err != nil {
		return 0, NewProcessingError(ErrorInternal, req.Stage, "build score request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.WarnContext(ctx, "inference request failed",
			"stage", req.Stage,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		if ctx.Err() != nil {
			return 0, NewProcessingError(ErrorTimeout, req.Stage, "inference request", ctx.Err())
		}
		return 0, NewProcessingError(ErrorModelOutage, req.Stage, "inference request", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.WarnContext(ctx, "inference response close failed", "error", cerr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, NewProcessingError(ErrorModelOutage, req.Stage, "read inference response", err)
	}
	s.logger.DebugContext(ctx, "inference response",
		"stage", req.Stage,
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return 0, NewProcessingError(ErrorModelOutage, req.Stage, fmt.Sprintf("model server status %d", resp.StatusCode), nil)
	case resp.StatusCode/100 != 2:
		return 0, NewProcessingError(ErrorBadData, req.Stage, fmt.Sprintf("model server status %d", resp.StatusCode), nil)
	}

	var out scoreResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, NewProcessingError(ErrorBadData, req.Stage, "decode inference response", err)
	}
	if out.Score == nil {
		return 0, NewProcessingError(ErrorBadData, req.Stage, "inference response has no score", nil)
	}
	return *out.Score, nil
}
