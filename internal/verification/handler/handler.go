// Package handler exposes verification requests, the activity feed and the
// security score over HTTP. Every route expects an authenticated subject in the
// request context.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vouch/internal/activity"
	"vouch/internal/securityscore"
	"vouch/internal/verification/models"
	"vouch/internal/verification/progress"
	"vouch/internal/verification/service"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/platform/httputil"
	"vouch/pkg/requestcontext"
)

// Service is the verification orchestrator as seen by the HTTP boundary.
type Service interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*models.Verification, error)
	Run(ctx context.Context, vid id.VerificationID) (*models.Verification, error)
	RunAsync(ctx context.Context, vid id.VerificationID) (*models.Verification, error)
	GetStatus(ctx context.Context, vid id.VerificationID) (*models.Verification, error)
	Progress(ctx context.Context, vid id.VerificationID) (progress.Progress, error)
	List(ctx context.Context, f models.Filter) ([]*models.Verification, error)
	Summary(ctx context.Context) (service.Summary, error)
}

// ActivityFeed reads a subject's activity events.
type ActivityFeed interface {
	List(ctx context.Context, subject id.SubjectID, limit int) ([]activity.Event, error)
}

// Scores reads a subject's security scores.
type Scores interface {
	Latest(ctx context.Context, subject id.SubjectID) (securityscore.Score, error)
	History(ctx context.Context, subject id.SubjectID, limit int) ([]securityscore.Score, error)
}

// Handler serves the /v1 API.
type Handler struct {
	verifications Service
	activity      ActivityFeed
	scores        Scores
	logger        *slog.Logger
	maxUpload     int64
}

// New creates a Handler. maxUpload bounds the artifact part of a submission;
// the request body may exceed it by the multipart framing overhead.
func New(verifications Service, feed ActivityFeed, scores Scores, logger *slog.Logger, maxUpload int64) *Handler {
	return &Handler{
		verifications: verifications,
		activity:      feed,
		scores:        scores,
		logger:        logger,
		maxUpload:     maxUpload,
	}
}

// Register registers the API routes on r. Authentication is applied by the caller.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/verifications", func(r chi.Router) {
		r.Post("/", h.handleSubmit)
		r.Get("/", h.handleList)
		r.Get("/summary", h.handleSummary)
		r.Get("/{id}", h.handleGetStatus)
		r.Get("/{id}/progress", h.handleProgress)
		r.Post("/{id}/run", h.handleRun)
	})
	r.Get("/v1/activity", h.handleActivity)
	r.Get("/v1/security-score", h.handleLatestScore)
	r.Get("/v1/security-score/history", h.handleScoreHistory)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := parseSubmission(w, r, h.maxUpload)
	if err != nil {
		h.fail(ctx, w, err, "invalid verification submission")
		return
	}
	v, err := h.verifications.Submit(ctx, req)
	if err != nil {
		h.fail(ctx, w, err, "failed to submit verification")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, SubmitResponse{RequestID: v.ID.String(), Status: string(v.Status)})
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vid, err := id.ParseVerificationID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, err, "invalid verification id")
		return
	}

	if r.URL.Query().Get("async") == "true" {
		v, err := h.verifications.RunAsync(ctx, vid)
		if err != nil {
			h.fail(ctx, w, err, "failed to start verification")
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, SubmitResponse{RequestID: v.ID.String(), Status: string(v.Status)})
		return
	}

	v, err := h.verifications.Run(ctx, vid)
	if err != nil {
		h.fail(ctx, w, err, "verification run failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVerificationResponse(v))
}

func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vid, err := id.ParseVerificationID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, err, "invalid verification id")
		return
	}
	v, err := h.verifications.GetStatus(ctx, vid)
	if err != nil {
		h.fail(ctx, w, err, "failed to load verification")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVerificationResponse(v))
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vid, err := id.ParseVerificationID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, err, "invalid verification id")
		return
	}
	p, err := h.verifications.Progress(ctx, vid)
	if err != nil {
		h.fail(ctx, w, err, "failed to load progress")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ProgressResponse{RequestID: vid.String(), Progress: p})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseFilter(r)
	if err != nil {
		h.fail(ctx, w, err, "invalid verification filter")
		return
	}
	records, err := h.verifications.List(ctx, filter)
	if err != nil {
		h.fail(ctx, w, err, "failed to list verifications")
		return
	}
	resp := ListResponse{Verifications: make([]VerificationResponse, 0, len(records))}
	for _, v := range records {
		resp.Verifications = append(resp.Verifications, toVerificationResponse(v))
	}
	resp.Count = len(resp.Verifications)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summary, err := h.verifications.Summary(ctx)
	if err != nil {
		h.fail(ctx, w, err, "failed to summarise verifications")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSummaryResponse(summary))
}

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, ok := h.subject(ctx, w)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		h.fail(ctx, w, err, "invalid activity limit")
		return
	}
	events, err := h.activity.List(ctx, subject, limit)
	if err != nil {
		h.fail(ctx, w, err, "failed to list activity")
		return
	}
	if events == nil {
		events = []activity.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, ActivityResponse{Activities: events, Count: len(events)})
}

func (h *Handler) handleLatestScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, ok := h.subject(ctx, w)
	if !ok {
		return
	}
	score, err := h.scores.Latest(ctx, subject)
	if err != nil {
		h.fail(ctx, w, err, "failed to load security score")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, score)
}

func (h *Handler) handleScoreHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, ok := h.subject(ctx, w)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		h.fail(ctx, w, err, "invalid history limit")
		return
	}
	history, err := h.scores.History(ctx, subject, limit)
	if err != nil {
		h.fail(ctx, w, err, "failed to load security score history")
		return
	}
	if history == nil {
		history = []securityscore.Score{}
	}
	httputil.WriteJSON(w, http.StatusOK, ScoreHistoryResponse{Scores: history, Count: len(history)})
}

func (h *Handler) subject(ctx context.Context, w http.ResponseWriter) (id.SubjectID, bool) {
	subject := requestcontext.SubjectID(ctx)
	if subject.IsNil() {
		h.fail(ctx, w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"), "subject missing from context")
		return id.SubjectID{}, false
	}
	return subject, true
}

// fail logs err at a level matching its status and writes the error body.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	code, ok := dErrors.CodeOf(err)
	if !ok {
		code = dErrors.CodeInternal
	}
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"code", string(code),
		"error", err,
	}
	if httputil.StatusFor(code) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}
