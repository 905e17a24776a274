package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"vouch/internal/verification/models"
	"vouch/internal/verification/service"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/platform/sentinel"
)

// multipartOverhead covers boundaries and the kind/type fields around the file part.
const multipartOverhead = 64 << 10

const (
	fieldFile = "file"
	fieldKind = "kind"
	fieldType = "type"
)

// parseSubmission reads the multipart form: a file part plus kind and type
// fields. An oversize body is reported as a storage error so it maps to 413.
func parseSubmission(w http.ResponseWriter, r *http.Request, maxUpload int64) (service.SubmitRequest, error) {
	if maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload+multipartOverhead)
	}
	reader, err := r.MultipartReader()
	if err != nil {
		return service.SubmitRequest{}, dErrors.New(dErrors.CodeBadRequest, "expected a multipart/form-data body")
	}

	var (
		req           service.SubmitRequest
		kind, subtype string
		sawFile       bool
	)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return service.SubmitRequest{}, bodyError(err)
		}
		switch part.FormName() {
		case fieldFile:
			data, err := readPart(part, maxUpload)
			if err != nil {
				return service.SubmitRequest{}, err
			}
			req.Data = data
			req.FileName = part.FileName()
			req.ContentType = part.Header.Get("Content-Type")
			sawFile = true
		case fieldKind:
			kind, err = readField(part)
		case fieldType:
			subtype, err = readField(part)
		}
		_ = part.Close()
		if err != nil {
			return service.SubmitRequest{}, err
		}
	}

	if !sawFile {
		return service.SubmitRequest{}, dErrors.New(dErrors.CodeValidation, "file is required")
	}
	if strings.TrimSpace(kind) == "" {
		return service.SubmitRequest{}, dErrors.New(dErrors.CodeValidation, "kind is required")
	}
	req.Kind, err = models.ParseKind(kind, subtype)
	if err != nil {
		return service.SubmitRequest{}, err
	}
	return req, nil
}

func readPart(part io.Reader, maxUpload int64) ([]byte, error) {
	if maxUpload <= 0 {
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, bodyError(err)
		}
		return data, nil
	}
	data, err := io.ReadAll(io.LimitReader(part, maxUpload+1))
	if err != nil {
		return nil, bodyError(err)
	}
	if int64(len(data)) > maxUpload {
		return nil, dErrors.Wrap(
			fmt.Errorf("artifact exceeds %d bytes: %w", maxUpload, sentinel.ErrTooLarge),
			dErrors.CodeStorage, "artifact exceeds the maximum size")
	}
	return data, nil
}

// maxFieldBytes bounds the plain form fields.
const maxFieldBytes = 256

func readField(part io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", bodyError(err)
	}
	if len(data) > maxFieldBytes {
		return "", dErrors.New(dErrors.CodeValidation, "form field is too long")
	}
	return strings.TrimSpace(string(data)), nil
}

func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return dErrors.Wrap(fmt.Errorf("%w: %w", err, sentinel.ErrTooLarge), dErrors.CodeStorage, "artifact exceeds the maximum size")
	}
	return dErrors.New(dErrors.CodeBadRequest, "malformed multipart body")
}

func parseFilter(r *http.Request) (models.Filter, error) {
	q := r.URL.Query()
	limit, err := parseLimit(r)
	if err != nil {
		return models.Filter{}, err
	}
	f := models.Filter{
		Kind:  models.KindName(strings.ToLower(strings.TrimSpace(q.Get("kind")))),
		Limit: limit,
	}
	if raw := strings.ToLower(strings.TrimSpace(q.Get("status"))); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			return models.Filter{}, err
		}
		f.Status = status
	}
	return f, nil
}

// parseLimit reads ?limit=. Absent means the caller's default; bounds are
// applied downstream.
func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "limit must be a non-negative integer")
	}
	return limit, nil
}
