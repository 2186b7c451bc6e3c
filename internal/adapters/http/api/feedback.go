package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	service "github.com/okian/cadenza/internal/app"
	"github.com/okian/cadenza/pkg/errkind"
)

const (
	maxBodyBytes         = 1 << 20
	idempotencyKeyHeader = "Idempotency-Key"
)

// FeedbackHandler handles feedback submissions.
type FeedbackHandler struct {
	deps FeedbackDependencies
}

// NewFeedbackHandler creates a new feedback handler.
func NewFeedbackHandler(deps FeedbackDependencies) *FeedbackHandler {
	return &FeedbackHandler{deps: deps}
}

// submitRequest mirrors the OpenAPI schema for POST /feedback/{category}.
type submitRequest struct {
	ClassID          string         `json:"class_id"`
	CourseID         string         `json:"course_id"`
	StudentID        string         `json:"student_id"`
	Metrics          map[string]any `json:"metrics"`
	NAFields         []string       `json:"na_fields"`
	AttendanceStatus string         `json:"attendance_status"`
	PersonalFeedback string         `json:"personal_feedback"`
}

// HandleSubmit handles POST /feedback/{category} requests.
func (h *FeedbackHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_feedback"

	var body submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", errkind.Wrap(op, ErrBodyTooBig, err))
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", errkind.Wrap(op, ErrBadRequest, err))
		return
	}
	if dec.More() {
		writeError(w, http.StatusBadRequest, "bad_request", errkind.New(op, ErrBadRequest))
		return
	}

	res, err := h.deps.Submit(r.Context(), service.SubmitRequest{
		Category:         r.PathValue("category"),
		ClassID:          body.ClassID,
		CourseID:         body.CourseID,
		StudentID:        body.StudentID,
		Metrics:          body.Metrics,
		NAFields:         body.NAFields,
		AttendanceStatus: body.AttendanceStatus,
		PersonalFeedback: body.PersonalFeedback,
		IdempotencyKey:   strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
