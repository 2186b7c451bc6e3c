// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	service "github.com/okian/cadenza/internal/app"
	"github.com/okian/cadenza/internal/domain/category"
	"github.com/okian/cadenza/internal/domain/model"
	"github.com/okian/cadenza/pkg/errkind"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	FeedbackDependencies
	CourseDependencies
	Categories() []category.Schema
}

// FeedbackDependencies accepts submissions.
type FeedbackDependencies interface {
	Submit(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error)
}

// CourseDependencies reads and maintains course-level data.
type CourseDependencies interface {
	ListFeedback(ctx context.Context, courseID, studentID string) (service.FeedbackList, error)
	Scores(ctx context.Context, courseID string) ([]model.PerformanceScoreEntry, error)
	Rescore(ctx context.Context, courseID string) ([]model.PerformanceScoreEntry, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	feedbackHandler   *FeedbackHandler
	courseHandler     *CourseHandler
	categoriesHandler *CategoriesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(statsProvider),
		feedbackHandler:   NewFeedbackHandler(deps),
		courseHandler:     NewCourseHandler(deps),
		categoriesHandler: NewCategoriesHandler(deps.Categories),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /categories", MetricsMiddleware(s.categoriesHandler.HandleList, "categories"))
	mux.HandleFunc("POST /feedback/{category}", MetricsMiddleware(s.feedbackHandler.HandleSubmit, "feedback"))
	mux.HandleFunc("GET /courses/{courseId}/feedback", MetricsMiddleware(s.courseHandler.HandleListFeedback, "course_feedback"))
	mux.HandleFunc("GET /courses/{courseId}/scores", MetricsMiddleware(s.courseHandler.HandleScores, "course_scores"))
	mux.HandleFunc("POST /courses/{courseId}/rescore", MetricsMiddleware(s.courseHandler.HandleRescore, "course_rescore"))
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Phase   string            `json:"phase,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps a service error kind to a status code.
func writeServiceError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	resp := errorResponse{
		Code:    code,
		Message: err.Error(),
		Phase:   string(service.PhaseOf(err)),
	}
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "timeout"
	}
	switch errkind.KindOf(err) {
	case service.ErrBadRequest:
		return http.StatusBadRequest, "bad_request"
	case service.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case service.ErrDuplicate:
		return http.StatusConflict, "duplicate"
	case service.ErrNotStarted:
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
