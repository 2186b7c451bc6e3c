package api

import (
	"net/http"
	"strings"

	"github.com/okian/cadenza/internal/domain/model"
)

// CourseHandler handles course feedback queries and rescoring.
type CourseHandler struct {
	deps CourseDependencies
}

// NewCourseHandler creates a new course handler.
func NewCourseHandler(deps CourseDependencies) *CourseHandler {
	return &CourseHandler{deps: deps}
}

// HandleListFeedback handles GET /courses/{courseId}/feedback requests.
// The optional student_id query parameter narrows the filtered list.
func (h *CourseHandler) HandleListFeedback(w http.ResponseWriter, r *http.Request) {
	courseID := strings.TrimSpace(r.PathValue("courseId"))
	studentID := strings.TrimSpace(r.URL.Query().Get("student_id"))

	list, err := h.deps.ListFeedback(r.Context(), courseID, studentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleScores handles GET /courses/{courseId}/scores requests.
func (h *CourseHandler) HandleScores(w http.ResponseWriter, r *http.Request) {
	courseID := strings.TrimSpace(r.PathValue("courseId"))
	scores, err := h.deps.Scores(r.Context(), courseID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scoresResponse{CourseID: courseID, Scores: scores})
}

// scoresResponse is shared by the scores and rescore endpoints.
type scoresResponse struct {
	CourseID string                        `json:"course_id"`
	Scores   []model.PerformanceScoreEntry `json:"scores"`
}

// HandleRescore handles POST /courses/{courseId}/rescore requests.
func (h *CourseHandler) HandleRescore(w http.ResponseWriter, r *http.Request) {
	courseID := strings.TrimSpace(r.PathValue("courseId"))
	scores, err := h.deps.Rescore(r.Context(), courseID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scoresResponse{CourseID: courseID, Scores: scores})
}
