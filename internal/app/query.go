package service

import (
	"context"

	"github.com/okian/cadenza/internal/adapters/repository"
	"github.com/okian/cadenza/internal/domain/model"
	"github.com/okian/cadenza/pkg/errkind"
)

// FeedbackList is a course's feedback with an optional per-student view.
type FeedbackList struct {
	Filtered []model.FeedbackRecord `json:"filtered"`
	All      []model.FeedbackRecord `json:"all"`
}

// QueryService reads feedback history. It never writes.
type QueryService struct {
	store repository.Store
}

// NewQueryService creates a query service over store.
func NewQueryService(store repository.Store) *QueryService {
	return &QueryService{store: store}
}

// ListFeedback returns every record in the course's classes, and the subset
// belonging to studentID when one is given.
func (q *QueryService) ListFeedback(ctx context.Context, courseID, studentID string) (FeedbackList, error) {
	const op = "service.list_feedback"
	if courseID == "" {
		return FeedbackList{}, errkind.New(op, ErrBadRequest)
	}
	course, err := q.store.GetCourse(ctx, courseID)
	if err != nil {
		return FeedbackList{}, classify(op, err)
	}
	if len(course.ClassIDs) == 0 {
		return FeedbackList{}, classify(op, errNoClasses)
	}

	all, err := q.store.FindFeedback(ctx, repository.FeedbackQuery{ClassIDs: course.ClassIDs})
	if err != nil {
		return FeedbackList{}, classify(op, err)
	}
	if studentID == "" {
		return FeedbackList{Filtered: all, All: all}, nil
	}

	filtered := make([]model.FeedbackRecord, 0)
	for _, r := range all {
		if r.StudentID == studentID {
			filtered = append(filtered, r)
		}
	}
	return FeedbackList{Filtered: filtered, All: all}, nil
}

// Scores returns the pooled scores materialized on the course.
func (q *QueryService) Scores(ctx context.Context, courseID string) ([]model.PerformanceScoreEntry, error) {
	const op = "service.course_scores"
	if courseID == "" {
		return nil, errkind.New(op, ErrBadRequest)
	}
	course, err := q.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, classify(op, err)
	}
	if course.PerformanceScores == nil {
		return []model.PerformanceScoreEntry{}, nil
	}
	return course.PerformanceScores, nil
}
