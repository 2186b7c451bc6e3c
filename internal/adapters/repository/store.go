// Package repository defines the document store used by the feedback engine
// and its in-memory implementation.
package repository

import (
	"context"
	"slices"
	"sort"

	"github.com/okian/cadenza/internal/domain/category"
	"github.com/okian/cadenza/internal/domain/model"
)

// FeedbackQuery selects feedback records. ClassIDs is required; the other
// fields are optional filters.
type FeedbackQuery struct {
	ClassIDs  []string
	StudentID string
	Category  category.Category
}

// Matches reports whether rec satisfies the query.
func (q FeedbackQuery) Matches(rec model.FeedbackRecord) bool {
	if !slices.Contains(q.ClassIDs, rec.ClassID) {
		return false
	}
	if q.StudentID != "" && rec.StudentID != q.StudentID {
		return false
	}
	if q.Category != "" && rec.Category != q.Category {
		return false
	}
	return true
}

// Store provides read/write access to students, courses, classes and
// feedback records.
//
// Update methods are compare-and-swap on the document's Version: the write
// succeeds only when the stored version equals the given one, and the
// returned document carries the new version. A mismatch yields ErrConflict.
type Store interface {
	GetStudent(ctx context.Context, id string) (model.Student, error)
	UpdateStudent(ctx context.Context, s model.Student) (model.Student, error)

	GetCourse(ctx context.Context, id string) (model.Course, error)
	UpdateCourse(ctx context.Context, c model.Course) (model.Course, error)

	GetClass(ctx context.Context, id string) (model.Class, error)
	UpdateClass(ctx context.Context, c model.Class) (model.Class, error)

	// InsertFeedback stores a new record. An existing id yields ErrAlreadyExists.
	InsertFeedback(ctx context.Context, rec model.FeedbackRecord) error
	// FindFeedback returns matching records ordered by CreatedAt, then ID.
	FindFeedback(ctx context.Context, q FeedbackQuery) ([]model.FeedbackRecord, error)

	// Create methods insert a document at version 1. They exist for seeding
	// since student, course and class CRUD lives elsewhere.
	CreateStudent(ctx context.Context, s model.Student) error
	CreateCourse(ctx context.Context, c model.Course) error
	CreateClass(ctx context.Context, c model.Class) error

	Close() error
}

// SortFeedback orders records by CreatedAt ascending with ID as tie-break.
func SortFeedback(recs []model.FeedbackRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
