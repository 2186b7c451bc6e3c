package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/okian/cadenza/internal/adapters/repository"
	"github.com/okian/cadenza/internal/domain/category"
	"github.com/okian/cadenza/internal/domain/model"
	"github.com/okian/cadenza/internal/domain/scoring"
	"github.com/okian/cadenza/pkg/errkind"
)

// FeedbackInput is a raw evaluation as the tutor entered it.
type FeedbackInput struct {
	StudentID        string
	ClassID          string
	Category         category.Category
	Metrics          map[string]any
	NAFields         []string
	PersonalFeedback string
}

// FeedbackStore writes immutable feedback records and moves the class's
// latest-feedback pointer.
type FeedbackStore struct {
	store      repository.Store
	maxRetries int
	now        func() time.Time
	newID      func() string
}

// NewFeedbackStore creates a feedback store over store.
func NewFeedbackStore(store repository.Store, maxRetries int, now func() time.Time, newID func() string) *FeedbackStore {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	return &FeedbackStore{store: store, maxRetries: maxRetries, now: now, newID: newID}
}

// Build turns raw input into a record without persisting it.
func (f *FeedbackStore) Build(in FeedbackInput) (model.FeedbackRecord, error) {
	const op = "service.build_feedback"
	schema, err := category.Lookup(in.Category)
	if err != nil {
		return model.FeedbackRecord{}, errkind.Wrap(op, ErrBadRequest, err)
	}
	metrics, na, err := scoring.BuildMetrics(schema, in.Metrics, in.NAFields)
	if err != nil {
		return model.FeedbackRecord{}, errkind.Wrap(op, ErrBadRequest, err)
	}
	return model.FeedbackRecord{
		ID:               f.newID(),
		StudentID:        in.StudentID,
		ClassID:          in.ClassID,
		Category:         schema.Category,
		Metrics:          metrics,
		NAFields:         na,
		PersonalFeedback: in.PersonalFeedback,
		CreatedAt:        f.now().UTC(),
	}, nil
}

// Submit inserts a new record and points the class at it. The record is
// never overwritten; a failure after insert leaves it in place.
func (f *FeedbackStore) Submit(ctx context.Context, in FeedbackInput) (model.FeedbackRecord, model.Class, error) {
	const op = "service.submit_feedback"
	rec, err := f.Build(in)
	if err != nil {
		return model.FeedbackRecord{}, model.Class{}, err
	}
	if err := f.store.InsertFeedback(ctx, rec); err != nil {
		return model.FeedbackRecord{}, model.Class{}, errkind.Wrap(op, ErrUnexpected, err)
	}

	var class model.Class
	err = retryOnConflict(ctx, f.maxRetries, "class", func() error {
		c, err := f.store.GetClass(ctx, in.ClassID)
		if err != nil {
			return err
		}
		c.FeedbackID = rec.ID
		class, err = f.store.UpdateClass(ctx, c)
		return err
	})
	if err != nil {
		return rec, model.Class{}, errkind.Wrap(op, storeKind(err), err)
	}
	return rec, class, nil
}
