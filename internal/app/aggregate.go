package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/okian/cadenza/internal/adapters/repository"
	"github.com/okian/cadenza/internal/domain/category"
	"github.com/okian/cadenza/internal/domain/model"
	"github.com/okian/cadenza/internal/domain/scoring"
	"github.com/okian/cadenza/pkg/errkind"
	"github.com/okian/cadenza/pkg/metrics"
)

var errNoClasses = errors.New("course has no classes")

// AggregateMaintainer materializes the pooled score of a student in a course
// for one category.
type AggregateMaintainer struct {
	store      repository.Store
	maxRetries int
	now        func() time.Time
}

// NewAggregateMaintainer creates a maintainer over store.
func NewAggregateMaintainer(store repository.Store, maxRetries int, now func() time.Time) *AggregateMaintainer {
	if now == nil {
		now = time.Now
	}
	return &AggregateMaintainer{store: store, maxRetries: maxRetries, now: now}
}

// Recompute pools every non-NA value the student has in the course's classes
// for cat and upserts the course entry.
//
// Each attempt reads the course version before reading records, and the write
// only lands if the version is unchanged. A writer that loses the race
// retries and so sees every record committed before its retry.
func (a *AggregateMaintainer) Recompute(ctx context.Context, studentID, courseID string, cat category.Category) (model.PerformanceScoreEntry, error) {
	const op = "service.recompute_aggregate"
	start := time.Now()
	defer func() {
		metrics.RecordAggregateLatency(float64(time.Since(start).Milliseconds()))
	}()

	var entry model.PerformanceScoreEntry
	err := retryOnConflict(ctx, a.maxRetries, "course", func() error {
		course, err := a.store.GetCourse(ctx, courseID)
		if err != nil {
			return err
		}
		if len(course.ClassIDs) == 0 {
			return errNoClasses
		}

		recs, err := a.store.FindFeedback(ctx, repository.FeedbackQuery{
			ClassIDs:  course.ClassIDs,
			StudentID: studentID,
			Category:  cat,
		})
		if err != nil {
			return err
		}
		score, pooled := scoring.Pool(recs)

		entry = model.PerformanceScoreEntry{
			StudentID:  studentID,
			Category:   cat,
			Score:      score,
			RecordedAt: a.now().UTC(),
		}
		course.UpsertScore(entry)
		if _, err := a.store.UpdateCourse(ctx, course); err != nil {
			return err
		}
		metrics.RecordPooledValues(pooled)
		return nil
	})
	if err != nil {
		return model.PerformanceScoreEntry{}, classify(op, err)
	}
	metrics.UpdateLastScore(cat.String(), entry.Score)
	return entry, nil
}

// Rescore recomputes every (student, category) pair that has records in the
// course. It is safe to run repeatedly.
func (a *AggregateMaintainer) Rescore(ctx context.Context, courseID string) ([]model.PerformanceScoreEntry, error) {
	const op = "service.rescore"
	course, err := a.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, classify(op, err)
	}
	if len(course.ClassIDs) == 0 {
		return nil, classify(op, errNoClasses)
	}
	recs, err := a.store.FindFeedback(ctx, repository.FeedbackQuery{ClassIDs: course.ClassIDs})
	if err != nil {
		return nil, classify(op, err)
	}

	type pair struct {
		student string
		cat     category.Category
	}
	seen := make(map[pair]struct{})
	var pairs []pair
	for _, r := range recs {
		p := pair{r.StudentID, r.Category}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].student != pairs[j].student {
			return pairs[i].student < pairs[j].student
		}
		return pairs[i].cat < pairs[j].cat
	})

	out := make([]model.PerformanceScoreEntry, 0, len(pairs))
	for _, p := range pairs {
		e, err := a.Recompute(ctx, p.student, courseID, p.cat)
		if err != nil {
			return out, errkind.Op(op, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// classify keeps a kind already attached to err and otherwise derives one
// from the store error.
func classify(op string, err error) error {
	if errkind.KindOf(err) != nil {
		return errkind.Op(op, err)
	}
	return errkind.Wrap(op, storeKind(err), err)
}
