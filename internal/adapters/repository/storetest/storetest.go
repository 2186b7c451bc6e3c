// Package storetest holds behavior checks shared by every repository.Store
// backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/cadenza/internal/adapters/repository"
	"github.com/okian/cadenza/internal/domain/category"
	"github.com/okian/cadenza/internal/domain/model"
)

// Run exercises a store. Every id is unique per process, so newStore may
// hand back one shared store for all subtests.
func Run(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Helper()

	t.Run("student round trip and CAS", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := uniq("student")

		_, err := s.GetStudent(ctx, id)
		require.ErrorIs(t, err, repository.ErrNotFound)

		require.NoError(t, s.CreateStudent(ctx, model.Student{ID: id, Name: "Ada", Email: "ada@example.com"}))
		require.ErrorIs(t, s.CreateStudent(ctx, model.Student{ID: id}), repository.ErrAlreadyExists)

		got, err := s.GetStudent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Ada", got.Name)
		assert.Equal(t, int64(1), got.Version)

		stale := got
		got.SetAttendance("class-1", "present")
		updated, err := s.UpdateStudent(ctx, got)
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)

		stale.SetAttendance("class-1", "absent")
		_, err = s.UpdateStudent(ctx, stale)
		require.ErrorIs(t, err, repository.ErrConflict)

		again, err := s.GetStudent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []model.AttendanceEntry{{ClassID: "class-1", Status: "present"}}, again.Attendance)
	})

	t.Run("course scores and CAS", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := uniq("course")

		_, err := s.UpdateCourse(ctx, model.Course{ID: id, Version: 1})
		require.ErrorIs(t, err, repository.ErrNotFound)

		require.NoError(t, s.CreateCourse(ctx, model.Course{ID: id, Title: "Piano I", ClassIDs: []string{"a", "b"}}))
		c, err := s.GetCourse(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, c.ClassIDs)

		at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		c.UpsertScore(model.PerformanceScoreEntry{StudentID: "s-1", Category: category.Music, Score: 7.25, RecordedAt: at})
		c, err = s.UpdateCourse(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, int64(2), c.Version)

		stored, err := s.GetCourse(ctx, id)
		require.NoError(t, err)
		e, ok := stored.ScoreFor("s-1", category.Music)
		require.True(t, ok)
		assert.Equal(t, 7.25, e.Score)
		assert.True(t, e.RecordedAt.Equal(at))

		stored.Version = 1
		_, err = s.UpdateCourse(ctx, stored)
		require.ErrorIs(t, err, repository.ErrConflict)
	})

	t.Run("class pointer", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := uniq("class")

		require.NoError(t, s.CreateClass(ctx, model.Class{ID: id, Title: "Lesson 1", CourseID: "course-x"}))
		c, err := s.GetClass(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "course-x", c.CourseID)

		c.FeedbackID = "f-1"
		c, err = s.UpdateClass(ctx, c)
		require.NoError(t, err)
		c.FeedbackID = "f-2"
		_, err = s.UpdateClass(ctx, c)
		require.NoError(t, err)

		c, err = s.GetClass(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "f-2", c.FeedbackID)
		assert.Equal(t, int64(3), c.Version)
	})

	t.Run("feedback insert and find", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		classA, classB, classC := uniq("ca"), uniq("cb"), uniq("cc")
		base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		recs := []model.FeedbackRecord{
			feedback(uniq("f"), "s-1", classB, category.Music, base.Add(2*time.Minute)),
			feedback(uniq("f"), "s-1", classA, category.Music, base),
			feedback(uniq("f"), "s-2", classA, category.Music, base.Add(time.Minute)),
			feedback(uniq("f"), "s-1", classA, category.Vocal, base.Add(3*time.Minute)),
			feedback(uniq("f"), "s-1", classC, category.Music, base.Add(4*time.Minute)),
		}
		for _, r := range recs {
			require.NoError(t, s.InsertFeedback(ctx, r))
		}
		require.ErrorIs(t, s.InsertFeedback(ctx, recs[0]), repository.ErrAlreadyExists)

		all, err := s.FindFeedback(ctx, repository.FeedbackQuery{ClassIDs: []string{classA, classB}})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, recs[1].ID, all[0].ID)
		assert.Equal(t, recs[3].ID, all[3].ID)

		mine, err := s.FindFeedback(ctx, repository.FeedbackQuery{
			ClassIDs: []string{classA, classB}, StudentID: "s-1", Category: category.Music,
		})
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, recs[1].ID, mine[0].ID)
		assert.Equal(t, recs[0].ID, mine[1].ID)
		assert.True(t, mine[0].Metrics["theoreticalUnderstanding"].NA)
		assert.Equal(t, 8.0, mine[0].Metrics["rhythm"].Value)
		assert.Equal(t, []string{"theoreticalUnderstanding"}, mine[0].NAFields)

		none, err := s.FindFeedback(ctx, repository.FeedbackQuery{ClassIDs: []string{uniq("empty")}})
		require.NoError(t, err)
		assert.Empty(t, none)

		_, err = s.FindFeedback(ctx, repository.FeedbackQuery{})
		require.ErrorIs(t, err, repository.ErrInvalidQuery)
	})

	t.Run("concurrent CAS admits one writer per version", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := uniq("course")
		require.NoError(t, s.CreateCourse(ctx, model.Course{ID: id}))
		base, err := s.GetCourse(ctx, id)
		require.NoError(t, err)

		const writers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				c := base.Clone()
				c.UpsertScore(model.PerformanceScoreEntry{StudentID: fmt.Sprintf("s-%d", i), Category: category.Drums, Score: 1})
				if _, err := s.UpdateCourse(ctx, c); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

func feedback(id, student, class string, cat category.Category, at time.Time) model.FeedbackRecord {
	metrics := make(map[string]model.MetricValue)
	for _, k := range category.MetricKeysFor(cat) {
		metrics[k] = model.Score(8)
	}
	var na []string
	if cat == category.Music {
		metrics["theoreticalUnderstanding"] = model.NotApplicable()
		na = []string{"theoreticalUnderstanding"}
	}
	return model.FeedbackRecord{
		ID: id, StudentID: student, ClassID: class, Category: cat,
		Metrics: metrics, NAFields: na, PersonalFeedback: "steady progress", CreatedAt: at,
	}
}

var (
	seqMu sync.Mutex
	seq   int
	runID = time.Now().UnixNano()
)

func uniq(prefix string) string {
	seqMu.Lock()
	defer seqMu.Unlock()
	seq++
	return fmt.Sprintf("%s-%d-%d", prefix, runID, seq)
}
