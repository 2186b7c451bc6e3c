package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/cadenza/internal/domain/model"
	"github.com/okian/cadenza/pkg/metrics"
)

const (
	memoryBackend                = "memory"
	defaultMetricsUpdateInterval = 10 * time.Second
)

// MemoryStore is an in-process Store. Documents are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	students map[string]model.Student
	courses  map[string]model.Course
	classes  map[string]model.Class
	feedback map[string]model.FeedbackRecord

	metricsUpdateInterval time.Duration
	cancel                context.CancelFunc
	wg                    sync.WaitGroup
}

// NewMemoryStore creates an empty store. The background metrics updater
// stops when ctx is cancelled or Close is called.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		students:              make(map[string]model.Student),
		courses:               make(map[string]model.Course),
		classes:               make(map[string]model.Class),
		feedback:              make(map[string]model.FeedbackRecord),
		metricsUpdateInterval: defaultMetricsUpdateInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	if s.metricsUpdateInterval > 0 {
		s.wg.Add(1)
		go s.startMetricsUpdater(ctx)
	}
	return s
}

// Close stops background work.
func (s *MemoryStore) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *MemoryStore) GetStudent(ctx context.Context, id string) (model.Student, error) {
	defer observe("get_student", time.Now())
	if err := ctx.Err(); err != nil {
		return model.Student{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[id]
	if !ok {
		return model.Student{}, fmt.Errorf("student %q: %w", id, ErrNotFound)
	}
	return st.Clone(), nil
}

func (s *MemoryStore) UpdateStudent(ctx context.Context, st model.Student) (model.Student, error) {
	defer observe("update_student", time.Now())
	if err := ctx.Err(); err != nil {
		return model.Student{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.students[st.ID]
	if !ok {
		return model.Student{}, fmt.Errorf("student %q: %w", st.ID, ErrNotFound)
	}
	if cur.Version != st.Version {
		return model.Student{}, conflict("student", st.ID, st.Version, cur.Version)
	}
	st = st.Clone()
	st.Version++
	s.students[st.ID] = st
	return st.Clone(), nil
}

func (s *MemoryStore) CreateStudent(ctx context.Context, st model.Student) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[st.ID]; ok {
		return fmt.Errorf("student %q: %w", st.ID, ErrAlreadyExists)
	}
	st = st.Clone()
	st.Version = 1
	s.students[st.ID] = st
	return nil
}

func (s *MemoryStore) GetCourse(ctx context.Context, id string) (model.Course, error) {
	defer observe("get_course", time.Now())
	if err := ctx.Err(); err != nil {
		return model.Course{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.courses[id]
	if !ok {
		return model.Course{}, fmt.Errorf("course %q: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *MemoryStore) UpdateCourse(ctx context.Context, c model.Course) (model.Course, error) {
	defer observe("update_course", time.Now())
	if err := ctx.Err(); err != nil {
		return model.Course{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.courses[c.ID]
	if !ok {
		return model.Course{}, fmt.Errorf("course %q: %w", c.ID, ErrNotFound)
	}
	if cur.Version != c.Version {
		return model.Course{}, conflict("course", c.ID, c.Version, cur.Version)
	}
	c = c.Clone()
	c.Version++
	s.courses[c.ID] = c
	return c.Clone(), nil
}

func (s *MemoryStore) CreateCourse(ctx context.Context, c model.Course) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courses[c.ID]; ok {
		return fmt.Errorf("course %q: %w", c.ID, ErrAlreadyExists)
	}
	c = c.Clone()
	c.Version = 1
	s.courses[c.ID] = c
	return nil
}

func (s *MemoryStore) GetClass(ctx context.Context, id string) (model.Class, error) {
	defer observe("get_class", time.Now())
	if err := ctx.Err(); err != nil {
		return model.Class{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[id]
	if !ok {
		return model.Class{}, fmt.Errorf("class %q: %w", id, ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) UpdateClass(ctx context.Context, c model.Class) (model.Class, error) {
	defer observe("update_class", time.Now())
	if err := ctx.Err(); err != nil {
		return model.Class{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.classes[c.ID]
	if !ok {
		return model.Class{}, fmt.Errorf("class %q: %w", c.ID, ErrNotFound)
	}
	if cur.Version != c.Version {
		return model.Class{}, conflict("class", c.ID, c.Version, cur.Version)
	}
	c.Version++
	s.classes[c.ID] = c
	return c, nil
}

func (s *MemoryStore) CreateClass(ctx context.Context, c model.Class) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[c.ID]; ok {
		return fmt.Errorf("class %q: %w", c.ID, ErrAlreadyExists)
	}
	c.Version = 1
	s.classes[c.ID] = c
	return nil
}

func (s *MemoryStore) InsertFeedback(ctx context.Context, rec model.FeedbackRecord) error {
	defer observe("insert_feedback", time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.feedback[rec.ID]; ok {
		metrics.RecordStoreError(memoryBackend, "insert_feedback")
		return fmt.Errorf("feedback %q: %w", rec.ID, ErrAlreadyExists)
	}
	s.feedback[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) FindFeedback(ctx context.Context, q FeedbackQuery) ([]model.FeedbackRecord, error) {
	defer observe("find_feedback", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(q.ClassIDs) == 0 {
		return nil, fmt.Errorf("no class ids: %w", ErrInvalidQuery)
	}
	s.mu.RLock()
	out := make([]model.FeedbackRecord, 0)
	for _, rec := range s.feedback {
		if q.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()
	SortFeedback(out)
	return out, nil
}

func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.metricsUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateMetrics()
		}
	}
}

func (s *MemoryStore) updateMetrics() {
	s.mu.RLock()
	students, courses, classes, feedback := len(s.students), len(s.courses), len(s.classes), len(s.feedback)
	s.mu.RUnlock()
	metrics.UpdateStoreDocuments(memoryBackend, "students", students)
	metrics.UpdateStoreDocuments(memoryBackend, "courses", courses)
	metrics.UpdateStoreDocuments(memoryBackend, "classes", classes)
	metrics.UpdateStoreDocuments(memoryBackend, "feedback", feedback)
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(memoryBackend, op, float64(time.Since(start).Microseconds())/1000)
}

func conflict(kind, id string, have, want int64) error {
	metrics.RecordStoreError(memoryBackend, "update_"+kind)
	return fmt.Errorf("%s %q at version %d, stored %d: %w", kind, id, have, want, ErrConflict)
}
