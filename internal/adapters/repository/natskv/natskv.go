// Package natskv implements repository.Store on NATS JetStream key-value
// buckets. Aggregate documents use the entry revision for compare-and-swap.
package natskv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/okian/cadenza/internal/adapters/repository"
	"github.com/okian/cadenza/internal/domain/model"
	"github.com/okian/cadenza/pkg/metrics"
)

const (
	backend             = "nats"
	defaultBucketPrefix = "cadenza"
)

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithBucketPrefix sets the prefix of the four bucket names.
func WithBucketPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithConn hands ownership of conn to the store; Close drains it.
func WithConn(conn *nats.Conn) Option {
	return func(s *Store) { s.conn = conn }
}

// Store keeps each collection in its own bucket.
type Store struct {
	prefix   string
	conn     *nats.Conn
	students jetstream.KeyValue
	courses  jetstream.KeyValue
	classes  jetstream.KeyValue
	feedback jetstream.KeyValue
}

// Connect dials url and opens the store on its JetStream context.
func Connect(ctx context.Context, url string, opts ...Option) (*Store, error) {
	conn, err := nats.Connect(url, nats.Name("cadenza"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	s, err := New(ctx, js, append(opts, WithConn(conn))...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// New creates or binds the buckets.
func New(ctx context.Context, js jetstream.JetStream, opts ...Option) (*Store, error) {
	s := &Store{prefix: defaultBucketPrefix}
	for _, opt := range opts {
		opt(s)
	}

	buckets := []struct {
		name string
		dst  *jetstream.KeyValue
		desc string
	}{
		{"students", &s.students, "Student documents"},
		{"courses", &s.courses, "Course documents with performance scores"},
		{"classes", &s.classes, "Class documents with latest feedback pointer"},
		{"feedback", &s.feedback, "Immutable feedback records keyed class.student.id"},
	}
	for _, b := range buckets {
		kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      s.prefix + "_" + b.name,
			Description: b.desc,
			History:     1,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s bucket: %w", b.name, err)
		}
		*b.dst = kv
	}
	return s, nil
}

// Close drains the connection when the store owns it.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

// encode makes any id a valid single key token.
func encode(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func feedbackKey(rec model.FeedbackRecord) string {
	return encode(rec.ClassID) + "." + encode(rec.StudentID) + "." + encode(rec.ID)
}

// load fetches and decodes key. The entry is returned for its revision.
func load[T any](ctx context.Context, kv jetstream.KeyValue, kind, id string) (T, jetstream.KeyValueEntry, error) {
	var doc T
	entry, err := kv.Get(ctx, encode(id))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return doc, nil, fmt.Errorf("%s %q: %w", kind, id, repository.ErrNotFound)
		}
		return doc, nil, fmt.Errorf("get %s %q: %w", kind, id, err)
	}
	if err := json.Unmarshal(entry.Value(), &doc); err != nil {
		return doc, nil, fmt.Errorf("decode %s %q: %w", kind, id, err)
	}
	return doc, entry, nil
}

// swap writes next when the stored version equals version. The revision
// guard closes the window between the read and the write.
func swap[T any](ctx context.Context, kv jetstream.KeyValue, kind, id string, version int64, versionOf func(T) int64, next T) error {
	cur, entry, err := load[T](ctx, kv, kind, id)
	if err != nil {
		return err
	}
	if stored := versionOf(cur); stored != version {
		metrics.RecordStoreError(backend, "update_"+kind)
		return fmt.Errorf("%s %q at version %d, stored %d: %w", kind, id, version, stored, repository.ErrConflict)
	}
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode %s %q: %w", kind, id, err)
	}
	if _, err := kv.Update(ctx, encode(id), data, entry.Revision()); err != nil {
		metrics.RecordStoreError(backend, "update_"+kind)
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("%s %q revision moved: %w", kind, id, repository.ErrConflict)
		}
		return fmt.Errorf("update %s %q: %w", kind, id, err)
	}
	return nil
}

func create(ctx context.Context, kv jetstream.KeyValue, kind, key, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s %q: %w", kind, id, err)
	}
	if _, err := kv.Create(ctx, key, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("%s %q: %w", kind, id, repository.ErrAlreadyExists)
		}
		metrics.RecordStoreError(backend, "create_"+kind)
		return fmt.Errorf("create %s %q: %w", kind, id, err)
	}
	return nil
}

func studentVersion(d model.Student) int64 { return d.Version }
func courseVersion(d model.Course) int64 { return d.Version }
func classVersion(d model.Class) int64 { return d.Version }

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(backend, op, float64(time.Since(start).Microseconds())/1000)
}

func (s *Store) GetStudent(ctx context.Context, id string) (model.Student, error) {
	defer observe("get_student", time.Now())
	st, _, err := load[model.Student](ctx, s.students, "student", id)
	return st, err
}

func (s *Store) UpdateStudent(ctx context.Context, st model.Student) (model.Student, error) {
	defer observe("update_student", time.Now())
	st = st.Clone()
	st.Version++
	err := swap(ctx, s.students, "student", st.ID, st.Version-1, studentVersion, st)
	if err != nil {
		return model.Student{}, err
	}
	return st, nil
}

func (s *Store) CreateStudent(ctx context.Context, st model.Student) error {
	st.Version = 1
	return create(ctx, s.students, "student", encode(st.ID), st.ID, st)
}

func (s *Store) GetCourse(ctx context.Context, id string) (model.Course, error) {
	defer observe("get_course", time.Now())
	c, _, err := load[model.Course](ctx, s.courses, "course", id)
	return c, err
}

func (s *Store) UpdateCourse(ctx context.Context, c model.Course) (model.Course, error) {
	defer observe("update_course", time.Now())
	c = c.Clone()
	c.Version++
	err := swap(ctx, s.courses, "course", c.ID, c.Version-1, courseVersion, c)
	if err != nil {
		return model.Course{}, err
	}
	return c, nil
}

func (s *Store) CreateCourse(ctx context.Context, c model.Course) error {
	c.Version = 1
	return create(ctx, s.courses, "course", encode(c.ID), c.ID, c)
}

func (s *Store) GetClass(ctx context.Context, id string) (model.Class, error) {
	defer observe("get_class", time.Now())
	c, _, err := load[model.Class](ctx, s.classes, "class", id)
	return c, err
}

func (s *Store) UpdateClass(ctx context.Context, c model.Class) (model.Class, error) {
	defer observe("update_class", time.Now())
	c.Version++
	err := swap(ctx, s.classes, "class", c.ID, c.Version-1, classVersion, c)
	if err != nil {
		return model.Class{}, err
	}
	return c, nil
}

func (s *Store) CreateClass(ctx context.Context, c model.Class) error {
	c.Version = 1
	return create(ctx, s.classes, "class", encode(c.ID), c.ID, c)
}

func (s *Store) InsertFeedback(ctx context.Context, rec model.FeedbackRecord) error {
	defer observe("insert_feedback", time.Now())
	return create(ctx, s.feedback, "feedback", feedbackKey(rec), rec.ID, rec)
}

// FindFeedback watches one key range per class and stops at the end of the
// initial values.
func (s *Store) FindFeedback(ctx context.Context, q repository.FeedbackQuery) ([]model.FeedbackRecord, error) {
	defer observe("find_feedback", time.Now())
	if len(q.ClassIDs) == 0 {
		return nil, fmt.Errorf("no class ids: %w", repository.ErrInvalidQuery)
	}

	out := make([]model.FeedbackRecord, 0)
	for _, classID := range q.ClassIDs {
		pattern := encode(classID) + ".>"
		if q.StudentID != "" {
			pattern = encode(classID) + "." + encode(q.StudentID) + ".*"
		}
		recs, err := s.scan(ctx, pattern)
		if err != nil {
			metrics.RecordStoreError(backend, "find_feedback")
			return nil, err
		}
		for _, r := range recs {
			if q.Matches(r) {
				out = append(out, r)
			}
		}
	}
	repository.SortFeedback(out)
	return out, nil
}

func (s *Store) scan(ctx context.Context, pattern string) ([]model.FeedbackRecord, error) {
	w, err := s.feedback.Watch(ctx, pattern, jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("watch feedback %s: %w", pattern, err)
	}
	defer func() { _ = w.Stop() }()

	var out []model.FeedbackRecord
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-w.Updates():
			if !ok || entry == nil {
				return out, nil
			}
			var rec model.FeedbackRecord
			if err := json.Unmarshal(entry.Value(), &rec); err != nil {
				return nil, fmt.Errorf("decode feedback %s: %w", entry.Key(), err)
			}
			out = append(out, rec)
		}
	}
}
