// Package mongostore implements repository.Store on MongoDB. Aggregate
// documents are replaced with a filter on their version field.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/okian/cadenza/internal/adapters/repository"
	"github.com/okian/cadenza/internal/domain/model"
	"github.com/okian/cadenza/pkg/metrics"
)

const (
	backend         = "mongo"
	defaultDatabase = "cadenza"
)

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.database = name
		}
	}
}

// Store keeps one collection per document type.
type Store struct {
	client   *mongo.Client
	database string
	students *mongo.Collection
	courses  *mongo.Collection
	classes  *mongo.Collection
	feedback *mongo.Collection
}

// Connect dials uri, pings it and ensures the feedback lookup index.
func Connect(ctx context.Context, uri string, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetAppName("cadenza"))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s, err := New(ctx, client, opts...)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// New binds the collections on client.
func New(ctx context.Context, client *mongo.Client, opts ...Option) (*Store, error) {
	s := &Store{client: client, database: defaultDatabase}
	for _, opt := range opts {
		opt(s)
	}
	db := client.Database(s.database)
	s.students = db.Collection("students")
	s.courses = db.Collection("courses")
	s.classes = db.Collection("classes")
	s.feedback = db.Collection("feedback")

	_, err := s.feedback.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "class_id", Value: 1},
			{Key: "student_id", Value: 1},
			{Key: "category", Value: 1},
			{Key: "created_at", Value: 1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create feedback index: %w", err)
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(backend, op, float64(time.Since(start).Microseconds())/1000)
}

func get[D any](ctx context.Context, coll *mongo.Collection, kind, id string) (D, error) {
	var doc D
	err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return doc, fmt.Errorf("%s %q: %w", kind, id, repository.ErrNotFound)
		}
		metrics.RecordStoreError(backend, "get_"+kind)
		return doc, fmt.Errorf("get %s %q: %w", kind, id, err)
	}
	return doc, nil
}

// replace writes doc when the stored version equals version. A miss is
// resolved into not-found or conflict with a follow-up lookup.
func replace(ctx context.Context, coll *mongo.Collection, kind, id string, version int64, doc any) error {
	res, err := coll.ReplaceOne(ctx, bson.M{"_id": id, "version": version}, doc)
	if err != nil {
		metrics.RecordStoreError(backend, "update_"+kind)
		return fmt.Errorf("update %s %q: %w", kind, id, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("update %s %q: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", kind, id, repository.ErrNotFound)
	}
	metrics.RecordStoreError(backend, "update_"+kind)
	return fmt.Errorf("%s %q at version %d: %w", kind, id, version, repository.ErrConflict)
}

func insert(ctx context.Context, coll *mongo.Collection, kind, id string, doc any) error {
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s %q: %w", kind, id, repository.ErrAlreadyExists)
		}
		metrics.RecordStoreError(backend, "create_"+kind)
		return fmt.Errorf("insert %s %q: %w", kind, id, err)
	}
	return nil
}

func (s *Store) GetStudent(ctx context.Context, id string) (model.Student, error) {
	defer observe("get_student", time.Now())
	d, err := get[studentDoc](ctx, s.students, "student", id)
	if err != nil {
		return model.Student{}, err
	}
	return d.model(), nil
}

func (s *Store) UpdateStudent(ctx context.Context, st model.Student) (model.Student, error) {
	defer observe("update_student", time.Now())
	st = st.Clone()
	st.Version++
	if err := replace(ctx, s.students, "student", st.ID, st.Version-1, toStudentDoc(st)); err != nil {
		return model.Student{}, err
	}
	return st, nil
}

func (s *Store) CreateStudent(ctx context.Context, st model.Student) error {
	st.Version = 1
	return insert(ctx, s.students, "student", st.ID, toStudentDoc(st))
}

func (s *Store) GetCourse(ctx context.Context, id string) (model.Course, error) {
	defer observe("get_course", time.Now())
	d, err := get[courseDoc](ctx, s.courses, "course", id)
	if err != nil {
		return model.Course{}, err
	}
	return d.model(), nil
}

func (s *Store) UpdateCourse(ctx context.Context, c model.Course) (model.Course, error) {
	defer observe("update_course", time.Now())
	c = c.Clone()
	c.Version++
	if err := replace(ctx, s.courses, "course", c.ID, c.Version-1, toCourseDoc(c)); err != nil {
		return model.Course{}, err
	}
	return c, nil
}

func (s *Store) CreateCourse(ctx context.Context, c model.Course) error {
	c.Version = 1
	return insert(ctx, s.courses, "course", c.ID, toCourseDoc(c))
}

func (s *Store) GetClass(ctx context.Context, id string) (model.Class, error) {
	defer observe("get_class", time.Now())
	d, err := get[classDoc](ctx, s.classes, "class", id)
	if err != nil {
		return model.Class{}, err
	}
	return d.model(), nil
}

func (s *Store) UpdateClass(ctx context.Context, c model.Class) (model.Class, error) {
	defer observe("update_class", time.Now())
	c.Version++
	if err := replace(ctx, s.classes, "class", c.ID, c.Version-1, toClassDoc(c)); err != nil {
		return model.Class{}, err
	}
	return c, nil
}

func (s *Store) CreateClass(ctx context.Context, c model.Class) error {
	c.Version = 1
	return insert(ctx, s.classes, "class", c.ID, toClassDoc(c))
}

func (s *Store) InsertFeedback(ctx context.Context, rec model.FeedbackRecord) error {
	defer observe("insert_feedback", time.Now())
	return insert(ctx, s.feedback, "feedback", rec.ID, toFeedbackDoc(rec))
}

func (s *Store) FindFeedback(ctx context.Context, q repository.FeedbackQuery) ([]model.FeedbackRecord, error) {
	defer observe("find_feedback", time.Now())
	if len(q.ClassIDs) == 0 {
		return nil, fmt.Errorf("no class ids: %w", repository.ErrInvalidQuery)
	}

	filter := bson.M{"class_id": bson.M{"$in": q.ClassIDs}}
	if q.StudentID != "" {
		filter["student_id"] = q.StudentID
	}
	if q.Category != "" {
		filter["category"] = string(q.Category)
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := s.feedback.Find(ctx, filter, opts)
	if err != nil {
		metrics.RecordStoreError(backend, "find_feedback")
		return nil, fmt.Errorf("find feedback: %w", err)
	}
	var docs []feedbackDoc
	if err := cursor.All(ctx, &docs); err != nil {
		metrics.RecordStoreError(backend, "find_feedback")
		return nil, fmt.Errorf("decode feedback: %w", err)
	}

	out := make([]model.FeedbackRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}
