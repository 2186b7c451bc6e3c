package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	service "github.com/okian/cadenza/internal/app"
	"github.com/okian/cadenza/internal/adapters/notify"
	"github.com/okian/cadenza/internal/adapters/repository"
	"github.com/okian/cadenza/internal/domain/category"
	"github.com/okian/cadenza/internal/domain/model"
	"github.com/okian/cadenza/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

type fakeNotifier struct {
	mu       sync.Mutex
	payloads []notify.Payload
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, p notify.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.To.Address == "" {
		return notify.ErrNoRecipient
	}
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, p)
	return nil
}

func (f *fakeNotifier) sent() []notify.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Payload(nil), f.payloads...)
}

// tickingClock returns strictly increasing times so record order is stable.
func tickingClock() func() time.Time {
	var n atomic.Int64
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Millisecond)
	}
}

// stallingStore blocks class reads until the caller gives up.
type stallingStore struct {
	repository.Store
}

func (s stallingStore) GetClass(ctx context.Context, _ string) (model.Class, error) {
	<-ctx.Done()
	return model.Class{}, ctx.Err()
}

var musicNA = []string{"theoreticalUnderstanding", "performance", "earTraining", "assignment", "technique"}

func seedStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore(ctx, repository.WithMetricsUpdateInterval(0))
	seed := repository.Seed{
		Students: []repository.SeedStudent{
			{ID: "s1", Name: "Ada", Email: "ada@example.com"},
			{ID: "s2", Name: "Bo"},
		},
		Courses: []repository.SeedCourse{
			{ID: "c1", Title: "Piano I"},
			{ID: "c2", Title: "Sketching"},
			{ID: "c3", Title: "Empty"},
		},
		Classes: []repository.SeedClass{
			{ID: "k1", Title: "Week 1", CourseID: "c1"},
			{ID: "k2", Title: "Week 2", CourseID: "c1"},
			{ID: "k3", Title: "Still life", CourseID: "c2"},
		},
	}
	if _, err := seed.Apply(ctx, store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func newService(t *testing.T, opts ...service.Option) (*service.Service, *repository.MemoryStore) {
	t.Helper()
	store := seedStore(t)
	opts = append([]service.Option{
		service.WithStore(store),
		service.WithClock(tickingClock()),
		service.WithAggregateMaxRetries(32),
	}, opts...)
	svc := service.New(opts...)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		svc.Stop()
		_ = store.Close()
	})
	return svc, store
}

func musicRequest(student, class, course string, rhythm float64) service.SubmitRequest {
	return service.SubmitRequest{
		Category:         "music",
		ClassID:          class,
		CourseID:         course,
		StudentID:        student,
		Metrics:          map[string]any{"rhythm": rhythm},
		NAFields:         musicNA,
		AttendanceStatus: "present",
	}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service that has not been started", t, func() {
		svc := service.New()

		Convey("Then submissions are refused", func() {
			_, err := svc.Submit(context.Background(), musicRequest("s1", "k1", "c1", 5))
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})

		Convey("When it is started with defaults", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			defer svc.Stop()

			Convey("Then it reports itself started", func() {
				So(svc.GetStats()["started"], ShouldEqual, true)
			})

			Convey("And it serves the category registry", func() {
				So(svc.Categories(), ShouldHaveLength, 5)
			})
		})

		Convey("When it is started and stopped", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			svc.Stop()

			Convey("Then it reports itself stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})
}

func TestService_Submit(t *testing.T) {
	Convey("Given a started service with a seeded store", t, func() {
		notifier := &fakeNotifier{}
		svc, store := newService(t, service.WithNotifier(notifier))
		ctx := context.Background()

		Convey("When a music submission mixes numbers, strings, blanks and NA", func() {
			res, err := svc.Submit(ctx, service.SubmitRequest{
				Category:  "Music",
				ClassID:   "k1",
				CourseID:  "c1",
				StudentID: "s1",
				Metrics: map[string]any{
					"rhythm":      8,
					"performance": "6",
					"earTraining": "",
				},
				NAFields:         []string{"technique"},
				AttendanceStatus: "present",
				PersonalFeedback: "Great tempo.",
			})
			So(err, ShouldBeNil)

			Convey("Then blanks and missing keys are zero and NA is kept", func() {
				m := res.Feedback.Metrics
				So(m, ShouldHaveLength, 6)
				So(m["rhythm"], ShouldResemble, model.Score(8))
				So(m["performance"], ShouldResemble, model.Score(6))
				So(m["earTraining"], ShouldResemble, model.Score(0))
				So(m["assignment"], ShouldResemble, model.Score(0))
				So(m["technique"], ShouldResemble, model.NotApplicable())
			})

			Convey("And the submission average counts zeros but not NA", func() {
				So(res.SubmissionAverage, ShouldAlmostEqual, 2.8, 1e-9)
				So(res.Score.Score, ShouldAlmostEqual, 2.8, 1e-9)
			})

			Convey("And the class points at the new record", func() {
				So(res.UpdatedClass.FeedbackID, ShouldEqual, res.Feedback.ID)
				class, err := store.GetClass(ctx, "k1")
				So(err, ShouldBeNil)
				So(class.FeedbackID, ShouldEqual, res.Feedback.ID)
			})

			Convey("And attendance is recorded", func() {
				st, err := store.GetStudent(ctx, "s1")
				So(err, ShouldBeNil)
				So(st.Attendance, ShouldResemble, []model.AttendanceEntry{{ClassID: "k1", Status: "present"}})
			})

			Convey("And the student is notified with the breakdown", func() {
				sent := notifier.sent()
				So(sent, ShouldHaveLength, 1)
				So(sent[0].To.Address, ShouldEqual, "ada@example.com")
				So(sent[0].Category, ShouldEqual, category.Music)
				So(sent[0].CourseTitle, ShouldEqual, "Piano I")
				So(sent[0].ClassTitle, ShouldEqual, "Week 1")
				So(sent[0].Breakdown, ShouldHaveLength, 6)
				So(sent[0].Breakdown[0].Key, ShouldEqual, "rhythm")
			})
		})

		Convey("When two submissions land in different classes of the course", func() {
			_, err := svc.Submit(ctx, musicRequest("s1", "k1", "c1", 6))
			So(err, ShouldBeNil)
			res, err := svc.Submit(ctx, service.SubmitRequest{
				Category:         "music",
				ClassID:          "k2",
				CourseID:         "c1",
				StudentID:        "s1",
				Metrics:          map[string]any{"rhythm": 9, "performance": 3, "earTraining": 3},
				NAFields:         []string{"theoreticalUnderstanding", "assignment", "technique"},
				AttendanceStatus: "late",
			})
			So(err, ShouldBeNil)

			Convey("Then the course score pools every value flat", func() {
				So(res.Score.Score, ShouldAlmostEqual, 5.25, 1e-9)
				So(res.SubmissionAverage, ShouldAlmostEqual, 5.0, 1e-9)
			})

			Convey("And the course holds one entry for the pair", func() {
				course, err := store.GetCourse(ctx, "c1")
				So(err, ShouldBeNil)
				So(course.PerformanceScores, ShouldHaveLength, 1)
				So(course.PerformanceScores[0].Score, ShouldAlmostEqual, 5.25, 1e-9)
			})
		})

		Convey("When the same class is submitted twice", func() {
			_, err := svc.Submit(ctx, musicRequest("s1", "k1", "c1", 4))
			So(err, ShouldBeNil)
			req := musicRequest("s1", "k1", "c1", 8)
			req.AttendanceStatus = "late"
			res, err := svc.Submit(ctx, req)
			So(err, ShouldBeNil)

			Convey("Then attendance keeps one entry with the latest status", func() {
				st, err := store.GetStudent(ctx, "s1")
				So(err, ShouldBeNil)
				So(st.Attendance, ShouldResemble, []model.AttendanceEntry{{ClassID: "k1", Status: "late"}})
			})

			Convey("And both records count toward the score", func() {
				So(res.Score.Score, ShouldAlmostEqual, 6.0, 1e-9)
			})
		})

		Convey("When the notifier fails", func() {
			notifier.err = errors.New("smtp down")
			res, err := svc.Submit(ctx, musicRequest("s1", "k1", "c1", 7))

			Convey("Then the submission still succeeds", func() {
				So(err, ShouldBeNil)
				So(res.Score.Score, ShouldAlmostEqual, 7.0, 1e-9)
				So(svc.GetStats()["notifySkipped"], ShouldEqual, int64(1))
			})
		})

		Convey("When the student has no email", func() {
			_, err := svc.Submit(ctx, musicRequest("s2", "k1", "c1", 7))

			Convey("Then the submission succeeds without a notification", func() {
				So(err, ShouldBeNil)
				So(notifier.sent(), ShouldBeEmpty)
			})
		})
	})
}

func TestService_SubmitRejections(t *testing.T) {
	Convey("Given a started service with a seeded store", t, func() {
		svc, store := newService(t, service.WithNotifier(&fakeNotifier{}))
		ctx := context.Background()

		noWrites := func() {
			recs, err := store.FindFeedback(ctx, repository.FeedbackQuery{ClassIDs: []string{"k1", "k2", "k3"}})
			So(err, ShouldBeNil)
			So(recs, ShouldBeEmpty)
			st, err := store.GetStudent(ctx, "s1")
			So(err, ShouldBeNil)
			So(st.Attendance, ShouldBeEmpty)
		}

		Convey("When an NA key is not in the category", func() {
			req := musicRequest("s1", "k1", "c1", 5)
			req.NAFields = []string{"shading"}
			_, err := svc.Submit(ctx, req)

			Convey("Then it is a bad request rejected before any write", func() {
				So(errors.Is(err, service.ErrBadRequest), ShouldBeTrue)
				So(service.PhaseOf(err), ShouldEqual, service.PhaseRejected)
				noWrites()
			})
		})

		Convey("When the category is unknown", func() {
			req := musicRequest("s1", "k1", "c1", 5)
			req.Category = "juggling"
			_, err := svc.Submit(ctx, req)
			So(errors.Is(err, service.ErrBadRequest), ShouldBeTrue)
			noWrites()
		})

		Convey("When required fields are missing", func() {
			req := musicRequest("", "k1", "c1", 5)
			req.AttendanceStatus = " "
			_, err := svc.Submit(ctx, req)

			Convey("Then every failed field is reported", func() {
				var verr *service.ValidationError
				So(errors.As(err, &verr), ShouldBeTrue)
				So(verr.Fields, ShouldContainKey, "student_id")
				So(verr.Fields, ShouldContainKey, "attendance_status")
				So(errors.Is(err, service.ErrBadRequest), ShouldBeTrue)
			})
		})

		Convey("When the class does not exist", func() {
			_, err := svc.Submit(ctx, musicRequest("s1", "nope", "c1", 5))
			So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
			So(service.PhaseOf(err), ShouldEqual, service.PhaseRejected)
			noWrites()
		})

		Convey("When the course does not exist", func() {
			_, err := svc.Submit(ctx, musicRequest("s1", "k1", "nope", 5))
			So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
			noWrites()
		})

		Convey("When the class belongs to another course", func() {
			_, err := svc.Submit(ctx, musicRequest("s1", "k3", "c1", 5))
			So(errors.Is(err, service.ErrBadRequest), ShouldBeTrue)
			noWrites()
		})

		Convey("When the class is not listed by the course", func() {
			So(store.CreateClass(ctx, model.Class{ID: "orphan", Title: "Loose"}), ShouldBeNil)
			So(store.CreateClass(ctx, model.Class{ID: "k9", Title: "Unlisted", CourseID: "c1"}), ShouldBeNil)

			for _, classID := range []string{"orphan", "k9"} {
				_, err := svc.Submit(ctx, musicRequest("s1", classID, "c1", 9))
				So(errors.Is(err, service.ErrBadRequest), ShouldBeTrue)
				So(service.PhaseOf(err), ShouldEqual, service.PhaseRejected)

				recs, err := store.FindFeedback(ctx, repository.FeedbackQuery{ClassIDs: []string{classID}})
				So(err, ShouldBeNil)
				So(recs, ShouldBeEmpty)
			}
			noWrites()

			course, err := store.GetCourse(ctx, "c1")
			So(err, ShouldBeNil)
			So(course.PerformanceScores, ShouldBeEmpty)
		})

		Convey("When the student does not exist", func() {
			_, err := svc.Submit(ctx, musicRequest("ghost", "k1", "c1", 5))

			Convey("Then it fails in the attendance step with nothing written", func() {
				So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
				So(service.PhaseOf(err), ShouldEqual, service.PhaseValidating)
				noWrites()
			})
		})

		Convey("When the store outlasts the submission timeout", func() {
			slow := service.New(
				service.WithStore(stallingStore{Store: store}),
				service.WithNotifier(&fakeNotifier{}),
				service.WithSubmitTimeout(20*time.Millisecond),
			)
			So(slow.Start(ctx), ShouldBeNil)
			defer slow.Stop()
			_, err := slow.Submit(ctx, musicRequest("s1", "k1", "c1", 5))

			Convey("Then the deadline surfaces and nothing is written", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				noWrites()
			})
		})
	})
}

func TestService_Idempotency(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc, _ := newService(t, service.WithNotifier(&fakeNotifier{}))
		ctx := context.Background()

		Convey("When a keyed submission is replayed", func() {
			req := musicRequest("s1", "k1", "c1", 5)
			req.IdempotencyKey = "abc"
			_, err := svc.Submit(ctx, req)
			So(err, ShouldBeNil)
			_, err = svc.Submit(ctx, req)

			Convey("Then the replay is a duplicate", func() {
				So(errors.Is(err, service.ErrDuplicate), ShouldBeTrue)
				So(svc.GetStats()["duplicates"], ShouldEqual, int64(1))
			})
		})

		Convey("When a keyed submission fails", func() {
			req := musicRequest("s1", "nope", "c1", 5)
			req.IdempotencyKey = "retry-me"
			_, err := svc.Submit(ctx, req)
			So(err, ShouldNotBeNil)

			Convey("Then the key can be reused", func() {
				req.ClassID = "k1"
				_, err := svc.Submit(ctx, req)
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestService_ConcurrentSubmissions(t *testing.T) {
	Convey("Given concurrent submissions for one student and course", t, func() {
		svc, store := newService(t, service.WithNotifier(&fakeNotifier{}))
		ctx := context.Background()

		const n = 8
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				class := "k1"
				if i%2 == 1 {
					class = "k2"
				}
				_, err := svc.Submit(ctx, musicRequest("s1", class, "c1", float64(i+1)))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)

		Convey("Then every submission succeeds", func() {
			for err := range errs {
				So(err, ShouldBeNil)
			}
		})

		Convey("And the stored score includes every contribution", func() {
			course, err := store.GetCourse(ctx, "c1")
			So(err, ShouldBeNil)
			entry, ok := course.ScoreFor("s1", category.Music)
			So(ok, ShouldBeTrue)
			So(entry.Score, ShouldAlmostEqual, 4.5, 1e-9)
			So(course.PerformanceScores, ShouldHaveLength, 1)
		})
	})
}

func TestService_ListFeedback(t *testing.T) {
	Convey("Given feedback from two students in a course", t, func() {
		svc, _ := newService(t, service.WithNotifier(&fakeNotifier{}))
		ctx := context.Background()
		for _, req := range []service.SubmitRequest{
			musicRequest("s1", "k1", "c1", 5),
			musicRequest("s2", "k1", "c1", 6),
			musicRequest("s1", "k2", "c1", 7),
		} {
			_, err := svc.Submit(ctx, req)
			So(err, ShouldBeNil)
		}

		Convey("When filtering by student", func() {
			list, err := svc.ListFeedback(ctx, "c1", "s1")
			So(err, ShouldBeNil)

			Convey("Then filtered is the student's subset of all", func() {
				So(list.All, ShouldHaveLength, 3)
				So(list.Filtered, ShouldHaveLength, 2)
				for _, r := range list.Filtered {
					So(r.StudentID, ShouldEqual, "s1")
					So(list.All, ShouldContain, r)
				}
			})

			Convey("And records are in submission order", func() {
				So(list.All[0].CreatedAt.Before(list.All[1].CreatedAt), ShouldBeTrue)
				So(list.All[1].CreatedAt.Before(list.All[2].CreatedAt), ShouldBeTrue)
			})
		})

		Convey("When no student is given", func() {
			list, err := svc.ListFeedback(ctx, "c1", "")
			So(err, ShouldBeNil)
			So(list.Filtered, ShouldResemble, list.All)
		})

		Convey("When the course has no classes", func() {
			_, err := svc.ListFeedback(ctx, "c3", "")
			So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
		})

		Convey("When the course does not exist", func() {
			_, err := svc.ListFeedback(ctx, "missing", "")
			So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestService_Rescore(t *testing.T) {
	Convey("Given scored submissions in a course", t, func() {
		svc, store := newService(t, service.WithNotifier(&fakeNotifier{}))
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			_, err := svc.Submit(ctx, musicRequest(fmt.Sprintf("s%d", i%2+1), "k1", "c1", float64(2*i+2)))
			So(err, ShouldBeNil)
		}

		Convey("When the stored scores are wiped and rescored", func() {
			course, err := store.GetCourse(ctx, "c1")
			So(err, ShouldBeNil)
			course.PerformanceScores = nil
			_, err = store.UpdateCourse(ctx, course)
			So(err, ShouldBeNil)

			entries, err := svc.Rescore(ctx, "c1")
			So(err, ShouldBeNil)

			Convey("Then every pair is restored", func() {
				So(entries, ShouldHaveLength, 2)
				So(entries[0].StudentID, ShouldEqual, "s1")
				So(entries[0].Score, ShouldAlmostEqual, 4.0, 1e-9)
				So(entries[1].StudentID, ShouldEqual, "s2")
				So(entries[1].Score, ShouldAlmostEqual, 4.0, 1e-9)
			})
		})

		Convey("When the course has no classes", func() {
			_, err := svc.Rescore(ctx, "c3")
			So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestService_DefaultNotifier(t *testing.T) {
	Convey("Given a service using its own dispatcher", t, func() {
		svc, _ := newService(t)

		Convey("When a student without email submits", func() {
			_, err := svc.Submit(context.Background(), musicRequest("s2", "k1", "c1", 3))

			Convey("Then the notification is skipped", func() {
				So(err, ShouldBeNil)
				So(svc.GetStats()["notifySkipped"], ShouldEqual, int64(1))
			})
		})

		Convey("When a student with email submits", func() {
			_, err := svc.Submit(context.Background(), musicRequest("s1", "k1", "c1", 3))

			Convey("Then the notification is queued", func() {
				So(err, ShouldBeNil)
				So(svc.GetStats()["notified"], ShouldEqual, int64(1))
			})
		})
	})
}

// contendedStore loses every course write to a concurrent writer.
type contendedStore struct {
	repository.Store
	attempts atomic.Int64
}

func (s *contendedStore) UpdateCourse(context.Context, model.Course) (model.Course, error) {
	s.attempts.Add(1)
	return model.Course{}, repository.ErrConflict
}

func TestService_AggregateRetriesExhausted(t *testing.T) {
	Convey("Given a store where course writes always conflict", t, func() {
		base := seedStore(t)
		defer base.Close()
		store := &contendedStore{Store: base}
		svc := service.New(
			service.WithStore(store),
			service.WithNotifier(&fakeNotifier{}),
			service.WithAggregateMaxRetries(3),
		)
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()

		_, err := svc.Submit(context.Background(), musicRequest("s1", "k1", "c1", 5))

		Convey("Then the submission fails as unexpected after the feedback write", func() {
			So(errors.Is(err, service.ErrUnexpected), ShouldBeTrue)
			So(errors.Is(err, service.ErrConflict), ShouldBeTrue)
			So(service.PhaseOf(err), ShouldEqual, service.PhaseFeedbackWritten)
			So(store.attempts.Load(), ShouldEqual, int64(4))
		})

		Convey("And the record written before the failure is kept", func() {
			recs, ferr := base.FindFeedback(context.Background(), repository.FeedbackQuery{ClassIDs: []string{"k1"}})
			So(ferr, ShouldBeNil)
			So(recs, ShouldHaveLength, 1)
		})
	})
}
