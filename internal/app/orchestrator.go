package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/okian/cadenza/internal/domain/category"
	"github.com/okian/cadenza/internal/domain/model"
	"github.com/okian/cadenza/internal/domain/scoring"
	"github.com/okian/cadenza/pkg/errkind"
	"github.com/okian/cadenza/pkg/logger"
	"github.com/okian/cadenza/pkg/metrics"
)

// Phase is a step of the submission state machine.
type Phase string

// Submission phases in the order they are reached.
const (
	PhaseValidating        Phase = "validating"
	PhaseAttendanceWritten Phase = "attendance_written"
	PhaseFeedbackWritten   Phase = "feedback_written"
	PhaseAggregateWritten  Phase = "aggregate_written"
	PhaseNotified          Phase = "notified"
	PhaseDone              Phase = "done"
	PhaseRejected          Phase = "rejected"
)

// PhaseError reports the last phase a failed submission reached. Writes
// completed before that point are not rolled back.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("submission stopped at %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// PhaseOf returns the phase recorded on err, or "" if there is none.
func PhaseOf(err error) Phase {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase
	}
	return ""
}

// SubmitRequest is one tutor evaluation plus the attendance it implies.
type SubmitRequest struct {
	Category         string         `json:"category" validate:"notblank"`
	ClassID          string         `json:"class_id" validate:"notblank"`
	CourseID         string         `json:"course_id" validate:"notblank"`
	StudentID        string         `json:"student_id" validate:"notblank"`
	Metrics          map[string]any `json:"metrics"`
	NAFields         []string       `json:"na_fields" validate:"omitempty,dive,notblank"`
	AttendanceStatus string         `json:"attendance_status" validate:"notblank,max=32"`
	PersonalFeedback string         `json:"personal_feedback" validate:"max=10000"`

	// IdempotencyKey, when set, rejects replays of the same submission.
	IdempotencyKey string `json:"-"`
}

// SubmitResult is what a successful submission produced.
type SubmitResult struct {
	Feedback          model.FeedbackRecord        `json:"feedback"`
	UpdatedClass      model.Class                 `json:"updated_class"`
	Score             model.PerformanceScoreEntry `json:"score"`
	SubmissionAverage float64                     `json:"submission_average"`
}

type resolved struct {
	category category.Category
	class    model.Class
	course   model.Course
}

// Submit runs a submission through attendance, feedback, aggregate and
// notification in that order. Validation failures are Rejected before any
// write. A later failure ends the submission where it stopped.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	const op = "service.submit"
	if !s.isStarted() {
		return SubmitResult{}, errkind.New(op, ErrNotStarted)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	defer cancel()

	l := s.logger.With(
		logger.String("student_id", req.StudentID),
		logger.String("class_id", req.ClassID),
		logger.String("course_id", req.CourseID),
		logger.String("category", req.Category),
	)
	catLabel := strings.ToLower(strings.TrimSpace(req.Category))

	phase := PhaseValidating
	fail := func(err error) (SubmitResult, error) {
		kind := errkind.KindOf(err)
		if kind == nil {
			kind = ErrUnexpected
			err = errkind.Wrap(op, kind, err)
		}
		if phase == PhaseRejected {
			s.stats.rejected.Add(1)
			metrics.RecordSubmission(catLabel, "rejected")
			l.Info(ctx, "submission rejected", logger.Error(err))
		} else {
			s.stats.failed.Add(1)
			metrics.RecordSubmission(catLabel, "failed")
			metrics.RecordPhaseFailure(string(phase), kind.Error())
			l.Error(ctx, "submission aborted",
				logger.String("phase", string(phase)),
				logger.Error(err),
			)
		}
		return SubmitResult{}, errkind.Op(op, &PhaseError{Phase: phase, Err: err})
	}
	advance := func(next Phase) {
		l.Debug(ctx, "submission phase", logger.String("from", string(phase)), logger.String("to", string(next)))
		phase = next
	}

	if req.IdempotencyKey != "" {
		if s.SeenAndRecord(ctx, req.IdempotencyKey) {
			phase = PhaseRejected
			return fail(errkind.Wrap(op, ErrDuplicate, fmt.Errorf("idempotency key %q", req.IdempotencyKey)))
		}
	}
	ok := false
	defer func() {
		if !ok && req.IdempotencyKey != "" {
			s.Unrecord(context.WithoutCancel(ctx), req.IdempotencyKey)
		}
	}()

	res, err := s.validate(ctx, req)
	if err != nil {
		phase = PhaseRejected
		return fail(err)
	}
	catLabel = res.category.String()

	student, err := s.attendance.RecordAttendance(ctx, req.StudentID, req.ClassID, strings.TrimSpace(req.AttendanceStatus))
	if err != nil {
		return fail(err)
	}
	advance(PhaseAttendanceWritten)

	rec, class, err := s.feedback.Submit(ctx, FeedbackInput{
		StudentID:        req.StudentID,
		ClassID:          req.ClassID,
		Category:         res.category,
		Metrics:          req.Metrics,
		NAFields:         req.NAFields,
		PersonalFeedback: req.PersonalFeedback,
	})
	if err != nil {
		return fail(err)
	}
	advance(PhaseFeedbackWritten)

	entry, err := s.aggregates.Recompute(ctx, req.StudentID, req.CourseID, res.category)
	if err != nil {
		return fail(err)
	}
	advance(PhaseAggregateWritten)

	average := scoring.SubmissionAverage(rec)
	if s.trigger.Trigger(ctx, student, res.course, class, rec, average) {
		s.stats.notified.Add(1)
	} else {
		s.stats.notifySkipped.Add(1)
	}
	advance(PhaseNotified)
	advance(PhaseDone)

	ok = true
	s.stats.submitted.Add(1)
	metrics.RecordSubmission(catLabel, "ok")
	metrics.RecordSubmissionLatency(catLabel, float64(time.Since(start).Milliseconds()))
	l.Info(ctx, "feedback submitted",
		logger.String("feedback_id", rec.ID),
		logger.Float64("score", entry.Score),
		logger.Float64("submission_average", average),
	)

	return SubmitResult{
		Feedback:          rec,
		UpdatedClass:      class,
		Score:             entry,
		SubmissionAverage: average,
	}, nil
}

// validate checks the request and resolves the class and course. It only
// reads.
func (s *Service) validate(ctx context.Context, req SubmitRequest) (resolved, error) {
	const op = "service.validate_submission"
	if err := s.validator.Struct(req); err != nil {
		return resolved{}, errkind.Wrap(op, ErrBadRequest, err)
	}

	cat, err := category.Parse(req.Category)
	if err != nil {
		return resolved{}, errkind.Wrap(op, ErrBadRequest, err)
	}
	schema, err := category.Lookup(cat)
	if err != nil {
		return resolved{}, errkind.Wrap(op, ErrBadRequest, err)
	}
	for _, k := range req.NAFields {
		if !schema.Has(k) {
			return resolved{}, errkind.Wrap(op, ErrBadRequest, fmt.Errorf("%w: %q", scoring.ErrUnknownNAField, k))
		}
	}

	class, err := s.store.GetClass(ctx, req.ClassID)
	if err != nil {
		return resolved{}, errkind.Wrap(op, storeKind(err), fmt.Errorf("class %q: %w", req.ClassID, err))
	}
	course, err := s.store.GetCourse(ctx, req.CourseID)
	if err != nil {
		return resolved{}, errkind.Wrap(op, storeKind(err), fmt.Errorf("course %q: %w", req.CourseID, err))
	}
	if class.CourseID != "" && class.CourseID != course.ID {
		return resolved{}, errkind.Wrap(op, ErrBadRequest,
			fmt.Errorf("class %q belongs to course %q, not %q", class.ID, class.CourseID, course.ID))
	}
	if len(course.ClassIDs) == 0 {
		return resolved{}, errkind.Wrap(op, ErrNotFound, fmt.Errorf("course %q: %w", course.ID, errNoClasses))
	}
	// Aggregates and queries are scoped by the course's class list.
	if !slices.Contains(course.ClassIDs, class.ID) {
		return resolved{}, errkind.Wrap(op, ErrBadRequest,
			fmt.Errorf("class %q is not part of course %q", class.ID, course.ID))
	}

	return resolved{category: cat, class: class, course: course}, nil
}
