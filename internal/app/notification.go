package service

import (
	"context"
	"errors"
	"net/mail"

	"github.com/okian/cadenza/internal/adapters/notify"
	"github.com/okian/cadenza/internal/domain/model"
	"github.com/okian/cadenza/pkg/logger"
)

// Notifier accepts a notification for delivery. Implementations must not
// block on the actual send.
type Notifier interface {
	Notify(ctx context.Context, p notify.Payload) error
}

// NotificationTrigger builds the notification for a submission and hands it
// off. Failures are logged and never returned.
type NotificationTrigger struct {
	notifier Notifier
	logger   logger.Logger
}

// NewNotificationTrigger creates a trigger over notifier.
func NewNotificationTrigger(notifier Notifier, l logger.Logger) *NotificationTrigger {
	return &NotificationTrigger{notifier: notifier, logger: l}
}

// Trigger reports whether the notification was accepted for delivery.
func (t *NotificationTrigger) Trigger(ctx context.Context, st model.Student, course model.Course, class model.Class, rec model.FeedbackRecord, average float64) bool {
	p := notify.Payload{
		To:                mail.Address{Name: st.Name, Address: st.Email},
		StudentName:       st.Name,
		Category:          rec.Category,
		SubmissionAverage: average,
		PersonalFeedback:  rec.PersonalFeedback,
		ClassTitle:        class.Title,
		CourseTitle:       course.Title,
		Breakdown:         rec.Breakdown(),
		SubmittedAt:       rec.CreatedAt,
	}

	err := t.notifier.Notify(ctx, p)
	switch {
	case err == nil:
		return true
	case errors.Is(err, notify.ErrNoRecipient):
		t.logger.Info(ctx, "student has no email, notification skipped",
			logger.String("student_id", st.ID),
			logger.String("feedback_id", rec.ID),
		)
	default:
		t.logger.Warn(ctx, "notification not queued",
			logger.String("student_id", st.ID),
			logger.String("feedback_id", rec.ID),
			logger.Error(err),
		)
	}
	return false
}
