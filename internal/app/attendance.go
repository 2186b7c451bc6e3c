package service

import (
	"context"

	"github.com/okian/cadenza/internal/adapters/repository"
	"github.com/okian/cadenza/internal/domain/model"
	"github.com/okian/cadenza/pkg/errkind"
)

// AttendanceTracker keeps one attendance entry per class on the student.
type AttendanceTracker struct {
	store      repository.Store
	maxRetries int
}

// NewAttendanceTracker creates a tracker over store.
func NewAttendanceTracker(store repository.Store, maxRetries int) *AttendanceTracker {
	return &AttendanceTracker{store: store, maxRetries: maxRetries}
}

// RecordAttendance sets the student's status for classID, overwriting an
// existing entry for that class.
func (a *AttendanceTracker) RecordAttendance(ctx context.Context, studentID, classID, status string) (model.Student, error) {
	const op = "service.record_attendance"
	var out model.Student
	err := retryOnConflict(ctx, a.maxRetries, "student", func() error {
		st, err := a.store.GetStudent(ctx, studentID)
		if err != nil {
			return err
		}
		st.SetAttendance(classID, status)
		out, err = a.store.UpdateStudent(ctx, st)
		return err
	})
	if err != nil {
		return model.Student{}, errkind.Wrap(op, storeKind(err), err)
	}
	return out, nil
}
