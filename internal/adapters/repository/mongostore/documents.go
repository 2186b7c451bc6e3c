package mongostore

import (
	"time"

	"github.com/okian/cadenza/internal/domain/category"
	"github.com/okian/cadenza/internal/domain/model"
)

type attendanceDoc struct {
	ClassID string `bson:"class_id"`
	Status  string `bson:"status"`
}

type studentDoc struct {
	ID         string          `bson:"_id"`
	Name       string          `bson:"name"`
	Email      string          `bson:"email"`
	Attendance []attendanceDoc `bson:"attendance"`
	Version    int64           `bson:"version"`
}

func toStudentDoc(s model.Student) studentDoc {
	d := studentDoc{ID: s.ID, Name: s.Name, Email: s.Email, Version: s.Version}
	d.Attendance = make([]attendanceDoc, 0, len(s.Attendance))
	for _, a := range s.Attendance {
		d.Attendance = append(d.Attendance, attendanceDoc(a))
	}
	return d
}

func (d studentDoc) model() model.Student {
	s := model.Student{ID: d.ID, Name: d.Name, Email: d.Email, Version: d.Version}
	for _, a := range d.Attendance {
		s.Attendance = append(s.Attendance, model.AttendanceEntry(a))
	}
	return s
}

type scoreDoc struct {
	StudentID  string    `bson:"student_id"`
	Category   string    `bson:"category"`
	Score      float64   `bson:"score"`
	RecordedAt time.Time `bson:"recorded_at"`
}

type courseDoc struct {
	ID                string     `bson:"_id"`
	Title             string     `bson:"title"`
	ClassIDs          []string   `bson:"class_ids"`
	PerformanceScores []scoreDoc `bson:"performance_scores"`
	Version           int64      `bson:"version"`
}

func toCourseDoc(c model.Course) courseDoc {
	d := courseDoc{ID: c.ID, Title: c.Title, ClassIDs: c.ClassIDs, Version: c.Version}
	if d.ClassIDs == nil {
		d.ClassIDs = []string{}
	}
	d.PerformanceScores = make([]scoreDoc, 0, len(c.PerformanceScores))
	for _, e := range c.PerformanceScores {
		d.PerformanceScores = append(d.PerformanceScores, scoreDoc{
			StudentID: e.StudentID, Category: string(e.Category), Score: e.Score, RecordedAt: e.RecordedAt,
		})
	}
	return d
}

func (d courseDoc) model() model.Course {
	c := model.Course{ID: d.ID, Title: d.Title, ClassIDs: d.ClassIDs, Version: d.Version}
	for _, e := range d.PerformanceScores {
		c.PerformanceScores = append(c.PerformanceScores, model.PerformanceScoreEntry{
			StudentID: e.StudentID, Category: category.Category(e.Category), Score: e.Score, RecordedAt: e.RecordedAt,
		})
	}
	return c
}

type classDoc struct {
	ID         string `bson:"_id"`
	Title      string `bson:"title"`
	CourseID   string `bson:"course_id"`
	FeedbackID string `bson:"feedback_id"`
	Version    int64  `bson:"version"`
}

func toClassDoc(c model.Class) classDoc { return classDoc(c) }

func (d classDoc) model() model.Class { return model.Class(d) }

type metricDoc struct {
	Value float64 `bson:"value"`
	NA    bool    `bson:"na"`
}

type feedbackDoc struct {
	ID               string               `bson:"_id"`
	StudentID        string               `bson:"student_id"`
	ClassID          string               `bson:"class_id"`
	Category         string               `bson:"category"`
	Metrics          map[string]metricDoc `bson:"metrics"`
	NAFields         []string             `bson:"na_fields"`
	PersonalFeedback string               `bson:"personal_feedback"`
	CreatedAt        time.Time            `bson:"created_at"`
}

func toFeedbackDoc(r model.FeedbackRecord) feedbackDoc {
	d := feedbackDoc{
		ID: r.ID, StudentID: r.StudentID, ClassID: r.ClassID, Category: string(r.Category),
		NAFields: r.NAFields, PersonalFeedback: r.PersonalFeedback, CreatedAt: r.CreatedAt,
		Metrics: make(map[string]metricDoc, len(r.Metrics)),
	}
	if d.NAFields == nil {
		d.NAFields = []string{}
	}
	for k, v := range r.Metrics {
		d.Metrics[k] = metricDoc(v)
	}
	return d
}

func (d feedbackDoc) model() model.FeedbackRecord {
	r := model.FeedbackRecord{
		ID: d.ID, StudentID: d.StudentID, ClassID: d.ClassID, Category: category.Category(d.Category),
		NAFields: d.NAFields, PersonalFeedback: d.PersonalFeedback, CreatedAt: d.CreatedAt,
		Metrics: make(map[string]model.MetricValue, len(d.Metrics)),
	}
	for k, v := range d.Metrics {
		r.Metrics[k] = model.MetricValue(v)
	}
	return r
}
