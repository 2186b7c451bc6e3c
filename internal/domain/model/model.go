// Package model contains domain models passed between layers.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/okian/cadenza/internal/domain/category"
)

// naLiteral is the wire form of a not-applicable metric.
const naLiteral = "NA"

// MetricValue is either a numeric score or NA.
type MetricValue struct {
	Value float64
	NA    bool
}

// NotApplicable returns the NA marker.
func NotApplicable() MetricValue { return MetricValue{NA: true} }

// Score returns a numeric metric value.
func Score(v float64) MetricValue { return MetricValue{Value: v} }

// MarshalJSON encodes NA as the string "NA" and scores as numbers.
func (m MetricValue) MarshalJSON() ([]byte, error) {
	if m.NA {
		return []byte(`"` + naLiteral + `"`), nil
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON accepts "NA" or a JSON number.
func (m *MetricValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte(`"`+naLiteral+`"`)) {
		*m = NotApplicable()
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("metric value must be a number or %q: %w", naLiteral, err)
	}
	*m = Score(v)
	return nil
}

// FeedbackRecord is one immutable, scored evaluation.
type FeedbackRecord struct {
	ID               string                 `json:"id"`
	StudentID        string                 `json:"student_id"`
	ClassID          string                 `json:"class_id"`
	Category         category.Category      `json:"category"`
	Metrics          map[string]MetricValue `json:"metrics"`
	NAFields         []string               `json:"na_fields"`
	PersonalFeedback string                 `json:"personal_feedback"`
	CreatedAt        time.Time              `json:"created_at"`
}

// orderedKeys returns the registry order for the record's category, falling
// back to sorted map keys for categories the registry no longer knows.
func (r FeedbackRecord) orderedKeys() []string {
	if keys := category.MetricKeysFor(r.Category); keys != nil {
		return keys
	}
	keys := make([]string, 0, len(r.Metrics))
	for k := range r.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidValues returns the record's non-NA values in metric-key order.
func (r FeedbackRecord) ValidValues() []float64 {
	out := make([]float64, 0, len(r.Metrics))
	for _, k := range r.orderedKeys() {
		v, ok := r.Metrics[k]
		if !ok || v.NA {
			continue
		}
		out = append(out, v.Value)
	}
	return out
}

// Breakdown returns one line per metric key in registry order.
func (r FeedbackRecord) Breakdown() []MetricLine {
	keys := r.orderedKeys()
	out := make([]MetricLine, 0, len(keys))
	for _, k := range keys {
		v, ok := r.Metrics[k]
		if !ok {
			continue
		}
		out = append(out, MetricLine{Key: k, Value: v})
	}
	return out
}

// Clone returns a deep copy.
func (r FeedbackRecord) Clone() FeedbackRecord {
	c := r
	if r.Metrics != nil {
		c.Metrics = make(map[string]MetricValue, len(r.Metrics))
		for k, v := range r.Metrics {
			c.Metrics[k] = v
		}
	}
	c.NAFields = slices.Clone(r.NAFields)
	return c
}

// MetricLine is one metric of a record in display order.
type MetricLine struct {
	Key   string      `json:"key"`
	Value MetricValue `json:"value"`
}

// AttendanceEntry is the attendance status of a student for one class.
type AttendanceEntry struct {
	ClassID string `json:"class_id"`
	Status  string `json:"status"`
}

// Student is the subset of the student aggregate this service reads and writes.
type Student struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Email      string            `json:"email"`
	Attendance []AttendanceEntry `json:"attendance"`
	Version    int64             `json:"version"`
}

// SetAttendance overwrites the entry for classID or appends one. It returns
// true when a new entry was appended.
func (s *Student) SetAttendance(classID, status string) bool {
	for i := range s.Attendance {
		if s.Attendance[i].ClassID == classID {
			s.Attendance[i].Status = status
			return false
		}
	}
	s.Attendance = append(s.Attendance, AttendanceEntry{ClassID: classID, Status: status})
	return true
}

// Clone returns a deep copy.
func (s Student) Clone() Student {
	c := s
	c.Attendance = slices.Clone(s.Attendance)
	return c
}

// PerformanceScoreEntry is the materialized pooled score of one student in a
// course for one category.
type PerformanceScoreEntry struct {
	StudentID  string            `json:"student_id"`
	Category   category.Category `json:"category"`
	Score      float64           `json:"score"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// Course is the subset of the course aggregate this service reads and writes.
type Course struct {
	ID                string                  `json:"id"`
	Title             string                  `json:"title"`
	ClassIDs          []string                `json:"class_ids"`
	PerformanceScores []PerformanceScoreEntry `json:"performance_scores"`
	Version           int64                   `json:"version"`
}

// UpsertScore overwrites the entry for (StudentID, Category) or appends one.
// It returns true when a new entry was appended.
func (c *Course) UpsertScore(e PerformanceScoreEntry) bool {
	for i := range c.PerformanceScores {
		cur := &c.PerformanceScores[i]
		if cur.StudentID == e.StudentID && cur.Category == e.Category {
			cur.Score = e.Score
			cur.RecordedAt = e.RecordedAt
			return false
		}
	}
	c.PerformanceScores = append(c.PerformanceScores, e)
	return true
}

// ScoreFor returns the entry for (studentID, cat).
func (c Course) ScoreFor(studentID string, cat category.Category) (PerformanceScoreEntry, bool) {
	for _, e := range c.PerformanceScores {
		if e.StudentID == studentID && e.Category == cat {
			return e, true
		}
	}
	return PerformanceScoreEntry{}, false
}

// Clone returns a deep copy.
func (c Course) Clone() Course {
	out := c
	out.ClassIDs = slices.Clone(c.ClassIDs)
	out.PerformanceScores = slices.Clone(c.PerformanceScores)
	return out
}

// Class is the subset of the class entity this service reads and writes.
type Class struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	CourseID string `json:"course_id"`
	// FeedbackID points at the most recent submission only.
	FeedbackID string `json:"feedback_id"`
	Version    int64  `json:"version"`
}
