package loadgen

import (
	"runtime"
	"time"

	"github.com/okian/cadenza/internal/domain/category"
)

// Default configuration constants.
const (
	DefaultBaseURL     = "http://localhost:9080"
	DefaultSubmissions = 1000
	DefaultTimeout     = 30 * time.Second
	defaultWorkerScale = 2
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL     string            // Base URL of the service
	CourseID    string            // Course every submission targets
	Category    category.Category // Feedback category to submit
	StudentIDs  []string          // Students submissions rotate over
	ClassIDs    []string          // Classes of the course to pick from
	Submissions int               // Number of distinct submissions
	ReplayEvery int               // Resend every Nth submission with its idempotency key; 0 disables
	Workers     int               // Number of concurrent workers
	Timeout     time.Duration     // HTTP request timeout
	OutputFile  string            // Output file for generated submissions; empty skips saving
	Verbose     bool              // Log progress while submitting
}

// DefaultConfig returns a config with the tool's defaults. Course, students
// and classes must still be provided.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     DefaultBaseURL,
		Category:    category.Music,
		Submissions: DefaultSubmissions,
		Workers:     runtime.NumCPU() * defaultWorkerScale,
		Timeout:     DefaultTimeout,
	}
}

// Submission is one generated feedback request.
type Submission struct {
	IdempotencyKey   string             `json:"idempotency_key"`
	Category         category.Category  `json:"category"`
	ClassID          string             `json:"class_id"`
	CourseID         string             `json:"course_id"`
	StudentID        string             `json:"student_id"`
	Metrics          map[string]float64 `json:"metrics"`
	NAFields         []string           `json:"na_fields"`
	AttendanceStatus string             `json:"attendance_status"`
	PersonalFeedback string             `json:"personal_feedback"`
}

// Stats holds run statistics.
type Stats struct {
	Generated      int
	Submitted      int
	Successful     int
	Duplicate      int
	Failed         int
	ScoresVerified int
	Mismatches     int
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
}
