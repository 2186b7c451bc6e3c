// Package notify renders feedback notifications and delivers them in the
// background.
package notify

import (
	"context"
	"net/mail"
	"time"

	"github.com/okian/cadenza/internal/domain/category"
	"github.com/okian/cadenza/internal/domain/model"
)

// Payload is everything a feedback notification shows.
type Payload struct {
	To                mail.Address
	StudentName       string
	Category          category.Category
	SubmissionAverage float64
	PersonalFeedback  string
	ClassTitle        string
	CourseTitle       string
	Breakdown         []model.MetricLine
	SubmittedAt       time.Time
}

// Message is a rendered notification.
type Message struct {
	To       mail.Address
	Subject  string
	Text     string
	HTML     string
	Category category.Category
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
