package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltmpl "html/template"
	"strings"
	texttmpl "text/template"
	"unicode"

	"github.com/okian/cadenza/internal/domain/category"
)

//go:embed templates/*
var templateFS embed.FS

var (
	textTemplates = texttmpl.Must(texttmpl.New("feedback").Option("missingkey=error").ParseFS(templateFS, "templates/feedback.txt"))
	htmlTemplates = htmltmpl.Must(htmltmpl.New("feedback").Option("missingkey=error").ParseFS(templateFS, "templates/feedback.gohtml"))
)

type categoryCopy struct {
	subject string
	intro   string
}

var copyByCategory = map[category.Category]categoryCopy{
	category.Music:   {"Music lesson feedback", "Your tutor has shared feedback on your latest music lesson."},
	category.Drawing: {"Drawing lesson feedback", "Your tutor has reviewed your latest drawing session."},
	category.Drums:   {"Drums lesson feedback", "Your tutor has shared notes from your latest drums lesson."},
	category.Violin:  {"Violin lesson feedback", "Your tutor has shared feedback on your latest violin lesson."},
	category.Vocal:   {"Vocal lesson feedback", "Your tutor has shared feedback on your latest vocal lesson."},
}

type line struct {
	Label string
	Value string
}

type view struct {
	StudentName      string
	Intro            string
	CourseTitle      string
	ClassTitle       string
	SubmittedAt      string
	Average          string
	Lines            []line
	PersonalFeedback string
}

// Render builds the subject and both bodies for p.
func Render(p Payload) (Message, error) {
	c, ok := copyByCategory[p.Category]
	if !ok {
		return Message{}, fmt.Errorf("%w: no copy for category %q", ErrRender, p.Category)
	}

	v := view{
		StudentName:      p.StudentName,
		Intro:            c.intro,
		CourseTitle:      p.CourseTitle,
		ClassTitle:       p.ClassTitle,
		SubmittedAt:      p.SubmittedAt.UTC().Format("2006-01-02 15:04 MST"),
		Average:          fmt.Sprintf("%.1f", p.SubmissionAverage),
		PersonalFeedback: strings.TrimSpace(p.PersonalFeedback),
	}
	if v.StudentName == "" {
		v.StudentName = "there"
	}
	for _, l := range p.Breakdown {
		value := "N/A"
		if !l.Value.NA {
			value = fmt.Sprintf("%.1f", l.Value.Value)
		}
		v.Lines = append(v.Lines, line{Label: Humanize(l.Key), Value: value})
	}

	var text, html bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&text, "text", v); err != nil {
		return Message{}, fmt.Errorf("%w: text: %w", ErrRender, err)
	}
	if err := htmlTemplates.ExecuteTemplate(&html, "html", v); err != nil {
		return Message{}, fmt.Errorf("%w: html: %w", ErrRender, err)
	}

	subject := c.subject
	if p.ClassTitle != "" {
		subject += ": " + p.ClassTitle
	}
	return Message{
		To:       p.To,
		Subject:  subject,
		Text:     text.String(),
		HTML:     html.String(),
		Category: p.Category,
	}, nil
}

// Humanize turns a camelCase metric key into a sentence-case label.
func Humanize(key string) string {
	var b strings.Builder
	for i, r := range key {
		switch {
		case i == 0:
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsUpper(r):
			b.WriteRune(' ')
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
