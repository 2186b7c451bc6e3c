package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"
)

// SendGridOption applies a configuration option to the SendGridSender.
type SendGridOption func(*SendGridSender)

// WithSendGridHost overrides the API host.
func WithSendGridHost(host string) SendGridOption {
	return func(s *SendGridSender) {
		if host != "" {
			s.host = host
		}
	}
}

// WithSubjectPrefix sets a prefix for every subject line.
func WithSubjectPrefix(prefix string) SendGridOption {
	return func(s *SendGridSender) { s.subjPrefix = prefix }
}

// SendGridSender delivers messages through the SendGrid v3 mail API.
type SendGridSender struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	host       string
}

var _ Sender = (*SendGridSender)(nil)

// NewSendGridSender creates a sender authenticated with key.
func NewSendGridSender(key string, from mail.Address, opts ...SendGridOption) *SendGridSender {
	s := &SendGridSender{
		key:        key,
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: "[" + from.Name + "] ",
		host:       sendGridHost,
	}
	if from.Name == "" {
		s.subjPrefix = ""
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SendGridSender) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.To.Name, msg.To.Address))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(
		sgmail.NewContent("text/plain", msg.Text),
		sgmail.NewContent("text/html", msg.HTML),
	)
	m.AddCategories(string(msg.Category))
	return m
}

// Send posts msg and treats any 4xx/5xx as failure.
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	req := sendgrid.GetRequest(s.key, sendGridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: sendgrid status %d: %s", ErrSend, res.StatusCode, res.Body)
	}
	return nil
}
