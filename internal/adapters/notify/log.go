package notify

import (
	"context"

	"github.com/okian/cadenza/pkg/logger"
)

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger logger.Logger
}

var _ Sender = (*LogSender)(nil)

// NewLogSender creates a sender logging through l, or the global logger.
func NewLogSender(l logger.Logger) *LogSender {
	if l == nil {
		l = logger.Get().Named("notify")
	}
	return &LogSender{logger: l}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.Info(ctx, "notification",
		logger.String("to", msg.To.Address),
		logger.String("subject", msg.Subject),
		logger.String("category", msg.Category.String()),
	)
	s.logger.Debug(ctx, "notification body", logger.String("text", msg.Text))
	return nil
}
