package email

import (
	"context"

	"github.com/dripline/dripline/internal/logger"
	"github.com/google/uuid"
)

// LogSender writes messages to the log instead of a gateway.
// Used for local development when email.provider is "log".
type LogSender struct {
	log *logger.Logger
}

// NewLogSender creates a new LogSender.
func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log.WithComponent("log_sender")}
}

// Send logs msg and returns a synthetic message ID.
func (s *LogSender) Send(ctx context.Context, msg Message) (string, error) {
	id := "log-" + uuid.New().String()
	s.log.Info().
		Str("message_id", id).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Interface("headers", msg.Headers).
		Int("html_bytes", len(msg.HTMLBody)).
		Msg("email not sent (log provider)")
	return id, nil
}
