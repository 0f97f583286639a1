// Package mailer delivers account emails.
package mailer

import (
	"context"

	"github.com/callfairy/callfairy/pkg/callfairy/logging"
	"go.uber.org/zap"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends a single message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogMailer{log: log.Named("mailer")}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	logging.FromContext(ctx, m.log).Info("email queued",
		zap.String("to", logging.MaskEmail(msg.To)),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body))
	return nil
}
