package mailer

import (
	"context"

	"go.uber.org/zap"

	"github.com/International-Combat-Archery-Alliance/email/v2"
)

// LogTransport writes emails to the logger instead of delivering them.
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) SendEmail(ctx context.Context, e email.Email) error {
	if err := email.Validate(e); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("message_id", e.EnsureMessageID()),
		zap.String("from", e.FromAddress),
		zap.Strings("to", e.ToAddresses),
		zap.String("subject", e.Subject),
	}
	if len(e.CCAddresses) > 0 {
		fields = append(fields, zap.Strings("cc", e.CCAddresses))
	}
	if len(e.BCCAddresses) > 0 {
		fields = append(fields, zap.Strings("bcc", e.BCCAddresses))
	}
	if e.TextBody != "" {
		fields = append(fields, zap.String("text_body", e.TextBody))
	}
	if e.HTMLBody != "" {
		fields = append(fields, zap.String("html_body", e.HTMLBody))
	}
	if len(e.Attachments) > 0 {
		names := make([]string, len(e.Attachments))
		for i, a := range e.Attachments {
			names[i] = a.FileName
		}
		fields = append(fields, zap.Strings("attachments", names))
	}

	t.logger.Info("email sent (log transport)", fields...)
	return nil
}
