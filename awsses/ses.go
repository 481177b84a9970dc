package awsses

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/International-Combat-Archery-Alliance/email/v2"
	"github.com/International-Combat-Archery-Alliance/email/v2/mailer"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

const TransportName = "ses"

var _ email.Sender = &AWSSESSender{}

type SESClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type AWSSESSender struct {
	sesClient SESClient
	logger    *zap.Logger
}

func NewAWSSESSender(client SESClient, logger *zap.Logger) *AWSSESSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AWSSESSender{
		sesClient: client,
		logger:    logger,
	}
}

// Register adds the "ses" transport to m. Every mailer using it shares
// client.
func Register(m *mailer.Manager, client SESClient, logger *zap.Logger) {
	m.Extend(TransportName, func(*mailer.Config, mailer.MailerConfig) (email.Sender, error) {
		return NewAWSSESSender(client, logger), nil
	})
}

func (a *AWSSESSender) SendEmail(ctx context.Context, e email.Email) error {
	if err := email.Validate(e); err != nil {
		return err
	}
	messageID := e.EnsureMessageID()

	out, err := a.sesClient.SendEmail(ctx, &sesv2.SendEmailInput{
		Content: &types.EmailContent{
			Simple: &types.Message{
				Body: &types.Body{
					Html: htmlContentFromEmail(e),
					Text: textContentFromEmail(e),
				},
				Subject:     utf8Content(e.Subject),
				Attachments: attachmentsToAWS(e.Attachments),
				Headers:     headersToAWS(e),
			},
		},
		Destination: &types.Destination{
			ToAddresses:  e.ToAddresses,
			CcAddresses:  e.CCAddresses,
			BccAddresses: e.BCCAddresses,
		},
		FromEmailAddress: aws.String(e.FromAddress),
		ReplyToAddresses: e.ReplyToAddresses,
	})

	if err != nil {
		a.logger.Warn("ses send failed", zap.String("message_id", messageID), zap.Error(err))
		return categorizeAWSError(err)
	}

	var providerID string
	if out != nil {
		providerID = aws.ToString(out.MessageId)
	}
	a.logger.Debug("ses accepted email",
		zap.String("message_id", messageID),
		zap.String("provider_message_id", providerID),
	)
	return nil
}

func attachmentsToAWS(attachments []email.Attachment) []types.Attachment {
	if len(attachments) == 0 {
		return nil
	}

	awsAttachments := make([]types.Attachment, len(attachments))
	for i, a := range attachments {
		awsAttachments[i] = attachmentToAWS(a)
	}

	return awsAttachments
}

func attachmentToAWS(attachment email.Attachment) types.Attachment {
	a := types.Attachment{
		FileName:           aws.String(attachment.FileName),
		RawContent:         attachment.Content,
		ContentDisposition: types.AttachmentContentDispositionAttachment,
	}
	if attachment.ContentType != "" {
		a.ContentType = aws.String(attachment.ContentType)
	}
	if attachment.Description != "" {
		a.ContentDescription = aws.String(attachment.Description)
	}
	if attachment.DispositionOrDefault() == email.DispositionInline {
		a.ContentDisposition = types.AttachmentContentDispositionInline
	}
	if attachment.ContentID != "" {
		a.ContentId = aws.String(attachment.ContentID)
	}
	return a
}

// Headers SES builds from the request itself.
var managedHeaders = map[string]struct{}{
	"x-message-id":              {},
	"to":                        {},
	"from":                      {},
	"cc":                        {},
	"bcc":                       {},
	"subject":                   {},
	"reply-to":                  {},
	"content-type":              {},
	"content-transfer-encoding": {},
	"mime-version":              {},
}

// headersToAWS carries the message id and custom headers, sorted by name
// so requests are deterministic.
func headersToAWS(e email.Email) []types.MessageHeader {
	names := make([]string, 0, len(e.Headers))
	for name, value := range e.Headers {
		if _, managed := managedHeaders[strings.ToLower(name)]; value != "" && !managed {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	headers := []types.MessageHeader{{
		Name:  aws.String("X-Message-ID"),
		Value: aws.String(e.MessageID),
	}}
	for _, name := range names {
		headers = append(headers, types.MessageHeader{
			Name:  aws.String(name),
			Value: aws.String(e.Headers[name]),
		})
	}
	return headers
}

func htmlContentFromEmail(e email.Email) *types.Content {
	if e.HTMLBody == "" {
		return nil
	}

	return utf8Content(e.HTMLBody)
}

func textContentFromEmail(e email.Email) *types.Content {
	if e.TextBody == "" {
		return nil
	}

	return utf8Content(e.TextBody)
}

func utf8Content(s string) *types.Content {
	return &types.Content{
		Data:    aws.String(s),
		Charset: aws.String("UTF-8"),
	}
}

func categorizeAWSError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "LimitExceededException":
			return email.NewRateLimitedError("sending rate limit exceeded", err)
		case "MessageRejected":
			return email.NewMessageRejectedError("message rejected by SES", err)
		case "MailFromDomainNotVerifiedException":
			return email.NewUnverifiedDomainError("sender domain not verified", err)
		case "InvalidParameterValueException", "BadRequestException":
			return email.NewInvalidEmailError("invalid email parameter", err)
		case "AccessDeniedException", "UnrecognizedClientException":
			return email.NewUnauthorizedError("not authorized to send with SES", err)
		case "ServiceUnavailableException", "InternalServiceErrorException":
			return email.NewServiceError("AWS SES service error", err)
		}
	}

	return email.NewUnknownError("failed to send email", err)
}
