package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/International-Combat-Archery-Alliance/email/v2"
	"github.com/International-Combat-Archery-Alliance/email/v2/mailer"
)

const (
	TransportName = "gmail"
	defaultUserID = "me"
)

var _ email.Sender = &GmailSender{}

// MessageSender delivers a raw message on behalf of userID.
type MessageSender interface {
	Send(ctx context.Context, userID string, message *gmail.Message) (*gmail.Message, error)
}

type serviceClient struct {
	service *gmail.Service
}

func (s serviceClient) Send(ctx context.Context, userID string, message *gmail.Message) (*gmail.Message, error) {
	return s.service.Users.Messages.Send(userID, message).Context(ctx).Do()
}

type GmailSender struct {
	client MessageSender
	userID string
	logger *zap.Logger
}

// Config is read from services.gmail.
type Config struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	User            string `mapstructure:"user"`
}

func NewGmailSender(ctx context.Context, credentialsJSON []byte, userEmail string, logger *zap.Logger) (*GmailSender, error) {
	config, err := google.JWTConfigFromJSON(credentialsJSON, gmail.GmailSendScope)
	if err != nil {
		return nil, email.NewValidationError("unable to parse service account credentials", err)
	}

	config.Subject = userEmail

	baseCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})
	service, err := gmail.NewService(ctx, option.WithHTTPClient(config.Client(baseCtx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail client: %w", err)
	}

	return NewGmailSenderWithClient(serviceClient{service: service}, logger), nil
}

func NewGmailSenderWithClient(client MessageSender, logger *zap.Logger) *GmailSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GmailSender{
		client: client,
		userID: defaultUserID,
		logger: logger,
	}
}

// Register adds the "gmail" transport to m, reading service account
// credentials from services.gmail.
func Register(m *mailer.Manager, logger *zap.Logger) {
	m.Extend(TransportName, func(cfg *mailer.Config, _ mailer.MailerConfig) (email.Sender, error) {
		var gc Config
		if err := cfg.DecodeService(TransportName, &gc); err != nil {
			return nil, err
		}

		credentials := []byte(gc.CredentialsJSON)
		if len(credentials) == 0 {
			if gc.CredentialsFile == "" {
				return nil, email.NewValidationError("gmail credentials_file or credentials_json is required", nil)
			}
			data, err := os.ReadFile(gc.CredentialsFile)
			if err != nil {
				return nil, fmt.Errorf("read gmail credentials: %w", err)
			}
			credentials = data
		}

		return NewGmailSender(context.Background(), credentials, gc.User, logger)
	})
}

func (g *GmailSender) SendEmail(ctx context.Context, e email.Email) error {
	if err := email.Validate(e); err != nil {
		return err
	}
	messageID := e.EnsureMessageID()

	raw, err := buildMIME(e)
	if err != nil {
		return email.NewValidationError("failed to create message", err)
	}

	sent, err := g.client.Send(ctx, g.userID, &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	})
	if err != nil {
		g.logger.Warn("gmail send failed", zap.String("message_id", messageID), zap.Error(err))
		return mapGmailError(err)
	}

	var providerID string
	if sent != nil {
		providerID = sent.Id
	}
	g.logger.Debug("gmail accepted email",
		zap.String("message_id", messageID),
		zap.String("provider_message_id", providerID),
	)
	return nil
}

func mapGmailError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		message := strings.ToLower(apiErr.Message)
		switch {
		case apiErr.Code == http.StatusBadRequest:
			if containsAny(message, "recipient", "address") {
				return email.NewInvalidEmailError("invalid email address", err)
			}
			return email.NewValidationError("invalid request parameters", err)
		case apiErr.Code == http.StatusUnauthorized:
			return email.NewUnauthorizedError("authentication failed, check service account credentials", err)
		case apiErr.Code == http.StatusForbidden:
			if strings.Contains(message, "blocked") {
				return email.NewMessageRejectedError("sender blocked by recipient", err)
			}
			return email.NewUnverifiedDomainError("not permitted to send as this user", err)
		case apiErr.Code == http.StatusTooManyRequests:
			return email.NewRateLimitedError("gmail API rate limit exceeded", err)
		case apiErr.Code >= http.StatusInternalServerError:
			return email.NewServiceError(fmt.Sprintf("gmail API error (HTTP %d)", apiErr.Code), err)
		default:
			return email.NewUnknownError(fmt.Sprintf("gmail API error (HTTP %d)", apiErr.Code), err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return email.NewServiceError("request timeout", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return email.NewServiceError("network error", err)
	}

	return email.NewUnknownError("gmail API error", err)
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
