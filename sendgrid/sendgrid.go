package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/International-Combat-Archery-Alliance/email/v2"
)

const (
	DefaultBaseURL = "https://api.sendgrid.com/v3/"
	DefaultTimeout = 60 * time.Second

	sendPath                = "mail/send"
	responseHeaderMessageID = "X-Message-Id"
	tracerName              = "github.com/International-Combat-Archery-Alliance/email/v2/sendgrid"
)

const maxErrorBodyBytes int64 = 64 << 10

var _ email.Sender = &Sender{}

// Config holds the SendGrid credentials and the per-mailer payload options.
type Config struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Merged into the top level of every payload, e.g. tracking_settings.
	Options map[string]any `mapstructure:"-"`
}

// Receipt describes an accepted send.
type Receipt struct {
	MessageID string
	// Value of SendGrid's X-Message-Id response header.
	ProviderMessageID string
	Recipients        int
}

type Option func(*Sender)

func WithHTTPClient(client *http.Client) Option {
	return func(s *Sender) {
		s.client = client
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Sender) {
		s.logger = logger
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Sender) {
		s.tracer = tp.Tracer(tracerName)
	}
}

type Sender struct {
	apiKey   string
	endpoint string
	options  map[string]any
	client   *http.Client
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewSender(cfg Config, opts ...Option) (*Sender, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, email.NewValidationError("sendgrid api key is required", nil)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	s := &Sender{
		apiKey:   cfg.APIKey,
		endpoint: baseURL + sendPath,
		options:  cfg.Options,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		s.client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return s, nil
}

func (s *Sender) SendEmail(ctx context.Context, e email.Email) error {
	_, err := s.Send(ctx, e)
	return err
}

// Send delivers e with one POST to mail/send.
func (s *Sender) Send(ctx context.Context, e email.Email) (*Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "sendgrid.Send")
	defer span.End()

	e.EnsureMessageID()
	span.SetAttributes(
		attribute.String("email.message_id", e.MessageID),
		attribute.Int("email.recipients", e.RecipientCount()),
	)

	receipt, err := s.send(ctx, e)
	if err != nil {
		var emailErr *email.Error
		if errors.As(err, &emailErr) {
			span.SetAttributes(attribute.String("email.error_reason", string(emailErr.Reason)))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("sendgrid send failed",
			zap.String("message_id", e.MessageID),
			zap.Error(err),
		)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	s.logger.Debug("sendgrid accepted email",
		zap.String("message_id", receipt.MessageID),
		zap.String("provider_message_id", receipt.ProviderMessageID),
		zap.Int("recipients", receipt.Recipients),
	)
	return receipt, nil
}

func (s *Sender) send(ctx context.Context, e email.Email) (*Receipt, error) {
	if err := email.Validate(e); err != nil {
		return nil, err
	}

	payload, err := Extract(e)
	if err != nil {
		return nil, err
	}

	body, err := payload.Encode(s.options)
	if err != nil {
		return nil, email.NewValidationError("failed to encode sendgrid payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, email.NewUnknownError("failed to build sendgrid request", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, categorizeTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, categorizeAPIError(newAPIError(resp))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return &Receipt{
		MessageID:         e.MessageID,
		ProviderMessageID: resp.Header.Get(responseHeaderMessageID),
		Recipients:        e.RecipientCount(),
	}, nil
}

// APIError is a non-2xx response from the SendGrid API.
type APIError struct {
	StatusCode int           `json:"-"`
	Errors     []ErrorDetail `json:"errors"`
	// Raw body when it was not SendGrid's JSON error shape.
	Body string `json:"-"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Help    any    `json:"help,omitempty"`
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		if e.Body != "" {
			return fmt.Sprintf("sendgrid: HTTP %d: %s", e.StatusCode, e.Body)
		}
		return fmt.Sprintf("sendgrid: HTTP %d", e.StatusCode)
	}

	msgs := make([]string, len(e.Errors))
	for i, d := range e.Errors {
		if d.Field != "" {
			msgs[i] = fmt.Sprintf("%s: %s", d.Field, d.Message)
		} else {
			msgs[i] = d.Message
		}
	}
	return fmt.Sprintf("sendgrid: HTTP %d: %s", e.StatusCode, strings.Join(msgs, "; "))
}

func newAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil || len(raw) == 0 {
		return apiErr
	}
	if err := json.Unmarshal(raw, apiErr); err != nil || len(apiErr.Errors) == 0 {
		apiErr.Errors = nil
		apiErr.Body = strings.TrimSpace(string(raw))
	}
	return apiErr
}

// Field path segments SendGrid uses when an address is rejected, e.g.
// "personalizations.0.to.0.email" or "from.email".
var addressFields = map[string]struct{}{
	"email":         {},
	"to":            {},
	"cc":            {},
	"bcc":           {},
	"from":          {},
	"reply_to":      {},
	"reply_to_list": {},
}

func (e *APIError) mentionsAddress() bool {
	for _, d := range e.Errors {
		for _, segment := range strings.Split(strings.ToLower(d.Field), ".") {
			if _, ok := addressFields[segment]; ok {
				return true
			}
		}
	}
	return false
}

func categorizeAPIError(apiErr *APIError) error {
	switch {
	case apiErr.StatusCode == http.StatusBadRequest:
		if apiErr.mentionsAddress() {
			return email.NewInvalidEmailError("invalid email address", apiErr)
		}
		return email.NewValidationError("invalid request parameters", apiErr)
	case apiErr.StatusCode == http.StatusUnauthorized:
		return email.NewUnauthorizedError("authentication failed - check the sendgrid api key", apiErr)
	case apiErr.StatusCode == http.StatusForbidden:
		return email.NewUnverifiedDomainError("sender identity not verified or permission denied", apiErr)
	case apiErr.StatusCode == http.StatusRequestEntityTooLarge:
		return email.NewValidationError("message too large", apiErr)
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return email.NewRateLimitedError("sendgrid rate limit exceeded", apiErr)
	case apiErr.StatusCode >= 500:
		return email.NewServiceError(fmt.Sprintf("sendgrid service error (HTTP %d)", apiErr.StatusCode), apiErr)
	}

	return email.NewUnknownError("failed to send email", apiErr)
}

func categorizeTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return email.NewServiceError("request timeout", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return email.NewServiceError("request timeout", err)
	}
	if errors.Is(err, context.Canceled) {
		return email.NewUnknownError("request canceled", err)
	}
	return email.NewUnknownError("sendgrid request failed", err)
}
