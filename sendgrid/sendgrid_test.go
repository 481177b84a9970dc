package sendgrid

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/International-Combat-Archery-Alliance/email/v2"
)

type recordedRequest struct {
	method string
	path   string
	header http.Header
	body   map[string]any
}

func newTestServer(t *testing.T, status int, responseBody string, recorded *recordedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
		}
		if recorded != nil {
			recorded.method = r.Method
			recorded.path = r.URL.Path
			recorded.header = r.Header.Clone()
			if err := json.Unmarshal(raw, &recorded.body); err != nil {
				t.Errorf("request body is not json: %v", err)
			}
		}
		w.Header().Set("X-Message-Id", "sg-message-id")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, responseBody)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSender(t *testing.T, baseURL string, options map[string]any) *Sender {
	t.Helper()
	sender, err := NewSender(Config{APIKey: "test", BaseURL: baseURL, Options: options})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return sender
}

func TestSend(t *testing.T) {
	var recorded recordedRequest
	srv := newTestServer(t, http.StatusAccepted, "", &recorded)
	sender := newTestSender(t, srv.URL+"/v3", nil)

	e := email.Email{
		FromAddress:      "myself@example.com",
		ToAddresses:      []string{"me@example.com"},
		BCCAddresses:     []string{"you@example.com"},
		ReplyToAddresses: []string{"reply@example.com"},
		Subject:          "Foo subject",
		HTMLBody:         "Bar body",
	}

	receipt, err := sender.Send(context.Background(), e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receipt.Recipients != 2 {
		t.Errorf("expected 2 recipients, got %d", receipt.Recipients)
	}
	if receipt.ProviderMessageID != "sg-message-id" {
		t.Errorf("unexpected provider message id %q", receipt.ProviderMessageID)
	}
	if receipt.MessageID == "" || !strings.HasSuffix(receipt.MessageID, "@example.com>") {
		t.Errorf("unexpected message id %q", receipt.MessageID)
	}

	if recorded.method != http.MethodPost || recorded.path != "/v3/mail/send" {
		t.Errorf("unexpected request %s %s", recorded.method, recorded.path)
	}
	if got := recorded.header.Get("Authorization"); got != "Bearer test" {
		t.Errorf("unexpected authorization header %q", got)
	}
	if got := recorded.header.Get("Content-Type"); got != "application/json" {
		t.Errorf("unexpected content type %q", got)
	}

	if recorded.body["subject"] != "Foo subject" {
		t.Errorf("unexpected subject in %v", recorded.body)
	}
	headers := recorded.body["headers"].(map[string]any)
	if headers[HeaderMessageID] != receipt.MessageID {
		t.Errorf("expected X-Message-ID %q, got %v", receipt.MessageID, headers)
	}
	content := recorded.body["content"].([]any)
	if len(content) != 1 || content[0].(map[string]any)["type"] != "text/html" {
		t.Errorf("unexpected content %v", content)
	}
	replyTo := recorded.body["reply_to"].(map[string]any)
	if replyTo["email"] != "reply@example.com" {
		t.Errorf("unexpected reply_to %v", replyTo)
	}
}

func TestSendKeepsExplicitMessageID(t *testing.T) {
	var recorded recordedRequest
	srv := newTestServer(t, http.StatusAccepted, "", &recorded)
	sender := newTestSender(t, srv.URL, nil)

	e := email.Email{
		MessageID:   "<fixed@example.com>",
		FromAddress: "from@example.com",
		ToAddresses: []string{"to@example.com"},
		Subject:     "subject",
		TextBody:    "body",
	}

	receipt, err := sender.Send(context.Background(), e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.MessageID != "<fixed@example.com>" {
		t.Errorf("unexpected message id %q", receipt.MessageID)
	}
	if recorded.path != "/mail/send" {
		t.Errorf("expected a trailing slash to be added to the base url, got path %q", recorded.path)
	}
}

func TestSendMergesMailerOptions(t *testing.T) {
	var recorded recordedRequest
	srv := newTestServer(t, http.StatusAccepted, "", &recorded)
	sender := newTestSender(t, srv.URL+"/v3/", map[string]any{
		"tracking_settings": map[string]any{
			"click_tracking": map[string]any{"enable": false},
		},
	})

	err := sender.SendEmail(context.Background(), email.Email{
		FromAddress: "from@example.com",
		ToAddresses: []string{"to@example.com"},
		Subject:     "subject",
		HTMLBody:    "body",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tracking, ok := recorded.body["tracking_settings"].(map[string]any)
	if !ok {
		t.Fatalf("expected tracking_settings in %v", recorded.body)
	}
	click := tracking["click_tracking"].(map[string]any)
	if click["enable"] != false {
		t.Errorf("expected click tracking disabled, got %v", click)
	}
}

func TestSendValidationErrorsSkipRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()
	sender := newTestSender(t, srv.URL, nil)

	err := sender.SendEmail(context.Background(), email.Email{
		FromAddress: "from@example.com",
		CCAddresses: []string{"cc@example.com"},
		Subject:     "subject",
		TextBody:    "body",
	})

	var emailErr *email.Error
	if !errors.As(err, &emailErr) || emailErr.Reason != email.REASON_VALIDATION_ERROR {
		t.Fatalf("expected validation error, got %v", err)
	}
	if called {
		t.Error("expected no request to be made")
	}
}

func TestSendAPIErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		expectedError email.ErrorReason
		wantDetail    string
	}{
		{
			name:          "invalid address",
			status:        http.StatusBadRequest,
			body:          `{"errors":[{"message":"Does not contain a valid address.","field":"personalizations.0.to.0.email","help":null}]}`,
			expectedError: email.REASON_INVALID_EMAIL,
			wantDetail:    "Does not contain a valid address.",
		},
		{
			name:          "bad request",
			status:        http.StatusBadRequest,
			body:          `{"errors":[{"message":"The content value must be a string at least one character in length.","field":"content.0.value"}]}`,
			expectedError: email.REASON_VALIDATION_ERROR,
		},
		{
			name:          "unauthorized",
			status:        http.StatusUnauthorized,
			body:          `{"errors":[{"message":"The provided authorization grant is invalid, expired, or revoked","field":null,"help":null}]}`,
			expectedError: email.REASON_UNAUTHORIZED,
		},
		{
			name:          "forbidden",
			status:        http.StatusForbidden,
			body:          `{"errors":[{"message":"The from address does not match a verified Sender Identity.","field":"from"}]}`,
			expectedError: email.REASON_UNVERIFIED_DOMAIN,
		},
		{
			name:          "too large",
			status:        http.StatusRequestEntityTooLarge,
			expectedError: email.REASON_VALIDATION_ERROR,
		},
		{
			name:          "rate limited",
			status:        http.StatusTooManyRequests,
			body:          "too many requests",
			expectedError: email.REASON_RATE_LIMITED,
			wantDetail:    "too many requests",
		},
		{
			name:          "server error",
			status:        http.StatusInternalServerError,
			expectedError: email.REASON_SERVICE_ERROR,
		},
		{
			name:          "service unavailable",
			status:        http.StatusServiceUnavailable,
			expectedError: email.REASON_SERVICE_ERROR,
		},
		{
			name:          "unexpected status",
			status:        http.StatusNotFound,
			expectedError: email.REASON_UNKNOWN,
		},
	}

	validEmail := email.Email{
		FromAddress: "sender@example.com",
		ToAddresses: []string{"recipient@example.com"},
		Subject:     "Test Subject",
		TextBody:    "Hello World",
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.status, tt.body, nil)
			sender := newTestSender(t, srv.URL, nil)

			err := sender.SendEmail(context.Background(), validEmail)
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var emailErr *email.Error
			if !errors.As(err, &emailErr) {
				t.Fatalf("expected email.Error, got %T", err)
			}
			if emailErr.Reason != tt.expectedError {
				t.Errorf("expected error reason %s, got %s", tt.expectedError, emailErr.Reason)
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected wrapped APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, apiErr.StatusCode)
			}
			if tt.wantDetail != "" && !strings.Contains(apiErr.Error(), tt.wantDetail) {
				t.Errorf("expected %q in %q", tt.wantDetail, apiErr.Error())
			}
		})
	}
}

func TestSendTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender, err := NewSender(Config{APIKey: "test", BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = sender.SendEmail(context.Background(), email.Email{
		FromAddress: "sender@example.com",
		ToAddresses: []string{"recipient@example.com"},
		Subject:     "Test Subject",
		TextBody:    "Hello World",
	})

	var emailErr *email.Error
	if !errors.As(err, &emailErr) {
		t.Fatalf("expected email.Error, got %v", err)
	}
	if emailErr.Reason != email.REASON_SERVICE_ERROR {
		t.Errorf("expected timeout to be a service error, got %s", emailErr.Reason)
	}
}

func TestSendConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sender := newTestSender(t, url, nil)
	err := sender.SendEmail(context.Background(), email.Email{
		FromAddress: "sender@example.com",
		ToAddresses: []string{"recipient@example.com"},
		Subject:     "Test Subject",
		TextBody:    "Hello World",
	})

	var emailErr *email.Error
	if !errors.As(err, &emailErr) || emailErr.Reason != email.REASON_UNKNOWN {
		t.Fatalf("expected unknown error, got %v", err)
	}
}

func TestNewSenderRequiresAPIKey(t *testing.T) {
	_, err := NewSender(Config{APIKey: "  "})

	var emailErr *email.Error
	if !errors.As(err, &emailErr) || emailErr.Reason != email.REASON_VALIDATION_ERROR {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewSenderDefaults(t *testing.T) {
	sender, err := NewSender(Config{APIKey: "key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.endpoint != DefaultBaseURL+"mail/send" {
		t.Errorf("unexpected endpoint %q", sender.endpoint)
	}
	if sender.client.Timeout != DefaultTimeout {
		t.Errorf("unexpected timeout %s", sender.client.Timeout)
	}

	custom := &http.Client{}
	sender, err = NewSender(Config{APIKey: "key"}, WithHTTPClient(custom))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.client != custom {
		t.Error("expected custom http client to be used")
	}
}

func TestSendReceiptCarriesGeneratedMessageID(t *testing.T) {
	var recorded recordedRequest
	srv := newTestServer(t, http.StatusAccepted, "", &recorded)
	sender := newTestSender(t, srv.URL, nil)

	e := email.Email{
		FromAddress: "sender@example.com",
		ToAddresses: []string{"recipient@example.com"},
		Subject:     "Test Subject",
		TextBody:    "Hello World",
	}
	receipt, err := sender.Send(context.Background(), e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.MessageID == "" {
		t.Fatal("expected a generated message id")
	}

	headers, _ := recorded.body["headers"].(map[string]any)
	if headers[HeaderMessageID] != receipt.MessageID {
		t.Errorf("expected header %q to match receipt, got %v", receipt.MessageID, headers[HeaderMessageID])
	}
	if e.MessageID != "" {
		t.Errorf("expected caller's email to be unchanged, got %q", e.MessageID)
	}
}
