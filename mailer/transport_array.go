package mailer

import (
	"context"
	"sync"

	"github.com/International-Combat-Archery-Alliance/email/v2"
)

// ArrayTransport keeps sent emails in memory.
type ArrayTransport struct {
	mu   sync.Mutex
	sent []email.Email
}

func NewArrayTransport() *ArrayTransport {
	return &ArrayTransport{}
}

func (t *ArrayTransport) SendEmail(ctx context.Context, e email.Email) error {
	if err := email.Validate(e); err != nil {
		return err
	}
	e.EnsureMessageID()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, e)
	return nil
}

// Sent returns a copy of every email accepted so far.
func (t *ArrayTransport) Sent() []email.Email {
	t.mu.Lock()
	defer t.mu.Unlock()
	res := make([]email.Email, len(t.sent))
	copy(res, t.sent)
	return res
}

func (t *ArrayTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}
