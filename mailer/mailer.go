package mailer

import (
	"context"

	"github.com/International-Combat-Archery-Alliance/email/v2"
)

// BeforeSendFunc may modify the email before it reaches the transport.
type BeforeSendFunc func(ctx context.Context, mailer string, e *email.Email) error

// AfterSendFunc observes the outcome of a send. err is nil on success.
type AfterSendFunc func(ctx context.Context, mailer string, e email.Email, err error)

var _ email.Sender = &Mailer{}

// Mailer is a named, configured transport.
type Mailer struct {
	name    string
	sender  email.Sender
	from    string
	manager *Manager
}

func (ml *Mailer) Name() string {
	return ml.name
}

// From is the address used when an email has none.
func (ml *Mailer) From() string {
	return ml.from
}

// Transport returns the underlying sender, e.g. to reach an
// *ArrayTransport in tests.
func (ml *Mailer) Transport() email.Sender {
	return ml.sender
}

// SendEmail fills the default From address, runs the manager's hooks and
// hands the email to the transport.
func (ml *Mailer) SendEmail(ctx context.Context, e email.Email) error {
	if e.FromAddress == "" {
		e.FromAddress = ml.from
	}

	before, after := ml.manager.hooks()
	for _, fn := range before {
		if err := fn(ctx, ml.name, &e); err != nil {
			return err
		}
	}

	err := ml.sender.SendEmail(ctx, e)

	for _, fn := range after {
		fn(ctx, ml.name, e, err)
	}

	return err
}
