package email

import (
	"fmt"
	"net/mail"

	"github.com/google/uuid"
)

const defaultMessageIDDomain = "localhost"

// NewMessageID returns a Message-ID of the form <uuid@domain>, where domain
// is taken from the sender address.
func NewMessageID(from string) string {
	domain := defaultMessageIDDomain
	if a, err := mail.ParseAddress(from); err == nil {
		if d := (Address{Address: a.Address}).Domain(); d != "" {
			domain = d
		}
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// EnsureMessageID sets MessageID when it is blank and returns it.
func (e *Email) EnsureMessageID() string {
	if e.MessageID == "" {
		e.MessageID = NewMessageID(e.FromAddress)
	}
	return e.MessageID
}
