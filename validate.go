package email

import (
	"fmt"
	"net/mail"
)

// Validate checks the fields every transport needs before it talks to a
// provider. Failures are returned as *Error.
func Validate(e Email) error {
	if e.FromAddress == "" {
		return NewValidationError("from address is required", nil)
	}

	if _, err := mail.ParseAddress(e.FromAddress); err != nil {
		return NewInvalidEmailError("invalid from address format", err)
	}

	if e.RecipientCount() == 0 {
		return NewValidationError("at least one recipient is required", nil)
	}

	for _, list := range [][]string{e.ToAddresses, e.CCAddresses, e.BCCAddresses, e.ReplyToAddresses} {
		for _, addr := range list {
			if _, err := mail.ParseAddress(addr); err != nil {
				return NewInvalidEmailError(fmt.Sprintf("invalid recipient address: %s", addr), err)
			}
		}
	}

	if e.Subject == "" {
		return NewValidationError("subject is required", nil)
	}

	if !e.HasBody() {
		return NewValidationError("email body is required (HTML or text)", nil)
	}

	for _, a := range e.Attachments {
		if a.FileName == "" {
			return NewValidationError("attachment file name is required", nil)
		}
	}

	return nil
}
