package email

import (
	"fmt"
	"net/mail"
	"strings"
)

// Address is a parsed mailbox. Name is empty when the source had no display
// name.
type Address struct {
	Name    string
	Address string
}

// ParseAddress parses an RFC 5322 mailbox such as `"Jane" <jane@example.com>`
// or a bare `jane@example.com`.
func ParseAddress(s string) (Address, error) {
	a, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return Address{}, NewInvalidEmailError(fmt.Sprintf("invalid address: %s", s), err)
	}
	return Address{Name: a.Name, Address: a.Address}, nil
}

// ParseAddressList parses every entry of list, keeping order.
func ParseAddressList(list []string) ([]Address, error) {
	if len(list) == 0 {
		return nil, nil
	}

	out := make([]Address, 0, len(list))
	for _, s := range list {
		a, err := ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// String formats the address for use in a MIME header.
func (a Address) String() string {
	return (&mail.Address{Name: a.Name, Address: a.Address}).String()
}

// Domain is the part after the last '@'.
func (a Address) Domain() string {
	i := strings.LastIndexByte(a.Address, '@')
	if i < 0 {
		return ""
	}
	return a.Address[i+1:]
}
