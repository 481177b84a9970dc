package sendgrid

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/International-Combat-Archery-Alliance/email/v2"
)

const HeaderMessageID = "X-Message-ID"

// Headers SendGrid either sets itself or rejects in the headers object.
var reservedHeaders = map[string]struct{}{
	"x-sg-id":                   {},
	"x-sg-eid":                  {},
	"received":                  {},
	"dkim-signature":            {},
	"content-type":              {},
	"content-transfer-encoding": {},
	"to":                        {},
	"from":                      {},
	"subject":                   {},
	"reply-to":                  {},
	"cc":                        {},
	"bcc":                       {},
}

// Payload is the request body of POST /v3/mail/send.
type Payload struct {
	Personalizations []Personalization `json:"personalizations"`
	From             Address           `json:"from"`
	ReplyTo          *Address          `json:"reply_to,omitempty"`
	ReplyToList      []Address         `json:"reply_to_list,omitempty"`
	Subject          string            `json:"subject"`
	Content          []Content         `json:"content,omitempty"`
	Attachments      []Attachment      `json:"attachments,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
}

type Personalization struct {
	To  []Address `json:"to"`
	CC  []Address `json:"cc,omitempty"`
	BCC []Address `json:"bcc,omitempty"`
}

type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type Content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type Attachment struct {
	Content     string `json:"content"`
	Filename    string `json:"filename"`
	Type        string `json:"type,omitempty"`
	Disposition string `json:"disposition,omitempty"`
	ContentID   string `json:"content_id,omitempty"`
}

// Extract maps e onto the SendGrid payload. The message id is sent as the
// X-Message-ID header and generated when e has none. e is taken by value, so a
// generated id only lives in the payload headers: callers that need to know
// the id should call e.EnsureMessageID first, or use Sender.Send, whose
// Receipt carries it.
func Extract(e email.Email) (*Payload, error) {
	e.EnsureMessageID()

	from, err := email.ParseAddress(e.FromAddress)
	if err != nil {
		return nil, err
	}

	personalization, err := personalizationFromEmail(e)
	if err != nil {
		return nil, err
	}

	content := contentFromEmail(e)
	if len(content) == 0 {
		return nil, email.NewValidationError("email body is required (HTML or text)", nil)
	}

	p := &Payload{
		Personalizations: []Personalization{personalization},
		From:             toAddress(from),
		Subject:          e.Subject,
		Content:          content,
		Attachments:      attachmentsFromEmail(e.Attachments),
		Headers:          headersFromEmail(e),
	}

	replyTo, err := email.ParseAddressList(e.ReplyToAddresses)
	if err != nil {
		return nil, err
	}
	switch len(replyTo) {
	case 0:
	case 1:
		a := toAddress(replyTo[0])
		p.ReplyTo = &a
	default:
		p.ReplyToList = toAddresses(replyTo)
	}

	return p, nil
}

// Encode serializes the payload with options merged in at the top level.
// Option keys replace extracted keys of the same name.
func (p *Payload) Encode(options map[string]any) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if len(options) == 0 {
		return body, nil
	}

	merged := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &merged); err != nil {
		return nil, err
	}
	for key, value := range options {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode option %q: %w", key, err)
		}
		merged[key] = raw
	}
	return json.Marshal(merged)
}

func personalizationFromEmail(e email.Email) (Personalization, error) {
	to, err := email.ParseAddressList(e.ToAddresses)
	if err != nil {
		return Personalization{}, err
	}
	if len(to) == 0 {
		return Personalization{}, email.NewValidationError("at least one \"to\" recipient is required", nil)
	}

	cc, err := email.ParseAddressList(e.CCAddresses)
	if err != nil {
		return Personalization{}, err
	}

	bcc, err := email.ParseAddressList(e.BCCAddresses)
	if err != nil {
		return Personalization{}, err
	}

	return Personalization{
		To:  toAddresses(to),
		CC:  toAddresses(cc),
		BCC: toAddresses(bcc),
	}, nil
}

func contentFromEmail(e email.Email) []Content {
	alternatives := e.Alternatives()
	if len(alternatives) == 0 {
		return nil
	}

	content := make([]Content, len(alternatives))
	for i, part := range alternatives {
		content[i] = Content{Type: part.ContentType, Value: part.Body}
	}
	return content
}

func attachmentsFromEmail(attachments []email.Attachment) []Attachment {
	if len(attachments) == 0 {
		return nil
	}

	out := make([]Attachment, len(attachments))
	for i, a := range attachments {
		out[i] = Attachment{
			Content:     base64.StdEncoding.EncodeToString(a.Content),
			Filename:    a.FileName,
			Type:        a.ContentType,
			Disposition: string(a.DispositionOrDefault()),
			ContentID:   a.ContentID,
		}
	}
	return out
}

// headersFromEmail copies the custom headers SendGrid accepts. Header names
// are case-insensitive, so names differing only in case collapse to the
// first in sorted order, keeping its spelling.
func headersFromEmail(e email.Email) map[string]string {
	headers := map[string]string{
		HeaderMessageID: e.MessageID,
	}
	seen := map[string]struct{}{
		strings.ToLower(HeaderMessageID): {},
	}

	names := make([]string, 0, len(e.Headers))
	for name := range e.Headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := e.Headers[name]
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := seen[key]; dup || value == "" || isReservedHeader(name) {
			continue
		}
		seen[key] = struct{}{}
		headers[name] = value
	}
	return headers
}

func isReservedHeader(name string) bool {
	_, ok := reservedHeaders[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

func toAddress(a email.Address) Address {
	return Address{Email: a.Address, Name: a.Name}
}

func toAddresses(list []email.Address) []Address {
	if len(list) == 0 {
		return nil
	}
	out := make([]Address, len(list))
	for i, a := range list {
		out[i] = toAddress(a)
	}
	return out
}
