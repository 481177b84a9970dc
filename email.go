package email

import (
	"context"
	"slices"
	"strings"
)

type Email struct {
	// Identifies the message across providers. Generated on send when blank.
	MessageID        string
	FromAddress      string
	ToAddresses      []string
	CCAddresses      []string
	BCCAddresses     []string
	ReplyToAddresses []string
	Subject          string
	HTMLBody         string
	// The email body for recipients with non-HTML email clients.
	TextBody string
	// Additional alternative bodies, e.g. an AMP version of the HTML body.
	Parts       []Part
	Attachments []Attachment
	Headers     map[string]string
}

const (
	ContentTypeText    = "text/plain"
	ContentTypeHTML    = "text/html"
	ContentTypeAMPHTML = "text/x-amp-html"
)

type Part struct {
	ContentType string
	Body        string
}

// Position of each alternative body in a multipart/alternative message:
// plain text first, then HTML, then AMP HTML.
var alternativeOrder = map[string]int{
	ContentTypeText:    0,
	ContentTypeHTML:    1,
	ContentTypeAMPHTML: 2,
}

// Alternatives returns the non-empty bodies of e in delivery order, at most
// one per content type. TextBody and HTMLBody win over parts of the same
// type, and earlier parts over later ones. Part content types are lowercased
// without parameters; unsupported types are dropped.
func (e Email) Alternatives() []Part {
	var parts []Part
	seen := make(map[string]struct{}, len(alternativeOrder))
	add := func(contentType, body string) {
		if body == "" {
			return
		}
		if _, ok := alternativeOrder[contentType]; !ok {
			return
		}
		if _, dup := seen[contentType]; dup {
			return
		}
		seen[contentType] = struct{}{}
		parts = append(parts, Part{ContentType: contentType, Body: body})
	}

	add(ContentTypeText, e.TextBody)
	add(ContentTypeHTML, e.HTMLBody)
	for _, p := range e.Parts {
		add(normalizeContentType(p.ContentType), p.Body)
	}

	slices.SortStableFunc(parts, func(a, b Part) int {
		return alternativeOrder[a.ContentType] - alternativeOrder[b.ContentType]
	})
	return parts
}

func normalizeContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

type Disposition string

const (
	DispositionAttachment Disposition = "attachment"
	DispositionInline     Disposition = "inline"
)

type Attachment struct {
	FileName    string
	Content     []byte
	Description string
	ContentType string
	Disposition Disposition
	// Referenced from the HTML body as cid:<ContentID> for inline attachments.
	ContentID string
}

// DispositionOrDefault returns the explicit disposition, falling back to
// inline for attachments that carry a content id.
func (a Attachment) DispositionOrDefault() Disposition {
	if a.Disposition != "" {
		return a.Disposition
	}
	if a.ContentID != "" {
		return DispositionInline
	}
	return DispositionAttachment
}

// RecipientCount is the number of to, cc and bcc recipients.
func (e Email) RecipientCount() int {
	return len(e.ToAddresses) + len(e.CCAddresses) + len(e.BCCAddresses)
}

// HasBody reports whether the email carries at least one deliverable body.
func (e Email) HasBody() bool {
	return len(e.Alternatives()) > 0
}

type Sender interface {
	SendEmail(ctx context.Context, e Email) error
}
