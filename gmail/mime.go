package gmail

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"strings"

	"gopkg.in/mail.v2"

	"github.com/International-Combat-Archery-Alliance/email/v2"
)

const defaultAttachmentType = "application/octet-stream"

// Headers written from Email fields; custom headers with these names are
// dropped.
var structuralHeaders = map[string]struct{}{
	"from":                      {},
	"to":                        {},
	"cc":                        {},
	"bcc":                       {},
	"reply-to":                  {},
	"subject":                   {},
	"message-id":                {},
	"x-message-id":              {},
	"mime-version":              {},
	"content-type":              {},
	"content-transfer-encoding": {},
}

// buildMIME renders e as an RFC 5322 message. Several bodies become a
// multipart/alternative, inline attachments a multipart/related around it,
// and regular attachments a multipart/mixed around everything.
func buildMIME(e email.Email) ([]byte, error) {
	m := mail.NewMessage()

	from, err := email.ParseAddress(e.FromAddress)
	if err != nil {
		return nil, err
	}
	m.SetAddressHeader("From", from.Address, from.Name)

	for _, h := range []struct {
		name  string
		value []string
	}{
		{"To", e.ToAddresses},
		{"Cc", e.CCAddresses},
		{"Reply-To", e.ReplyToAddresses},
	} {
		formatted, err := formatAddressList(m, h.value)
		if err != nil {
			return nil, err
		}
		if len(formatted) > 0 {
			m.SetHeader(h.name, formatted...)
		}
	}
	bcc, err := formatAddressList(m, e.BCCAddresses)
	if err != nil {
		return nil, err
	}

	m.SetHeader("Subject", e.Subject)
	if e.MessageID != "" {
		m.SetHeader("Message-ID", e.MessageID)
		m.SetHeader("X-Message-ID", e.MessageID)
	}
	for name, value := range e.Headers {
		if _, structural := structuralHeaders[strings.ToLower(name)]; value == "" || structural {
			continue
		}
		m.SetHeader(textproto.CanonicalMIMEHeaderKey(name), value)
	}

	parts := e.Alternatives()
	if len(parts) == 0 {
		return nil, email.NewValidationError("email body is required (HTML or text)", nil)
	}
	m.SetBody(parts[0].ContentType, parts[0].Body)
	for _, p := range parts[1:] {
		m.AddAlternative(p.ContentType, p.Body)
	}

	for _, a := range e.Attachments {
		settings := attachmentSettings(a)
		if a.DispositionOrDefault() == email.DispositionInline {
			m.Embed(a.FileName, settings...)
		} else {
			m.Attach(a.FileName, settings...)
		}
	}

	var buf bytes.Buffer
	// WriteTo never emits Bcc. Gmail reads it from the raw message and
	// strips it before delivery.
	if len(bcc) > 0 {
		fmt.Fprintf(&buf, "Bcc: %s\r\n", strings.Join(bcc, ", "))
	}
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatAddressList(m *mail.Message, list []string) ([]string, error) {
	addresses, err := email.ParseAddressList(list)
	if err != nil {
		return nil, err
	}
	formatted := make([]string, len(addresses))
	for i, a := range addresses {
		formatted[i] = m.FormatAddress(a.Address, a.Name)
	}
	return formatted, nil
}

func attachmentSettings(a email.Attachment) []mail.FileSetting {
	header := map[string][]string{
		"Content-Type":        {attachmentType(a)},
		"Content-Disposition": {mime.FormatMediaType(string(a.DispositionOrDefault()), map[string]string{"filename": a.FileName})},
	}
	if a.ContentID != "" {
		header["Content-ID"] = []string{"<" + a.ContentID + ">"}
	}
	if a.Description != "" {
		header["Content-Description"] = []string{mime.QEncoding.Encode("utf-8", a.Description)}
	}

	content := a.Content
	return []mail.FileSetting{
		mail.Rename(a.FileName),
		mail.SetHeader(header),
		mail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(content)
			return err
		}),
	}
}

// attachmentType is the attachment's media type with a name parameter,
// falling back to application/octet-stream when it is blank or malformed.
func attachmentType(a email.Attachment) string {
	mediaType, params, err := mime.ParseMediaType(a.ContentType)
	if err != nil {
		mediaType, params = defaultAttachmentType, map[string]string{}
	}
	params["name"] = a.FileName
	return mime.FormatMediaType(mediaType, params)
}
