// Package mimemodel parses a raw email into the typed Message/Attachment
// shape the rest of Vaulty operates on, and derives the deterministic
// message identity used as the idempotence key across the filter/server
// protocol.
package mimemodel

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
)

// uuidNamespace is the fixed namespace under which message UUIDs are
// derived. It has no meaning beyond providing a stable v5 namespace.
var uuidNamespace = uuid.MustParse("11d00b11-d9d0-5831-a6f7-8f88f86f870a")

// Attachment is a non-inline-text MIME part extracted from a message.
type Attachment struct {
	MessageUUID uuid.UUID `json:"message_uuid"`
	Index       int       `json:"index"`
	MimeType    string    `json:"mime_type"`
	Charset     string    `json:"charset,omitempty"`
	ContentID   string    `json:"content_id,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	Data        []byte    `json:"-"`
	Inline      bool      `json:"inline"`
}

// Message is the parsed representation of an inbound email, as understood
// by the server. Attachment bytes never round-trip through this struct's
// JSON encoding -- they travel in separate streaming requests.
type Message struct {
	UUID            uuid.UUID    `json:"uuid"`
	Sender          string       `json:"sender"`
	Recipients      []string     `json:"recipients"`
	Subject         string       `json:"subject,omitempty"`
	MessageID       string       `json:"message_id,omitempty"`
	Body            string       `json:"body"`
	BodyHTML        string       `json:"body_html,omitempty"`
	Size            int          `json:"size"`
	AttachmentCount int          `json:"num_attachments"`
	Attachments     []Attachment `json:"-"`
}

// ErrParse indicates the outer MIME structure could not be parsed at all.
type ErrParse struct {
	Cause error
}

func (e *ErrParse) Error() string { return fmt.Sprintf("mime: failed to parse message: %v", e.Cause) }
func (e *ErrParse) Unwrap() error { return e.Cause }

// Parse builds a Message from a raw RFC 5322 byte stream plus the
// envelope sender/recipients as presented by the MTA (these are not part
// of the MIME body and must be supplied out of band).
func Parse(raw []byte, sender string, recipients []string) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, &ErrParse{Cause: err}
	}

	msg := &Message{
		Sender:     sender,
		Recipients: append([]string(nil), recipients...),
		Subject:    env.GetHeader("Subject"),
		MessageID:  strings.Trim(env.GetHeader("Message-ID"), "<>"),
		Size:       len(raw),
	}

	var bodyPlain, bodyHTML strings.Builder
	var attachments []Attachment
	walkParts(env.Root, &bodyPlain, &bodyHTML, &attachments)

	msg.Body = bodyPlain.String()
	msg.BodyHTML = bodyHTML.String()
	msg.Attachments = attachments
	msg.AttachmentCount = len(attachments)

	msg.UUID = computeUUID(msg.MessageID, msg.Subject, msg.Sender, msg.Recipients)
	for i := range msg.Attachments {
		msg.Attachments[i].MessageUUID = msg.UUID
	}

	return msg, nil
}

// walkParts performs a depth-first walk of the MIME part tree, classifying
// each part per the rule: a part with a Content-Disposition whose first
// token is "attachment" (or "inline" when its MIME type is not text/*)
// becomes an Attachment in encounter order; text/plain and text/html
// parts with no such disposition fill the plain/HTML bodies; multipart/*
// parts are recursed. Decoding failures on an individual part are skipped,
// not fatal to the whole parse -- enmime already surfaces those via
// Part.ReadError rather than failing ReadEnvelope outright.
func walkParts(part *enmime.Part, bodyPlain, bodyHTML *strings.Builder, attachments *[]Attachment) {
	if part == nil {
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(part.ContentType))
	disposition := strings.ToLower(strings.TrimSpace(part.Disposition))

	switch {
	case strings.HasPrefix(contentType, "multipart/"):
		for child := part.FirstChild; child != nil; child = child.NextSibling {
			walkParts(child, bodyPlain, bodyHTML, attachments)
		}
		return
	case isAttachmentPart(disposition, contentType):
		*attachments = append(*attachments, Attachment{
			Index:     len(*attachments),
			MimeType:  contentType,
			Charset:   strings.ToLower(part.Charset),
			ContentID: strings.Trim(part.ContentID, "<>"),
			Filename:  part.FileName,
			Data:      append([]byte(nil), part.Content...),
			Inline:    disposition == "inline",
		})
	case strings.HasPrefix(contentType, "text/plain"):
		bodyPlain.Write(part.Content)
	case strings.HasPrefix(contentType, "text/html"):
		bodyHTML.Write(part.Content)
	default:
		// Walk into unrecognized container-like parts defensively; leaf
		// parts with no disposition and no text/* type are dropped, mirroring
		// the reference implementation's silent-skip behavior.
		for child := part.FirstChild; child != nil; child = child.NextSibling {
			walkParts(child, bodyPlain, bodyHTML, attachments)
		}
	}
}

// isAttachmentPart implements the classification rule from the MIME
// Model component: disposition token "attachment" always qualifies;
// "inline" qualifies unless the part is text/*, in which case it is
// folded into the body instead.
func isAttachmentPart(disposition, contentType string) bool {
	switch disposition {
	case "attachment":
		return true
	case "inline":
		return !strings.HasPrefix(contentType, "text/")
	default:
		return false
	}
}

// computeUUID derives the deterministic message identity: UUIDv5 over the
// concatenation message_id || subject || sender || recipients under a
// fixed namespace. Two parses of the same (bytes, sender, recipients)
// triple always yield the same UUID.
func computeUUID(messageID, subject, sender string, recipients []string) uuid.UUID {
	var buf bytes.Buffer
	buf.WriteString(messageID)
	buf.WriteString(subject)
	buf.WriteString(sender)
	for _, r := range recipients {
		buf.WriteString(r)
	}
	return uuid.NewSHA1(uuidNamespace, buf.Bytes())
}
