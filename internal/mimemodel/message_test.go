package mimemodel

import (
	"fmt"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

const samplePlain = "From: alice@example.com\r\n" +
	"To: bob@vaulty.net\r\n" +
	"Subject: ABC\r\n" +
	"Message-ID: <abc123@example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
	"AAFAFAF\n\n"

const sampleMultipart = "From: alice@example.com\r\n" +
	"To: bob@vaulty.net\r\n" +
	"Subject: ABC\r\n" +
	"Message-ID: <abc123@example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"BOUND\"\r\n\r\n" +
	"--BOUND\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
	"Hello world\r\n" +
	"--BOUND\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Disposition: inline\r\n\r\n" +
	"Still body text, not an attachment\r\n" +
	"--BOUND\r\n" +
	"Content-Type: image/png\r\n" +
	"Content-Disposition: inline; filename=\"logo.png\"\r\n\r\n" +
	"not-really-png-bytes\r\n" +
	"--BOUND\r\n" +
	"Content-Type: application/octet-stream\r\n" +
	"Content-Disposition: attachment; filename=\"hello.bin\"\r\n\r\n" +
	"binary-data\r\n" +
	"--BOUND--\r\n"

func TestParseUUIDDeterminism(t *testing.T) {
	m1, err := Parse([]byte(samplePlain), "alice@example.com", []string{"bob@vaulty.net"})
	if err != nil {
		t.Fatalf("parse 1: %v", err)
	}
	m2, err := Parse([]byte(samplePlain), "alice@example.com", []string{"bob@vaulty.net"})
	if err != nil {
		t.Fatalf("parse 2: %v", err)
	}
	if m1.UUID != m2.UUID {
		t.Fatalf("expected identical uuid for identical input, got %s != %s", m1.UUID, m2.UUID)
	}
}

func TestParsePlainBody(t *testing.T) {
	m, err := Parse([]byte(samplePlain), "alice@example.com", []string{"bob@vaulty.net"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Subject != "ABC" {
		t.Fatalf("subject = %q, want ABC", m.Subject)
	}
	if m.MessageID != "abc123@example.com" {
		t.Fatalf("message id = %q, want angle brackets stripped", m.MessageID)
	}
	if !strings.Contains(m.Body, "AAFAFAF") {
		t.Fatalf("body = %q, want to contain AAFAFAF", m.Body)
	}
	if len(m.Attachments) != 0 {
		t.Fatalf("expected 0 attachments, got %d", len(m.Attachments))
	}
}

func TestParseMultipartClassification(t *testing.T) {
	m, err := Parse([]byte(sampleMultipart), "alice@example.com", []string{"bob@vaulty.net"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if !strings.Contains(m.Body, "Hello world") {
		t.Fatalf("body missing plain text part: %q", m.Body)
	}
	if !strings.Contains(m.Body, "Still body text") {
		t.Fatalf("inline text/plain part should be folded into body, not an attachment: %q", m.Body)
	}

	if len(m.Attachments) != 2 {
		t.Fatalf("expected 2 attachments (inline image + regular attachment), got %d: %+v", len(m.Attachments), m.Attachments)
	}

	inlineImage := m.Attachments[0]
	if !inlineImage.Inline || inlineImage.Filename != "logo.png" {
		t.Fatalf("attachment 0 = %+v, want inline logo.png", inlineImage)
	}
	if inlineImage.MimeType != "image/png" {
		t.Fatalf("attachment 0 mime = %q, want image/png", inlineImage.MimeType)
	}

	regular := m.Attachments[1]
	if regular.Inline || regular.Filename != "hello.bin" {
		t.Fatalf("attachment 1 = %+v, want regular hello.bin", regular)
	}

	for i, a := range m.Attachments {
		if a.Index != i {
			t.Fatalf("attachment %d has index %d", i, a.Index)
		}
		if a.MessageUUID != m.UUID {
			t.Fatalf("attachment %d has message uuid %s, want %s", i, a.MessageUUID, m.UUID)
		}
	}
}

func TestUUIDDeterminismProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		messageID := rapid.StringMatching(`[a-zA-Z0-9]{0,20}`).Draw(t, "messageID")
		subject := rapid.StringMatching(`[a-zA-Z0-9 ]{0,40}`).Draw(t, "subject")
		sender := rapid.StringMatching(`[a-z]{1,10}@[a-z]{1,10}\.com`).Draw(t, "sender")
		recipientCount := rapid.IntRange(1, 4).Draw(t, "recipientCount")

		recipients := make([]string, recipientCount)
		for i := range recipients {
			recipients[i] = fmt.Sprintf("r%d@vaulty.net", i)
		}

		u1 := computeUUID(messageID, subject, sender, recipients)
		u2 := computeUUID(messageID, subject, sender, recipients)
		if u1 != u2 {
			t.Fatalf("non-deterministic uuid for identical inputs: %s != %s", u1, u2)
		}
	})
}
