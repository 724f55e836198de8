package filter

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/aksiksi/vaulty/internal/mimemodel"
)

const replyFrom = "noreply@vaulty.net"

// sendReply submits a best-effort reply to msg's sender via the local MTA
// on port 25, threaded onto the original message via In-Reply-To and
// References. A message with no Message-ID is silently skipped (logged
// at Error), matching the reference implementation: there is nothing to
// thread the reply onto.
func sendReply(logger *slog.Logger, msg *mimemodel.Message, body string) {
	if msg.MessageID == "" {
		logger.Error("mail has no Message-ID, cannot send reply")
		return
	}
	messageID := "<" + msg.MessageID + ">"

	subject := msg.Subject
	if subject == "" {
		subject = "Mail processing failed"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", replyFrom)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Sender)
	fmt.Fprintf(&b, "Subject: Re: %s\r\n", subject)
	fmt.Fprintf(&b, "In-Reply-To: %s\r\n", messageID)
	fmt.Fprintf(&b, "References: %s\r\n", messageID)
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")

	err := smtp.SendMail("127.0.0.1:25", nil, replyFrom, []string{msg.Sender}, []byte(b.String()))
	if err != nil {
		logger.Error("could not send reply email", slog.Any("error", err))
		return
	}
	logger.Debug("reply email sent")
}

// sendReplySuccess notifies the sender that their attachments were
// uploaded, when VAULTY_REPLY_SUCCESS is set.
func sendReplySuccess(logger *slog.Logger, msg *mimemodel.Message, numAttachments int, backend string) {
	body := fmt.Sprintf("Vaulty successfully uploaded %d attachments to %s!", numAttachments, backend)
	sendReply(logger, msg, body)
}

// sendReplyFailure notifies the sender of the reason their message was
// rejected, using the same SMTP-status-code-prefixed text the filter
// printed to stdout for Postfix.
func sendReplyFailure(logger *slog.Logger, msg *mimemodel.Message, errorLine string) {
	sendReply(logger, msg, errorLine)
}
