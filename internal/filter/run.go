package filter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aksiksi/vaulty/internal/mimemodel"
)

// Options configures a single invocation of Run.
type Options struct {
	ServerAddr   string
	User         string
	Pass         string
	ReplySuccess bool
}

// Run implements the filter's full per-message responsibility (spec.md
// §4.7): parse, POST email, POST each attachment in order, and translate
// the outcome into an MTA exit code. raw is the message already read from
// stdin by the caller (bounded by the server's max_email_size there).
func Run(ctx context.Context, logger *slog.Logger, opts Options, sender string, recipients []string, raw []byte) int {
	if sender == "" {
		// DSN / bounce message: nothing to process.
		return ExitOK
	}

	msg, err := mimemodel.Parse(raw, sender, recipients)
	if err != nil {
		fmt.Println("5.6.0 Failed to parse mail body")
		return ExitUnavailable
	}

	client := NewClient(opts.ServerAddr, opts.User, opts.Pass)

	result, status, err := client.PostEmail(ctx, msg)
	if err != nil {
		logger.Error("email request failed", slog.Any("error", err))
		return ExitTempfail
	}

	if exitCode, printLine := classifyResponse(status, result); exitCode != ExitOK {
		if printLine != "" {
			fmt.Println(printLine)
			sendReplyFailure(logger, msg, printLine)
		}
		return exitCode
	}

	backend := ""
	if result != nil {
		backend = string(result.StorageBackend)
	}

	for _, att := range msg.Attachments {
		attResult, attStatus, err := client.PostAttachment(ctx, msg.UUID, att)
		if err != nil {
			logger.Error("attachment request failed", slog.Any("error", err), slog.Int("index", att.Index))
			return ExitTempfail
		}
		if exitCode, printLine := classifyResponse(attStatus, attResult); exitCode != ExitOK {
			if printLine != "" {
				fmt.Println(printLine)
				sendReplyFailure(logger, msg, printLine)
			}
			return exitCode
		}
		if attResult != nil && attResult.StorageBackend != "" {
			backend = string(attResult.StorageBackend)
		}
	}

	if opts.ReplySuccess {
		sendReplySuccess(logger, msg, len(msg.Attachments), backend)
	}

	return ExitOK
}
