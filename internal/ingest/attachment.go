package ingest

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/aksiksi/vaulty/internal/httpapi"
	"github.com/aksiksi/vaulty/internal/policystore"
	"github.com/aksiksi/vaulty/internal/storage"
	"github.com/aksiksi/vaulty/internal/vaultyerr"
)

const (
	headerEmailID         = "VAULTY_EMAIL_ID"
	headerAttachmentName  = "VAULTY_ATTACHMENT_NAME"
	headerAttachmentIndex = "VAULTY_ATTACHMENT_INDEX"
)

// PostfixAttachment implements POST /postfix/attachment: streams one
// attachment to its resolved recipient's storage backend and advances the
// session's Uploading state (spec.md §4.6).
func (c *Controller) PostfixAttachment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	emailID, err := uuid.Parse(r.Header.Get(headerEmailID))
	if err != nil {
		httpapi.WriteError(c.Logger, w, vaultyerr.Generic("missing or malformed "+headerEmailID+" header"))
		return
	}
	name := r.Header.Get(headerAttachmentName)
	index, err := strconv.Atoi(r.Header.Get(headerAttachmentIndex))
	if err != nil || index < 0 {
		httpapi.WriteError(c.Logger, w, vaultyerr.Generic("missing or malformed "+headerAttachmentIndex+" header"))
		return
	}
	size := r.ContentLength
	if size < 0 {
		httpapi.WriteError(c.Logger, w, vaultyerr.Generic("missing Content-Length"))
		return
	}

	// 1. Session must exist -- a missing session here, after email
	// succeeded, indicates an internal bug or crash-restart, not a client
	// error, hence 500 rather than 404.
	session, ok := c.Cache.Get(emailID)
	if !ok {
		httpapi.WriteError(c.Logger, w, vaultyerr.Generic("no session"))
		return
	}
	addr := session.Address

	// 2. Idempotent retry of an already-uploaded index.
	if _, already := session.AttachmentsProcessed[index]; already {
		httpapi.WriteSuccess(w, httpapi.ServerResult{
			Message:        "attachment already processed",
			StorageBackend: addr.Backend(c.Logger),
		})
		return
	}

	// 3. Re-check the storage quota against this attachment's size.
	if addr.StorageUsed+size > addr.StorageQuota {
		msg := "storage quota exceeded"
		c.Store.Log(ctx, policystore.SeverityWarning, msg, &emailID)
		c.Store.UpdateMessageStatus(ctx, emailID, false, msg)
		httpapi.WriteError(c.Logger, w, vaultyerr.QuotaExceeded(msg))
		return
	}

	// 4. Stream the body to the selected backend.
	backend := addr.Backend(c.Logger)
	client, resolveErr := c.Registry.Resolve(backend)
	if resolveErr != nil {
		c.Store.UpdateMessageStatus(ctx, emailID, false, resolveErr.Error())
		httpapi.WriteError(c.Logger, w, vaultyerr.Storage(resolveErr))
		return
	}

	path := storage.JoinPath(addr.StoragePath, name)
	if uploadErr := client.UploadStream(ctx, path, r.Body, size); uploadErr != nil {
		c.Store.UpdateMessageStatus(ctx, emailID, false, uploadErr.Error())
		httpapi.WriteError(c.Logger, w, vaultyerr.Storage(uploadErr))
		return
	}

	// 5. Account for the uploaded bytes and advance the session.
	if err := c.Store.UpdateStorageUsed(ctx, &addr, size, false); err != nil {
		httpapi.WriteError(c.Logger, w, vaultyerr.Database(err.Error()))
		return
	}

	outcome, ok := c.Cache.MarkProcessed(emailID, index)
	if !ok {
		// The session was evicted by a concurrent terminal upload between
		// our Get and MarkProcessed; the upload itself already succeeded.
		httpapi.WriteSuccess(w, httpapi.ServerResult{StorageBackend: backend})
		return
	}

	result := httpapi.ServerResult{StorageBackend: backend}
	if outcome.Evicted {
		result.Message = fmt.Sprintf("all %d attachments uploaded", session.Message.AttachmentCount)
		result.NumAttachments = session.Message.AttachmentCount
	}
	httpapi.WriteSuccess(w, result)
}
