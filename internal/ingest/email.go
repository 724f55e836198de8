package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aksiksi/vaulty/internal/httpapi"
	"github.com/aksiksi/vaulty/internal/mimemodel"
	"github.com/aksiksi/vaulty/internal/policystore"
	"github.com/aksiksi/vaulty/internal/vaultyerr"
)

// PostfixEmail implements POST /postfix/email: the New -> Resolved ->
// Accepted transition of the message state machine (spec.md §4.6).
func (c *Controller) PostfixEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var msg mimemodel.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		httpapi.WriteError(c.Logger, w, vaultyerr.Generic("malformed request body"))
		return
	}

	if err := c.validate.Var(msg.Sender, "required"); err != nil {
		httpapi.WriteError(c.Logger, w, vaultyerr.Generic("missing sender"))
		return
	}
	if err := c.validate.Var(msg.Recipients, "required,min=1"); err != nil {
		httpapi.WriteError(c.Logger, w, vaultyerr.Generic("missing recipients"))
		return
	}

	// 1. Idempotent retry: a session already exists for this UUID and the
	// message has attachments pending, so the filter is re-POSTing after a
	// transient failure partway through attachment upload.
	if msg.AttachmentCount > 0 && c.Cache.Contains(msg.UUID) {
		httpapi.WriteSuccess(w, httpapi.ServerResult{Message: "message already accepted"})
		return
	}

	// 2. Resolve the recipient.
	addr, err := c.Store.ResolveRecipient(ctx, msg.Recipients)
	if err != nil {
		httpapi.WriteError(c.Logger, w, vaultyerr.Database(err.Error()))
		return
	}
	if addr == nil {
		c.Store.Log(ctx, policystore.SeverityWarning, fmt.Sprintf("no address matched recipients %v", msg.Recipients), &msg.UUID)
		httpapi.WriteError(c.Logger, w, vaultyerr.InvalidRecipient())
		return
	}

	// 3. Narrow recipients to the single resolved address.
	msg.Recipients = []string{addr.Address}

	// 4. Validate the sender against the whitelist.
	ok, err := c.Store.ValidateSender(ctx, addr, msg.Sender)
	if err != nil {
		httpapi.WriteError(c.Logger, w, vaultyerr.Database(err.Error()))
		return
	}
	if !ok {
		c.Store.Log(ctx, policystore.SeverityWarning, fmt.Sprintf("sender %s not whitelisted for %s", msg.Sender, addr.Address), &msg.UUID)
		httpapi.WriteError(c.Logger, w, vaultyerr.SenderNotWhitelisted(addr.Address))
		return
	}

	// 5. Insert the message row.
	if err := c.Store.InsertMessage(ctx, &msg, addr); err != nil {
		httpapi.WriteError(c.Logger, w, vaultyerr.Database(err.Error()))
		return
	}

	// 6. Quota checks.
	if quotaErr := checkQuotas(addr, &msg); quotaErr != nil {
		c.Store.Log(ctx, policystore.SeverityWarning, quotaErr.Message, &msg.UUID)
		c.Store.UpdateMessageStatus(ctx, msg.UUID, false, quotaErr.Message)
		httpapi.WriteError(c.Logger, w, quotaErr)
		return
	}

	// 7. Account for the body bytes now; attachments are accounted for as
	// they are individually uploaded.
	if err := c.Store.UpdateStorageUsed(ctx, addr, int64(len(msg.Body)), true); err != nil {
		httpapi.WriteError(c.Logger, w, vaultyerr.Database(err.Error()))
		return
	}

	// 8. Open a session if attachments are still to come.
	if msg.AttachmentCount > 0 {
		c.Cache.Insert(msg, *addr)
	}

	// 9. Respond success.
	httpapi.WriteSuccess(w, httpapi.ServerResult{
		Message:        "message accepted",
		StorageBackend: addr.Backend(c.Logger),
	})
}

// checkQuotas evaluates the three independent quota gates against addr,
// in the order the spec lists them, returning the first that trips.
func checkQuotas(addr *policystore.AddressRecord, msg *mimemodel.Message) *vaultyerr.Error {
	size := int64(msg.Size)
	if size > addr.MaxEmailSize {
		return vaultyerr.QuotaExceeded(fmt.Sprintf("email too large, limit = %d MB", addr.MaxEmailSize/(1024*1024)))
	}
	if addr.StorageUsed+size > addr.StorageQuota {
		return vaultyerr.QuotaExceeded("storage quota exceeded")
	}
	if addr.NumReceived+1 > addr.EmailQuota {
		return vaultyerr.QuotaExceeded("message quota exceeded")
	}
	return nil
}
