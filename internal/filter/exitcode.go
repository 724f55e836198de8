package filter

import (
	"fmt"
	"net/http"

	"github.com/aksiksi/vaulty/internal/httpapi"
	"github.com/aksiksi/vaulty/internal/vaultyerr"
)

// MTA exit codes, per sendmail/postfix's sysexits.h convention.
const (
	ExitOK          = 0
	ExitUnavailable = 69 // EX_UNAVAILABLE: permanent rejection
	ExitTempfail    = 75 // EX_TEMPFAIL: transient failure, MTA re-queues
)

// classifyResponse maps one HTTP response from the server to an MTA exit
// code and, for a policy (422) rejection, the "<code>: <message>" line the
// filter prints to stdout for Postfix, per spec.md §4.7/§7.
func classifyResponse(status int, result *httpapi.ServerResult) (exitCode int, printLine string) {
	if status == http.StatusOK {
		return ExitOK, ""
	}
	if status == http.StatusUnprocessableEntity && result != nil && result.Error != nil {
		code := vaultyerr.SMTPStatusCode(result.Error)
		return ExitUnavailable, fmt.Sprintf("%s: %s", code, result.Error.Error())
	}
	// 401/404/500, or any other unexpected status: transient, let the MTA
	// retry, per the table's "request timeout / connection error" and
	// "Database, Storage, Generic" rows -- everything not an explicit 422
	// policy rejection is treated as transient here.
	return ExitTempfail, ""
}
