// Package vaultyerr defines the closed error taxonomy carried end-to-end
// across the wire, the reply email, and the logs, and the fixed mappings
// from that taxonomy onto HTTP status codes, filter exit codes, and SMTP
// enhanced status codes.
package vaultyerr

import (
	"fmt"
	"net/http"

	"github.com/aksiksi/vaulty/internal/storage"
)

// Kind is the tag of the closed error union.
type Kind string

const (
	KindGeneric              Kind = "Generic"
	KindDatabase             Kind = "Database"
	KindStorage              Kind = "Storage"
	KindQuotaExceeded        Kind = "QuotaExceeded"
	KindTokenExpired         Kind = "TokenExpired"
	KindInvalidRecipient     Kind = "InvalidRecipient"
	KindSenderNotWhitelisted Kind = "SenderNotWhitelisted"
	KindUnauthorized         Kind = "Unauthorized"
	KindNotFound             Kind = "NotFound"
	KindMissingHeader        Kind = "MissingHeader"
)

// Error is the closed, wire-serializable error type. Only one of Message,
// Recipient, Header, or StorageErr is populated, depending on Kind.
type Error struct {
	Kind       Kind           `json:"kind"`
	Message    string         `json:"message,omitempty"`
	Recipient  string         `json:"recipient,omitempty"`
	Header     string         `json:"header,omitempty"`
	StorageErr *storage.Error `json:"storage_error,omitempty"`
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindGeneric, KindDatabase, KindQuotaExceeded:
		return e.Message
	case KindStorage:
		if e.StorageErr != nil {
			return fmt.Sprintf("storage error: %s", e.StorageErr.Error())
		}
		return "storage error"
	case KindTokenExpired:
		return "the storage account token has expired for this address; please re-authorize the storage backend"
	case KindInvalidRecipient:
		return "none of the recipients of this message are valid addresses"
	case KindSenderNotWhitelisted:
		return fmt.Sprintf("the sender of this message is not on the whitelist for address %s", e.Recipient)
	case KindUnauthorized:
		return "access to this endpoint is not authorized"
	case KindNotFound:
		return "no such endpoint exists"
	case KindMissingHeader:
		if e.Header == "Authorization" {
			return "this endpoint requires HTTP authorization"
		}
		return fmt.Sprintf("the request is missing the following header(s): %s", e.Header)
	default:
		return "unknown error"
	}
}

// Constructors for each tag, mirroring the closed union's variants.

func Generic(msg string) *Error        { return &Error{Kind: KindGeneric, Message: msg} }
func GenericF(format string, args ...any) *Error {
	return &Error{Kind: KindGeneric, Message: fmt.Sprintf(format, args...)}
}
func Database(msg string) *Error       { return &Error{Kind: KindDatabase, Message: msg} }
func Storage(err *storage.Error) *Error {
	if err != nil && err.Kind == storage.KindTokenExpired {
		return &Error{Kind: KindTokenExpired}
	}
	return &Error{Kind: KindStorage, StorageErr: err}
}
func QuotaExceeded(msg string) *Error { return &Error{Kind: KindQuotaExceeded, Message: msg} }
func TokenExpired() *Error            { return &Error{Kind: KindTokenExpired} }
func InvalidRecipient() *Error        { return &Error{Kind: KindInvalidRecipient} }
func SenderNotWhitelisted(recipient string) *Error {
	return &Error{Kind: KindSenderNotWhitelisted, Recipient: recipient}
}
func Unauthorized() *Error         { return &Error{Kind: KindUnauthorized} }
func NotFound() *Error             { return &Error{Kind: KindNotFound} }
func MissingHeader(header string) *Error {
	return &Error{Kind: KindMissingHeader, Header: header}
}

// HTTPStatus maps an Error to the HTTP status code the router responds
// with, per the error-handling design.
func HTTPStatus(err *Error) int {
	switch err.Kind {
	case KindUnauthorized, KindMissingHeader:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidRecipient, KindQuotaExceeded, KindSenderNotWhitelisted, KindTokenExpired:
		return http.StatusUnprocessableEntity
	case KindDatabase, KindStorage, KindGeneric:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// SMTPStatusCode maps an Error to its SMTP enhanced status code, used by
// the filter when composing a reply or a bounce message for a 422
// response. Database, Storage and Generic errors map to 5.5.4; the
// filter never prints it, since their 500 status causes a TEMPFAIL
// instead (see package filter), as do 401/404. Unauthorized's 5.7.8
// branch is unreachable through HTTPStatus in this implementation --
// Unauthorized always maps to 401 here, since
// the only producer of it is the Basic-auth middleware -- but is kept for
// fidelity with the table in case a future caller raises it from business
// logic at the 422 level.
func SMTPStatusCode(err *Error) string {
	switch err.Kind {
	case KindInvalidRecipient:
		return "5.1.1"
	case KindQuotaExceeded:
		return "5.2.3"
	case KindSenderNotWhitelisted:
		return "5.7.1"
	case KindTokenExpired, KindUnauthorized:
		return "5.7.8"
	case KindDatabase, KindStorage, KindGeneric:
		return "5.5.4"
	default:
		return "5.2.0"
	}
}
