// Package storage defines the streaming upload capability that every
// cloud object-store backend implements, plus the closed backend-name
// and error-kind sets that travel with it.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Backend identifies a cloud storage provider. The set is closed: new
// providers require a code change, but unrecognized database values are
// tolerated (see Coerce) rather than treated as a hard failure.
type Backend string

const (
	BackendDropbox Backend = "Dropbox"
	BackendGdrive  Backend = "Gdrive"
	BackendS3      Backend = "S3"
)

// Coerce maps an arbitrary string (typically a database column value) to
// a known Backend, defaulting to Dropbox with a warning log on anything
// unrecognized. This keeps the backend column forward-compatible: a
// deploy that adds a new backend tag to the database ahead of the server
// binary that understands it degrades gracefully instead of failing
// every message for that address.
func Coerce(logger *slog.Logger, raw string) Backend {
	switch raw {
	case string(BackendDropbox), string(BackendGdrive), string(BackendS3):
		return Backend(raw)
	default:
		if logger != nil {
			logger.Warn("unrecognized storage backend, defaulting to Dropbox", slog.String("value", raw))
		}
		return BackendDropbox
	}
}

// ErrorKind is the closed set of storage-layer failures.
type ErrorKind string

const (
	KindUrlParseError  ErrorKind = "UrlParseError"
	KindRequestTimeout ErrorKind = "RequestTimeout"
	KindRequestError   ErrorKind = "RequestError"
	KindJsonParseError ErrorKind = "JsonParseError"
	KindBadInput       ErrorKind = "BadInput"
	KindBadEndpoint    ErrorKind = "BadEndpoint"
	KindTokenExpired   ErrorKind = "TokenExpired"
	KindRateLimited    ErrorKind = "RateLimited"
	KindInternal       ErrorKind = "Internal"
)

// Error is the closed storage-backend error type.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Client is the capability every storage backend implements: stream an
// arbitrary number of bytes to a provider-relative path. Implementations
// must not buffer the full stream in memory -- attachments may be tens
// of megabytes -- and must respect ctx cancellation.
type Client interface {
	UploadStream(ctx context.Context, path string, r io.Reader, size int64) *Error
}

// Registry resolves a Backend tag to its configured Client.
type Registry struct {
	clients map[Backend]Client
}

// NewRegistry builds a Registry from a fixed set of backend clients.
func NewRegistry(dropbox, gdrive, s3 Client) *Registry {
	return &Registry{
		clients: map[Backend]Client{
			BackendDropbox: dropbox,
			BackendGdrive:  gdrive,
			BackendS3:      s3,
		},
	}
}

// Resolve returns the Client registered for backend, or a BadInput error
// if none is configured for it.
func (r *Registry) Resolve(backend Backend) (Client, *Error) {
	c, ok := r.clients[backend]
	if !ok || c == nil {
		return nil, newError(KindBadInput, "no client configured for backend %q", backend)
	}
	return c, nil
}

// JoinPath builds the storage path an attachment is uploaded to:
// "{storagePath}/{attachmentName}".
func JoinPath(storagePath, attachmentName string) string {
	return strings.TrimRight(storagePath, "/") + "/" + strings.TrimLeft(attachmentName, "/")
}
