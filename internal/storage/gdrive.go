package storage

import (
	"context"
	"io"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// GdriveClient is a Google Drive Storage Backend: attachments land in the
// linked account's Drive under a file named for their full storage path,
// since Drive has no native directory-separator semantics for
// API-created files outside of explicit parent folders.
type GdriveClient struct {
	tokenSource oauth2.TokenSource
	svc         *drive.Service
}

// NewGdriveClient builds a GdriveClient from a long-lived OAuth2 token
// for the address's linked Google account. The *drive.Service is built
// lazily on first UploadStream call so a token that never gets used
// never has to be valid at construction time.
func NewGdriveClient(ctx context.Context, token *oauth2.Token) *GdriveClient {
	return &GdriveClient{
		tokenSource: oauth2.StaticTokenSource(token),
	}
}

// UploadStream uploads r to Drive as a new file named for the full path,
// building the client's *drive.Service on first use. A token the client
// cannot obtain, or a service that cannot be built, is reported as
// KindTokenExpired; a token that Drive rejects during the upload itself
// is reported as KindRequestError, like any other failed upload.
func (c *GdriveClient) UploadStream(ctx context.Context, path string, r io.Reader, size int64) *Error {
	if _, err := c.tokenSource.Token(); err != nil {
		return newError(KindTokenExpired, "gdrive token unavailable: %v", err)
	}

	svc, err := c.service(ctx)
	if err != nil {
		return newError(KindTokenExpired, "gdrive client unavailable: %v", err)
	}

	file := &drive.File{Name: path}
	if _, err := svc.Files.Create(file).Media(r).Context(ctx).Do(); err != nil {
		return newError(KindRequestError, "gdrive upload failed: %v", err)
	}
	return nil
}

func (c *GdriveClient) service(ctx context.Context) (*drive.Service, error) {
	if c.svc != nil {
		return c.svc, nil
	}
	svc, err := drive.NewService(ctx, option.WithTokenSource(c.tokenSource))
	if err != nil {
		return nil, err
	}
	c.svc = svc
	return svc, nil
}
