package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	dropboxArgHeader    = "Dropbox-API-Arg"
	dropboxBaseContent  = "https://content.dropboxapi.com/2/"
	dropboxRequestTimeout = 30 * time.Second
)

// dropboxUploadArgs is the JSON payload carried in the Dropbox-API-Arg
// header on a file-upload request.
type dropboxUploadArgs struct {
	Path       string `json:"path"`
	Autorename bool   `json:"autorename"`
}

// DropboxClient is the reference Storage Backend implementation: a
// bearer-token-authenticated HTTP client against the Dropbox v2 API,
// streaming the request body directly from the caller's reader.
type DropboxClient struct {
	token      string
	httpClient *http.Client
}

// NewDropboxClient builds a DropboxClient authorized with the given
// per-address access token.
func NewDropboxClient(token string) *DropboxClient {
	return &DropboxClient{
		token:      token,
		httpClient: &http.Client{Timeout: dropboxRequestTimeout},
	}
}

// UploadStream implements Client by streaming r directly into the HTTP
// request body -- the Dropbox file-upload endpoint takes the raw bytes,
// not a multipart envelope, so no intermediate buffering is needed.
func (c *DropboxClient) UploadStream(ctx context.Context, path string, r io.Reader, size int64) *Error {
	args, err := json.Marshal(dropboxUploadArgs{Path: path, Autorename: true})
	if err != nil {
		return newError(KindJsonParseError, "%v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dropboxBaseContent+"files/upload", r)
	if err != nil {
		return newError(KindUrlParseError, "%v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(dropboxArgHeader, string(args))
	if size >= 0 {
		req.ContentLength = size
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return newError(KindRequestTimeout, "%v", err)
		}
		return newError(KindRequestError, "%v", err)
	}
	defer resp.Body.Close()

	return mapDropboxStatus(resp)
}

// mapDropboxStatus translates a non-2xx Dropbox response into the closed
// storage error set, per the reference backend contract.
func mapDropboxStatus(resp *http.Response) *Error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("dropbox returned status %d: %s", resp.StatusCode, string(body))

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return newError(KindBadInput, "%s", msg)
	case http.StatusForbidden:
		return newError(KindTokenExpired, "%s", msg)
	case http.StatusConflict:
		return newError(KindBadEndpoint, "%s", msg)
	case http.StatusTooManyRequests:
		return newError(KindRateLimited, "%s", msg)
	default:
		return newError(KindInternal, "%s", msg)
	}
}
