// Package filter implements the MTA-invoked companion process: it parses
// the message on stdin, POSTs it and its attachments to the server, and
// translates the server's response into an MTA exit code.
package filter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aksiksi/vaulty/internal/httpapi"
	"github.com/aksiksi/vaulty/internal/mimemodel"
)

// requestTimeout is the per-request timeout the filter applies to every
// call to the server, per spec.md §5.
const requestTimeout = 15 * time.Second

// Client posts a parsed message and its attachments to the server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authHeader string
}

// NewClient builds a Client targeting baseURL with HTTP Basic auth
// credentials user/pass.
func NewClient(baseURL, user, pass string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    baseURL,
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass)),
	}
}

// PostEmail sends msg to POST /postfix/email. The returned error is set
// for transport-level failures (timeout, connection refused, DNS) and
// when the response body is not a JSON ServerResult; any other HTTP
// response, including non-2xx, is decoded into result and returned with
// its status code.
func (c *Client) PostEmail(ctx context.Context, msg *mimemodel.Message) (result *httpapi.ServerResult, status int, err error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/postfix/email", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authHeader)

	return c.do(req)
}

// PostAttachment streams one attachment's bytes to POST /postfix/attachment.
func (c *Client) PostAttachment(ctx context.Context, emailID uuid.UUID, att mimemodel.Attachment) (result *httpapi.ServerResult, status int, err error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/postfix/attachment", bytes.NewReader(att.Data))
	if err != nil {
		return nil, 0, err
	}
	req.ContentLength = int64(len(att.Data))
	req.Header.Set("Content-Type", att.MimeType)
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("VAULTY_EMAIL_ID", emailID.String())
	req.Header.Set("VAULTY_ATTACHMENT_NAME", att.Filename)
	req.Header.Set("VAULTY_ATTACHMENT_INDEX", fmt.Sprintf("%d", att.Index))

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*httpapi.ServerResult, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var result httpapi.ServerResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return &result, resp.StatusCode, nil
}
