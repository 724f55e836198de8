package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/google/uuid"

	"github.com/aksiksi/vaulty/internal/httpapi"
	"github.com/aksiksi/vaulty/internal/mimemodel"
	"github.com/aksiksi/vaulty/internal/policystore"
	"github.com/aksiksi/vaulty/internal/sessioncache"
	"github.com/aksiksi/vaulty/internal/storage"
)

// fakeStore is an in-memory policystore.Store for testing the controllers
// in isolation from a real database.
type fakeStore struct {
	addr         *policystore.AddressRecord
	validSender  bool
	inserted     []uuid.UUID
	numInserted  int
	statusErrors []string
}

func (f *fakeStore) ResolveRecipient(ctx context.Context, candidates []string) (*policystore.AddressRecord, error) {
	return f.addr, nil
}
func (f *fakeStore) ValidateSender(ctx context.Context, addr *policystore.AddressRecord, sender string) (bool, error) {
	return f.validSender, nil
}
func (f *fakeStore) InsertMessage(ctx context.Context, msg *mimemodel.Message, addr *policystore.AddressRecord) error {
	f.inserted = append(f.inserted, msg.UUID)
	f.numInserted++
	return nil
}
func (f *fakeStore) UpdateMessageStatus(ctx context.Context, msgUUID uuid.UUID, ok bool, msg string) {
	if !ok {
		f.statusErrors = append(f.statusErrors, msg)
	}
}
func (f *fakeStore) UpdateStorageUsed(ctx context.Context, addr *policystore.AddressRecord, deltaBytes int64, incrementReceived bool) error {
	addr.StorageUsed += deltaBytes
	if incrementReceived {
		addr.NumReceived++
	}
	return nil
}
func (f *fakeStore) Log(ctx context.Context, severity policystore.Severity, text string, msgUUID *uuid.UUID) {}

// fakeStorageClient records every upload it receives.
type fakeStorageClient struct {
	uploads []struct {
		path string
		size int64
	}
}

func (f *fakeStorageClient) UploadStream(ctx context.Context, path string, r io.Reader, size int64) *storage.Error {
	n, _ := io.Copy(io.Discard, r)
	if n != size {
		return &storage.Error{Kind: storage.KindInternal, Message: "short read"}
	}
	f.uploads = append(f.uploads, struct {
		path string
		size int64
	}{path, size})
	return nil
}

func newTestController(addr *policystore.AddressRecord, validSender bool) (*Controller, *fakeStore, *fakeStorageClient) {
	store := &fakeStore{addr: addr, validSender: validSender}
	client := &fakeStorageClient{}
	registry := storage.NewRegistry(client, nil, nil)
	c := NewController(store, sessioncache.New(), registry, nil)
	return c, store, client
}

func happyAddress() *policystore.AddressRecord {
	return &policystore.AddressRecord{
		Address:        "bob@vaulty.net",
		AddressID:      uuid.New(),
		UserID:         uuid.New(),
		MaxEmailSize:   5 * 1024 * 1024,
		EmailQuota:     1000,
		StorageQuota:   100 * 1024 * 1024,
		StorageBackend: "Dropbox",
		StoragePath:    "/user/path",
		IsActive:       true,
	}
}

func TestPostfixEmailHappyPath(t *testing.T) {
	addr := happyAddress()
	c, store, _ := newTestController(addr, true)

	msg := mimemodel.Message{
		UUID:            uuid.New(),
		Sender:          "alice@example.com",
		Recipients:      []string{"bob@vaulty.net"},
		Body:            "hello",
		Size:            5,
		AttachmentCount: 1,
	}
	body, _ := json.Marshal(msg)

	req := httptest.NewRequest(http.MethodPost, "/postfix/email", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	c.PostfixEmail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
	if store.numInserted != 1 {
		t.Fatalf("expected 1 insert, got %d", store.numInserted)
	}
	if !c.Cache.Contains(msg.UUID) {
		t.Fatal("expected session inserted for message with attachments")
	}
}

func TestPostfixEmailInvalidRecipient(t *testing.T) {
	c, store, _ := newTestController(nil, true)

	msg := mimemodel.Message{UUID: uuid.New(), Sender: "alice@example.com", Recipients: []string{"nobody@vaulty.net"}}
	body, _ := json.Marshal(msg)

	req := httptest.NewRequest(http.MethodPost, "/postfix/email", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	c.PostfixEmail(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("got status %d, want 422", rec.Code)
	}
	if store.numInserted != 0 {
		t.Fatalf("expected no insert on invalid recipient, got %d", store.numInserted)
	}
}

func TestPostfixEmailSenderNotWhitelisted(t *testing.T) {
	addr := happyAddress()
	addr.WhitelistEnabled = true
	c, store, _ := newTestController(addr, false)

	msg := mimemodel.Message{UUID: uuid.New(), Sender: "eve@example.com", Recipients: []string{"bob@vaulty.net"}}
	body, _ := json.Marshal(msg)

	req := httptest.NewRequest(http.MethodPost, "/postfix/email", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	c.PostfixEmail(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("got status %d, want 422", rec.Code)
	}
	if store.numInserted != 0 {
		t.Fatalf("expected no insert row on whitelist rejection, got %d", store.numInserted)
	}

	var result httpapi.ServerResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Error == nil || result.Error.Kind != "SenderNotWhitelisted" {
		t.Fatalf("got %+v", result.Error)
	}
}

func TestPostfixEmailQuotaExceeded(t *testing.T) {
	addr := happyAddress()
	addr.MaxEmailSize = 4
	c, store, _ := newTestController(addr, true)

	msg := mimemodel.Message{UUID: uuid.New(), Sender: "alice@example.com", Recipients: []string{"bob@vaulty.net"}, Size: 10}
	body, _ := json.Marshal(msg)

	req := httptest.NewRequest(http.MethodPost, "/postfix/email", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	c.PostfixEmail(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("got status %d, want 422", rec.Code)
	}
	if len(store.statusErrors) != 1 {
		t.Fatalf("expected one status-failure log, got %d", len(store.statusErrors))
	}
}

func TestPostfixAttachmentHappyPathEvictsOnTerminal(t *testing.T) {
	addr := happyAddress()
	c, _, client := newTestController(addr, true)

	msg := mimemodel.Message{UUID: uuid.New(), AttachmentCount: 1}
	c.Cache.Insert(msg, *addr)

	payload := []byte("pngdata")
	req := httptest.NewRequest(http.MethodPost, "/postfix/attachment", bytes.NewReader(payload))
	req.ContentLength = int64(len(payload))
	req.Header.Set(headerEmailID, msg.UUID.String())
	req.Header.Set(headerAttachmentName, "pic.png")
	req.Header.Set(headerAttachmentIndex, "0")

	rec := httptest.NewRecorder()
	c.PostfixAttachment(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
	if c.Cache.Contains(msg.UUID) {
		t.Fatal("expected session evicted after terminal attachment")
	}
	if len(client.uploads) != 1 || client.uploads[0].path != "/user/path/pic.png" {
		t.Fatalf("got uploads %+v", client.uploads)
	}
}

func TestPostfixAttachmentIdempotentRetry(t *testing.T) {
	addr := happyAddress()
	c, _, client := newTestController(addr, true)

	msg := mimemodel.Message{UUID: uuid.New(), AttachmentCount: 2}
	c.Cache.Insert(msg, *addr)

	doUpload := func(index int) int {
		payload := []byte("data")
		req := httptest.NewRequest(http.MethodPost, "/postfix/attachment", bytes.NewReader(payload))
		req.ContentLength = int64(len(payload))
		req.Header.Set(headerEmailID, msg.UUID.String())
		req.Header.Set(headerAttachmentName, "a"+strconv.Itoa(index))
		req.Header.Set(headerAttachmentIndex, strconv.Itoa(index))
		rec := httptest.NewRecorder()
		c.PostfixAttachment(rec, req)
		return rec.Code
	}

	if code := doUpload(0); code != http.StatusOK {
		t.Fatalf("first upload: got %d", code)
	}
	if code := doUpload(0); code != http.StatusOK {
		t.Fatalf("retry upload: got %d", code)
	}
	if len(client.uploads) != 1 {
		t.Fatalf("expected exactly one real upload on idempotent retry, got %d", len(client.uploads))
	}
}

func TestPostfixAttachmentMissingSession(t *testing.T) {
	addr := happyAddress()
	c, _, _ := newTestController(addr, true)

	req := httptest.NewRequest(http.MethodPost, "/postfix/attachment", bytes.NewReader([]byte("x")))
	req.ContentLength = 1
	req.Header.Set(headerEmailID, uuid.New().String())
	req.Header.Set(headerAttachmentName, "a")
	req.Header.Set(headerAttachmentIndex, "0")

	rec := httptest.NewRecorder()
	c.PostfixAttachment(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d, want 500", rec.Code)
	}
}
