package filter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aksiksi/vaulty/internal/httpapi"
	"github.com/aksiksi/vaulty/internal/vaultyerr"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

const sampleMail = "Subject: Hi\r\nMessage-ID: <abc@example.com>\r\n\r\nHello there.\r\n"

func TestRunEmptySenderIsNoop(t *testing.T) {
	code := Run(context.Background(), discardLogger(), Options{}, "", nil, []byte(sampleMail))
	if code != ExitOK {
		t.Fatalf("got %d, want ExitOK", code)
	}
}

func TestRunHappyPathNoAttachments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/postfix/email" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(httpapi.ServerResult{Success: true, StorageBackend: "Dropbox"})
	}))
	defer srv.Close()

	code := Run(context.Background(), discardLogger(), Options{ServerAddr: srv.URL, User: "admin", Pass: "test123"},
		"alice@example.com", []string{"bob@vaulty.net"}, []byte(sampleMail))
	if code != ExitOK {
		t.Fatalf("got %d, want ExitOK", code)
	}
}

func TestRunInvalidRecipientExitsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(httpapi.ServerResult{Success: false, Error: vaultyerr.InvalidRecipient()})
	}))
	defer srv.Close()

	code := Run(context.Background(), discardLogger(), Options{ServerAddr: srv.URL, User: "admin", Pass: "test123"},
		"alice@example.com", []string{"nobody@vaulty.net"}, []byte(sampleMail))
	if code != ExitUnavailable {
		t.Fatalf("got %d, want ExitUnavailable", code)
	}
}

func TestRunServerErrorExitsTempfail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(httpapi.ServerResult{Success: false})
	}))
	defer srv.Close()

	code := Run(context.Background(), discardLogger(), Options{ServerAddr: srv.URL, User: "admin", Pass: "test123"},
		"alice@example.com", []string{"bob@vaulty.net"}, []byte(sampleMail))
	if code != ExitTempfail {
		t.Fatalf("got %d, want ExitTempfail", code)
	}
}

func TestRunMalformedMailReturnsValidExitCode(t *testing.T) {
	code := Run(context.Background(), discardLogger(), Options{ServerAddr: "http://127.0.0.1:0"},
		"alice@example.com", []string{"bob@vaulty.net"}, []byte{0x00, 0xff})
	// A byte sequence this short with no headers still parses as an empty
	// message under enmime's lenient parser; assert it does NOT panic and
	// returns a valid exit code, since "fails only when the outer parse
	// cannot produce a tree" is a narrow condition.
	if code != ExitOK && code != ExitUnavailable && code != ExitTempfail {
		t.Fatalf("unexpected exit code %d", code)
	}
}
