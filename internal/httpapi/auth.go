package httpapi

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aksiksi/vaulty/internal/vaultyerr"
)

// BasicAuth returns middleware that guards /postfix/* with the single
// static credential pair from config. The comparison is a substring match
// of base64(user:pass) against the Authorization header value, matching
// the reference filters.rs implementation verbatim rather than parsing
// the "Basic " scheme token -- the contract is only that auth failures
// produce Unauthorized (401), not that this is a constant-time comparison.
func BasicAuth(logger *slog.Logger, user, pass string) func(http.Handler) http.Handler {
	expected := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				WriteError(logger, w, vaultyerr.MissingHeader("Authorization"))
				return
			}
			if !strings.Contains(header, expected) {
				WriteError(logger, w, vaultyerr.Unauthorized())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
