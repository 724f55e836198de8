// Package httpapi wires the chi router, Basic-auth middleware, and the
// ServerResult response envelope that the filter⇆server wire protocol is
// built on.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aksiksi/vaulty/internal/storage"
	"github.com/aksiksi/vaulty/internal/vaultyerr"
)

// ServerResult is the JSON envelope returned by every /postfix/* endpoint.
type ServerResult struct {
	Success         bool             `json:"success"`
	Message         string           `json:"message,omitempty"`
	StorageBackend  storage.Backend  `json:"storage_backend,omitempty"`
	NumAttachments  int              `json:"num_attachments,omitempty"`
	Error           *vaultyerr.Error `json:"error,omitempty"`
}

// WriteSuccess writes a 200 ServerResult.
func WriteSuccess(w http.ResponseWriter, result ServerResult) {
	result.Success = true
	writeJSON(w, http.StatusOK, result)
}

// WriteError maps err to its HTTP status (per the closed error taxonomy)
// and writes the corresponding ServerResult body. It also logs the
// rejection, grounded on the original's centralized handle_rejection.
func WriteError(logger *slog.Logger, w http.ResponseWriter, err *vaultyerr.Error) {
	status := vaultyerr.HTTPStatus(err)
	if logger != nil {
		logger.Warn("request rejected", slog.String("kind", string(err.Kind)), slog.Int("status", status), slog.String("error", err.Error()))
	}
	writeJSON(w, status, ServerResult{Success: false, Message: err.Error(), Error: err})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
