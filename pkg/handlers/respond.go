package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/iddaa-lens/statsync/pkg/credentials"
	"github.com/iddaa-lens/statsync/pkg/logger"
	"github.com/iddaa-lens/statsync/pkg/models/api"
)

// WriteJSON encodes body with the given status
func WriteJSON(w http.ResponseWriter, log *logger.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().
			Err(err).
			Str("action", "response_encode_failed").
			Msg("Failed to encode response")
	}
}

// WriteError answers with an ErrorResponse. The message is sanitized since
// provider errors can echo tokens back.
func WriteError(w http.ResponseWriter, log *logger.Logger, status int, message string) {
	WriteJSON(w, log, status, api.ErrorResponse{Error: credentials.Sanitize(message)})
}

// DecodeJSON reads a JSON request body into dst, rejecting unknown fields
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
