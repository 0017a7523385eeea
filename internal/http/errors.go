package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/ticketline/admission/internal/domain"
)

const (
	codeNotFound           = "not_found"
	codeInvalidRequest     = "invalid_request"
	codeSoldOut            = "sold_out"
	codeHoldExpired        = "hold_expired"
	codeAlreadyTerminal    = "already_terminal"
	codePaymentRefMismatch = "payment_ref_mismatch"
	codeGone               = "gone"
	codeConflictRetry      = "conflict_retry"
	codeInternalError      = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps domain outcomes onto HTTP statuses. SoldOut and the
// terminal conflicts are expected buyer-facing outcomes; only unknown
// errors become a 500.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.Is(err, domain.ErrSoldOut):
		return http.StatusConflict, codeSoldOut
	case errors.Is(err, domain.ErrHoldExpired):
		return http.StatusGone, codeHoldExpired
	case errors.Is(err, domain.ErrAlreadyTerminal):
		return http.StatusConflict, codeAlreadyTerminal
	case errors.Is(err, domain.ErrPaymentRefMismatch):
		return http.StatusConflict, codePaymentRefMismatch
	case errors.Is(err, domain.ErrSessionNotActive):
		return http.StatusGone, codeGone
	case errors.Is(err, domain.ErrSerializationFailure):
		return http.StatusConflict, codeConflictRetry
	default:
		return http.StatusInternalServerError, codeInternalError
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload, err := json.Marshal(errorResponse{Error: msg, Code: code})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, body any) []byte {
	data, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "encode response")
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	return data
}
