// Package api exposes the ledger over HTTP. Error responses use a single
// envelope: {error: {code, message, details?}, correlation_id?, timestamp}.
// Internal causes are logged, never serialized.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/veristone/provenance-core/pkg/ledger"
	"github.com/veristone/provenance-core/pkg/proof"
)

// ErrorBody is the user-visible error payload.
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorEnvelope wraps every non-2xx response.
type ErrorEnvelope struct {
	Error         ErrorBody `json:"error"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     string    `json:"timestamp"`
}

// WriteError writes the error envelope with an explicit code.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	envelope := ErrorEnvelope{
		Error:         ErrorBody{Code: code, Message: message},
		CorrelationID: correlationID(r),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}

// WriteLedgerError maps a coded ledger error onto the wire. Uncoded
// errors collapse to INTERNAL_ERROR with a generic message.
func WriteLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, proof.ErrProofNotFound) {
		WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "proof not found")
		return
	}
	if errors.Is(err, ledger.ErrEntryNotFound) {
		WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "entry not found")
		return
	}

	code := ledger.CodeOf(err)
	status := statusOf(code)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("internal server error",
			slog.String("path", r.URL.Path),
			slog.String("correlation_id", correlationID(r)),
			slog.String("error", err.Error()))
		message = "an unexpected error occurred"
	}
	WriteError(w, r, status, string(code), message)
}

func statusOf(code ledger.Code) int {
	switch code {
	case ledger.CodeValidationFailed, ledger.CodeUnrecognizedEventType, ledger.CodeUnsupportedSchema:
		return http.StatusBadRequest
	case ledger.CodeAssetFrozen, ledger.CodeAssetRevoked:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteTooManyRequests writes a 429 with a Retry-After hint.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	WriteError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded; retry later")
}
