package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"serramenti/internal/auth"
	pricing "serramenti/internal/pricing/domain"
	quote "serramenti/internal/quote/domain"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind pricing.ErrorKind) int {
	switch kind {
	case pricing.KindInvalidDimension, pricing.KindMissingParameter:
		return http.StatusBadRequest
	case pricing.KindFrameNotFound, pricing.KindRateTableNotFound:
		return http.StatusNotFound
	case pricing.KindUnknownMaterial:
		return http.StatusUnprocessableEntity
	case pricing.KindInvalidState:
		return http.StatusConflict
	case pricing.KindPersistenceFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var pe *pricing.Error
	switch {
	case errors.As(err, &pe):
		writeJSON(w, StatusForKind(pe.Kind), ErrorResponse{Error: string(pe.Kind), Message: pe.Message, Ref: pe.Ref})
	case errors.Is(err, quote.ErrQuoteNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "quote_not_found", Message: err.Error()})
	case errors.Is(err, quote.ErrDraftChanged):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "draft_changed", Message: "draft changed while finalizing; retry"})
	case errors.Is(err, quote.ErrSnapshotMismatch):
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "snapshot_mismatch", Message: "stored quote failed its integrity check"})
	case errors.Is(err, auth.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "missing identity"})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
