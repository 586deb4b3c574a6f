package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nftbridge/starknet-migrator/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// mapError translates domain sentinel errors to HTTP status codes.
// All mapping lives here so individual handlers stay concise.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidWallet),
		errors.Is(err, domain.ErrInvalidProject),
		errors.Is(err, domain.ErrInvalidAccount),
		errors.Is(err, domain.ErrNoTokens),
		errors.Is(err, domain.ErrTooManyTokens),
		errors.Is(err, domain.ErrInvalidTokenID),
		errors.Is(err, domain.ErrMissingSignature):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrMalformedProof),
		errors.Is(err, domain.ErrSignatureRejected),
		errors.Is(err, domain.ErrSignatureReplayed):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrOwnershipUnproven):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrFetch),
		errors.Is(err, domain.ErrEnqueue),
		errors.Is(err, domain.ErrQueueFull):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
