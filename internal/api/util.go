package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sealight/filecustody/internal/custody"
	"github.com/sealight/filecustody/internal/db"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondCustodyError maps the custody error taxonomy to HTTP statuses. The
// ordering done by the gateway guarantees AccessDenied is decided before any
// blob-existence check, so no mapping here leaks file existence.
func respondCustodyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, custody.ErrInvalidFilename):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, custody.ErrNameCollision):
		respondError(w, http.StatusConflict, "a file with this name already exists")
	case errors.Is(err, custody.ErrAccessDenied):
		respondError(w, http.StatusForbidden, "access denied for requested file")
	case errors.Is(err, db.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, "file metadata not found for user")
	case errors.Is(err, custody.ErrBlobNotFound):
		respondError(w, http.StatusNotFound, "file not found")
	case errors.Is(err, custody.ErrWrappedKeyUnavailable):
		respondError(w, http.StatusNotFound, "encrypted file key not found")
	default:
		respondError(w, http.StatusInternalServerError, "operation failed")
	}
}
