package http

import (
	"encoding/json"
	"net/http"

	"github.com/stephnangue/stash/storage"
)

type errorResponse struct {
	Errors []string `json:"errors"`
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, &errorResponse{Errors: []string{message}})
}

// respondOk writes data as a 200 response, or a bare 200 when data is nil.
func respondOk(w http.ResponseWriter, data any) {
	respondJSON(w, http.StatusOK, data)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// errorToStatusCode maps storage errors onto HTTP status codes.
// Anything unrecognized is a 500.
func errorToStatusCode(err error) int {
	switch {
	case err == storage.ErrInvalidKey:
		return http.StatusBadRequest
	case err == storage.ErrDisposed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
