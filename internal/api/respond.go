package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	apperrors "github.com/Sandiman184/e-raport/internal/errors"
	"github.com/Sandiman184/e-raport/internal/logger"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Status string    `json:"status"` // success | error
	Data   any       `json:"data,omitempty"`
	Error  *APIError `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(Response{Status: "success", Data: data})
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck
}

func respondError(w http.ResponseWriter, status int, code, msg, hint string) {
	body, _ := json.Marshal(Response{Status: "error", Error: &APIError{Code: code, Message: msg, Hint: hint}})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck
}

// respondAppError maps the error taxonomy onto HTTP status codes.
func respondAppError(w http.ResponseWriter, r *http.Request, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		respondError(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", err.Error(), "Raise max_upload_bytes or restore from the snapshot directory instead.")
		return
	}

	var ae *apperrors.AppError
	if !errors.As(err, &ae) {
		logger.FromContext(r.Context()).Error("unhandled error", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error", "")
		return
	}

	status := http.StatusInternalServerError
	switch ae.Type {
	case apperrors.TypeInvalidScope, apperrors.TypeConfirmationMismatch, apperrors.TypeConfig:
		status = http.StatusBadRequest
	case apperrors.TypeInvalidBackup:
		status = http.StatusUnprocessableEntity
	case apperrors.TypeStoreNotFound:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	respondError(w, status, string(ae.Type), ae.Error(), ae.Hint)
}
