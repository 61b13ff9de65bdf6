package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"investtrack/internal/core"
	"investtrack/internal/log"
)

const maxBodyBytes = 1 << 20 // 1 MiB

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps the stable error kinds onto HTTP statuses. Not-found
// responses carry the same body whether the resource is missing or owned
// by someone else.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldError, err.Error(),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidPeriod):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrClosedPeriod),
		errors.Is(err, core.ErrAccountHasBalances):
		return http.StatusConflict
	case errors.Is(err, core.ErrAccountNotFound),
		errors.Is(err, core.ErrBalanceNotFound),
		errors.Is(err, core.ErrRateNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidOTP),
		errors.Is(err, core.ErrInvalidToken):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// decodeJSON reads a request body into dst, rejecting unknown fields and
// oversized payloads.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
