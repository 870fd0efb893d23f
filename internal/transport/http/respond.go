package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"live-challenge-service/internal/domain"
	"live-challenge-service/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// respondError maps domain errors to status codes. Server errors never expose their cause.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFromError(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal server error"
	}
	respondJSON(w, status, errorResponse{Error: msg})
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrChallengeClosed),
		errors.Is(err, domain.ErrPayloadLocked),
		errors.Is(err, domain.ErrSubmissionInFlight):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
