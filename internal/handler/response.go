package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"noria-api/internal/hashing"
	"noria-api/internal/service"
	"noria-api/internal/util"
)

const maxBodyBytes = 1 << 20

var (
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrInvalidID   = errors.New("invalid id")
	ErrInvalidBody = errors.New("invalid request body")
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta represents list metadata
type Meta struct {
	Total int `json:"total"`
	Limit int `json:"limit,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// responder carries the JSON helpers shared by every handler.
type responder struct {
	logger *zap.Logger
}

func (h responder) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h responder) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", statusCode),
			util.String("message", message),
		)
		// Internal details stay in the logs.
		err = errors.New(http.StatusText(statusCode))
	} else {
		h.logger.Warn("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", statusCode),
			util.String("message", message),
		)
	}
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// respondWithServiceError maps err with getStatusCode; message is used for
// errors that carry no client-facing meaning.
func (h responder) respondWithServiceError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, service.ErrEmailAlreadyExists):
		message = "Email already registered"
	case errors.Is(err, service.ErrJobAlreadyDone):
		message = "Job already completed"
	}
	h.respondWithError(w, getStatusCode(err), err, message)
}

// decodeJSON reads a JSON body of at most maxBodyBytes into v.
func (h responder) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondWithError(w, http.StatusBadRequest, ErrInvalidBody, "Invalid request body")
		return false
	}
	return true
}

func (h responder) parseID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, ErrInvalidID, "Invalid ID format")
		return uuid.Nil, false
	}
	return id, true
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, service.ErrAnalysisNotFound),
		errors.Is(err, service.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, hashing.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrEmailAlreadyExists), errors.Is(err, service.ErrJobAlreadyDone):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
