package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/storage"
)

// Error types used for failures that do not come from the orchestration
// taxonomy.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeNotFound       = "not_found_error"
	ErrorTypeServer         = "server_error"
)

// ErrorBody is the error object of an ErrorResponse.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON envelope of every error reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// HTTPStatusFromError maps an orchestration error to an HTTP status code.
func HTTPStatusFromError(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	var te api.TypedError
	if !errors.As(err, &te) {
		return http.StatusInternalServerError
	}
	switch te.Type() {
	case api.ErrorTypeToolNotFound:
		return http.StatusNotFound
	case api.ErrorTypeValidation:
		return http.StatusBadRequest
	case api.ErrorTypeExecutionLimit:
		return http.StatusTooManyRequests
	case api.ErrorTypeServerNotAvailable, api.ErrorTypeConnection:
		return http.StatusServiceUnavailable
	case api.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case api.ErrorTypeCancelled:
		return 499
	default:
		return http.StatusBadGateway
	}
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing JSON response failed", "error", err)
	}
}

// WriteError writes an ErrorResponse.
func WriteError(w http.ResponseWriter, status int, errType, message string) {
	WriteJSON(w, status, ErrorResponse{Error: ErrorBody{Type: errType, Message: message}})
}

// WriteErrorFrom writes err as an ErrorResponse, deriving the status and
// type from the error taxonomy.
func WriteErrorFrom(w http.ResponseWriter, err error) {
	errType := string(api.ErrorTypeOf(err))
	if errors.Is(err, storage.ErrNotFound) {
		errType = ErrorTypeNotFound
	}
	WriteError(w, HTTPStatusFromError(err), errType, err.Error())
}
