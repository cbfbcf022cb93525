package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// BackendError is a non-2xx response from an LLM backend.
type BackendError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend error (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if repeated.
func (e *BackendError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// MapHTTPError converts a failed backend response into a *BackendError,
// extracting the vendor's error message when the body carries one.
func MapHTTPError(providerName string, resp *http.Response) *BackendError {
	message := ExtractErrorMessage(resp.Body)
	if message == "" {
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			message = "backend authentication failed"
		case resp.StatusCode == http.StatusNotFound:
			message = "backend resource not found"
		case resp.StatusCode == http.StatusTooManyRequests:
			message = "backend rate limit exceeded"
		default:
			message = http.StatusText(resp.StatusCode)
		}
	}
	return &BackendError{Provider: providerName, StatusCode: resp.StatusCode, Message: message}
}

// ExtractErrorMessage reads up to 4 KiB of body and returns the error
// message from any of the common vendor shapes:
//
//	{"error": {"message": "..."}}   OpenAI, Anthropic
//	{"error": "..."}                Ollama
func ExtractErrorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}

	var structured struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &structured) == nil && structured.Error.Message != "" {
		return structured.Error.Message
	}

	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &flat) == nil && flat.Error != "" {
		return flat.Error
	}

	return strings.TrimSpace(string(data))
}
