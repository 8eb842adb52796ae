// Package utils holds the shared HTTP response and validation helpers used
// by the report server handlers.
package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the wire shape of every error the report server emits.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps successful payloads in a data envelope.
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// errorTypes maps HTTP status codes to the stable error identifiers clients
// key off. Statuses not listed here report as internal_error.
var errorTypes = map[int]string{
	http.StatusBadRequest:      "bad_request",
	http.StatusNotFound:        "not_found",
	http.StatusTooManyRequests: "rate_limit_exceeded",
}

func errorTypeForStatus(status int) string {
	if name, ok := errorTypes[status]; ok {
		return name
	}
	return "internal_error"
}

// WriteJSON writes data as a JSON response with the given status. A nil
// payload writes headers only.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 response with the payload in the data envelope.
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

// WriteError writes an error response for the given status code.
func WriteError(w http.ResponseWriter, status int, message string, details map[string]interface{}) error {
	return WriteJSON(w, status, ErrorResponse{
		Error:   errorTypeForStatus(status),
		Message: message,
		Details: details,
	})
}

// WriteBadRequest writes a 400 response carrying field-level details.
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusBadRequest, message, details)
}

// WriteNotFound writes a 404 response.
func WriteNotFound(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Resource not found"
	}
	return WriteError(w, http.StatusNotFound, message, nil)
}

// WriteTooManyRequests writes a 429 response. Budget exhaustion surfaces
// through this path with the tripped limit in details.
func WriteTooManyRequests(w http.ResponseWriter, message string, details map[string]interface{}) error {
	if message == "" {
		message = "Rate limit exceeded"
	}
	return WriteError(w, http.StatusTooManyRequests, message, details)
}

// WriteInternalServerError writes a 500 response.
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Internal server error"
	}
	return WriteError(w, http.StatusInternalServerError, message, nil)
}
