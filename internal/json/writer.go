package json

import (
	"encoding/json"
	"net/http"

	"github.com/dgellow/auth-relay/internal/apperr"
	"github.com/dgellow/auth-relay/internal/log"
)

// ErrorResponse is the body of every error not routed to a cookie redirect
type ErrorResponse struct {
	Message   string `json:"message"`
	ErrorCode int    `json:"error_code"`
}

// WriteResponse writes a JSON response with the given status code
func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.LogError("Failed to encode JSON response: %v", err)
		return err
	}
	return nil
}

// Write writes a JSON response with 200 OK status
func Write(w http.ResponseWriter, data any) error {
	return WriteResponse(w, http.StatusOK, data)
}

// WriteError writes a {message, error_code} body
func WriteError(w http.ResponseWriter, statusCode int, message string, errorCode int) {
	if err := WriteResponse(w, statusCode, ErrorResponse{Message: message, ErrorCode: errorCode}); err != nil {
		http.Error(w, message, statusCode)
	}
}

// WriteKind writes err using the status and code of its kind
func WriteKind(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	WriteError(w, kind.Status(), apperr.PublicMessage(err), kind.Code())
}

// WriteInternalServerError writes a 500 server failure body
func WriteInternalServerError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message, apperr.KindServer.Code())
}
