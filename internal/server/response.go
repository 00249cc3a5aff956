package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prism-ai/prism/internal/mcp"
	"github.com/prism-ai/prism/internal/provider"
	"github.com/prism-ai/prism/internal/secrets"
	"github.com/prism-ai/prism/pkg/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInvalidConfig  = "INVALID_CONFIG"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeNotConnected   = "NOT_CONNECTED"
	ErrCodeAuthRequired   = "AUTH_REQUIRED"
	ErrCodeProviderError  = "PROVIDER_ERROR"
	ErrCodeUnavailable    = "UNAVAILABLE"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

// writeErrorWithDetails writes an error response with details.
func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeDomainError maps package errors to status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var cfgErr *types.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		writeErrorWithDetails(w, http.StatusBadRequest, ErrCodeInvalidConfig, err.Error(), map[string]any{
			"serverId": cfgErr.ServerID,
			"field":    cfgErr.Field,
		})
	case errors.Is(err, mcp.ErrServerNotFound), errors.Is(err, secrets.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, mcp.ErrNotConnected):
		writeError(w, http.StatusConflict, ErrCodeNotConnected, err.Error())
	case errors.Is(err, mcp.ErrAuthRequired):
		writeError(w, http.StatusUnauthorized, ErrCodeAuthRequired, err.Error())
	case errors.Is(err, provider.ErrUnknownVendor):
		writeError(w, http.StatusBadRequest, ErrCodeProviderError, err.Error())
	default:
		writeError(w, http.StatusBadGateway, ErrCodeUnavailable, err.Error())
	}
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
