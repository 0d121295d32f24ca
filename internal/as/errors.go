package as

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coreauth/coreauth/internal/apperr"
)

// RFC 6749 §5.2 error codes.
const (
	ErrInvalidRequest       = "invalid_request"
	ErrInvalidClient        = "invalid_client"
	ErrInvalidGrant         = "invalid_grant"
	ErrUnauthorizedClient   = "unauthorized_client"
	ErrUnsupportedGrantType = "unsupported_grant_type"
	ErrInvalidScope         = "invalid_scope"
	ErrServerError          = "server_error"
)

// oauthErrorBody is the {error, error_description} shape every RFC
// 6749/7662/7009 failure response shares.
type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteTokenError writes an OAuth token-endpoint error response, grounded
// on the teacher's tokenErrHelper.
func WriteTokenError(w http.ResponseWriter, logger *slog.Logger, code, description string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(oauthErrorBody{Error: code, ErrorDescription: description}); err != nil {
		logger.Error("failed to write oauth error response", "error", err)
	}
}

// ClassifyError maps an apperr.Kind surfaced by the token/introspect/revoke
// handlers to the RFC 6749 error code and HTTP status to respond with.
func ClassifyError(err error) (code string, status int) {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidInput, apperr.KindValidation, apperr.KindBadRequest:
		return ErrInvalidRequest, http.StatusBadRequest
	case apperr.KindForbidden:
		return ErrInvalidClient, http.StatusUnauthorized
	case apperr.KindInvalidToken, apperr.KindTokenExpired:
		return ErrInvalidGrant, http.StatusBadRequest
	case apperr.KindNotFound:
		return ErrInvalidGrant, http.StatusBadRequest
	case apperr.KindRateLimited:
		return ErrInvalidRequest, http.StatusTooManyRequests
	default:
		return ErrServerError, http.StatusInternalServerError
	}
}
