package web

// errors.go provides unified error response handling for the web layer.
//
// Every handler error goes through respondError, which:
//  1. Picks the HTTP status from the error taxonomy (statusFor)
//  2. Maps the error via core.MapError to a user-friendly message and code
//  3. Logs the technical error with the request id for correlation
//  4. Writes an ErrorResponse as JSON

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kcoder666/sheetflow/internal/core"
	"github.com/kcoder666/sheetflow/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// errViewerNotFound is returned for unknown viewer context ids.
var errViewerNotFound = errors.New("viewer not found")

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrJobNotFound), errors.Is(err, errViewerNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNotInitialized):
		return http.StatusConflict
	case errors.Is(err, core.ErrSheetUnavailable), errors.Is(err, core.ErrEmptyWorksheet):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTooManyProcesses):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrEngineUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err server-side and writes its user-facing form.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	args := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", args...)
	} else {
		logger.Warn("request error", args...)
	}

	writeJSONStatus(w, status, ErrorResponse{
		Error:   err.Error(),
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// httpCode labels errors that never reach core.MapError.
func httpCode(status int) string {
	return fmt.Sprintf("HTTP%d", status)
}
