package web

// errors.go renders errors as JSON. The technical error is logged with the
// request id; the client gets the mapped user message and its code.

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/dbarchive/internal/archive"
	"github.com/JonMunkholm/dbarchive/internal/core"
	"github.com/JonMunkholm/dbarchive/internal/logging"
	"github.com/JonMunkholm/dbarchive/internal/store"
)

// errNoArchive is returned when an upload request carries no archive.
var errNoArchive = errors.New("no archive provided")

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrTooManyJobs):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrArchiveTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errNoArchive),
		errors.Is(err, archive.ErrParseIO),
		errors.Is(err, context.Canceled):
		return http.StatusBadRequest
	case errors.Is(err, archive.ErrMalformedDocument),
		errors.Is(err, archive.ErrUnexpectedTag),
		errors.Is(err, archive.ErrInvalidColumnType):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTableNotRegistered),
		errors.Is(err, store.ErrUnknownTable):
		return http.StatusNotFound
	case errors.Is(err, archive.ErrNoTablesRegistered):
		return http.StatusConflict
	case errors.Is(err, core.ErrRestoreUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its user message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, r, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}
