// Package handlers contains the echo HTTP handlers for the inbox API.
package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/inboxflow/inboxflow/internal/assignment"
	"github.com/inboxflow/inboxflow/internal/channel"
	"github.com/inboxflow/inboxflow/internal/credential"
)

// ErrorResponse is the wire shape for every error the API returns. Code is
// a stable machine-readable identifier; Error is a human-readable message.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// channelError maps the shared error taxonomy onto HTTP statuses. Raw
// provider errors never reach the client; the taxonomy is the boundary.
func channelError(err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, channel.ErrCredentialExpired),
		errors.Is(err, channel.ErrCredentialMissing):
		status = http.StatusUnauthorized
	case errors.Is(err, channel.ErrRecipientNotFound):
		status = http.StatusNotFound
	case errors.Is(err, channel.ErrContentRejected),
		errors.Is(err, channel.ErrEmptyConversation),
		errors.Is(err, channel.ErrUnsupportedChannel):
		status = http.StatusBadRequest
	case errors.Is(err, credential.ErrNotFound),
		errors.Is(err, assignment.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	}
	return echo.NewHTTPError(status, ErrorResponse{Error: err.Error(), Code: channel.Code(err)})
}
