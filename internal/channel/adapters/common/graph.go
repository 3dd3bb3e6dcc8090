// Package common holds helpers shared by the graph-style channel adapters.
package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/inboxflow/inboxflow/internal/channel"
)

// RequestTimeout bounds every provider HTTP call.
const RequestTimeout = 15 * time.Second

// NewHTTPClient returns the HTTP client adapters use for provider calls.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: RequestTimeout}
}

// GraphError is the provider error envelope shared by the graph-style APIs.
type GraphError struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		Subcode   int    `json:"error_subcode"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// Graph error codes that have a stable meaning across the provider APIs.
const (
	graphCodeInvalidToken  = 190
	graphCodeParam         = 100
	graphCodePolicyBlocked = 368
	graphCodeLimitReached  = 613
)

// MapTransportError classifies a failed round trip (no response received).
func MapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", channel.ErrProviderTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", channel.ErrProviderTimeout, err)
	}
	return fmt.Errorf("%w: %v", channel.ErrDownstreamUnavailable, err)
}

// MapGraphError classifies a non-2xx provider response body into the shared
// taxonomy. Unrecognized payloads map to ErrProviderUnknown so raw provider
// errors never leak upward.
func MapGraphError(status int, body []byte) error {
	var payload GraphError
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		switch payload.Error.Code {
		case graphCodeInvalidToken:
			return fmt.Errorf("%w: %s", channel.ErrCredentialExpired, payload.Error.Message)
		case graphCodeParam:
			return fmt.Errorf("%w: %s", channel.ErrRecipientNotFound, payload.Error.Message)
		case graphCodePolicyBlocked, graphCodeLimitReached:
			return fmt.Errorf("%w: %s", channel.ErrContentRejected, payload.Error.Message)
		}
		return fmt.Errorf("%w: %s (code %d)", channel.ErrProviderUnknown, payload.Error.Message, payload.Error.Code)
	}
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: status %d", channel.ErrCredentialExpired, status)
	case http.StatusNotFound:
		return fmt.Errorf("%w: status %d", channel.ErrRecipientNotFound, status)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", channel.ErrProviderTimeout, status)
	}
	return fmt.Errorf("%w: status %d", channel.ErrProviderUnknown, status)
}
