package channel

import "errors"

// Shared error taxonomy. Adapters map provider-specific payloads into these
// before anything reaches the orchestrator or the HTTP surface; raw provider
// errors never propagate past the adapter boundary.
var (
	ErrCredentialExpired     = errors.New("credential expired")
	ErrCredentialMissing     = errors.New("credential missing")
	ErrRecipientNotFound     = errors.New("recipient not found")
	ErrContentRejected       = errors.New("content rejected by provider")
	ErrProviderTimeout       = errors.New("provider request timed out")
	ErrProviderUnknown       = errors.New("provider returned an unknown error")
	ErrEmptyConversation     = errors.New("conversation has no messages")
	ErrDownstreamUnavailable = errors.New("downstream service unavailable")
	ErrUnsupportedChannel    = errors.New("unsupported channel type")
)

// Wire codes for the stable {error, code} response shape.
const (
	CodeCredentialExpired     = "CREDENTIAL_EXPIRED"
	CodeCredentialMissing     = "CREDENTIAL_MISSING"
	CodeRecipientNotFound     = "RECIPIENT_NOT_FOUND"
	CodeContentRejected       = "CONTENT_REJECTED"
	CodeProviderTimeout       = "PROVIDER_TIMEOUT"
	CodeProviderUnknown       = "PROVIDER_UNKNOWN"
	CodeEmptyConversation     = "EMPTY_CONVERSATION"
	CodeDownstreamUnavailable = "DOWNSTREAM_UNAVAILABLE"
	CodeUnsupportedChannel    = "UNSUPPORTED_CHANNEL"
)

// Code returns the stable wire code for a taxonomy error, or
// CodeProviderUnknown when the error is not classified.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrCredentialExpired):
		return CodeCredentialExpired
	case errors.Is(err, ErrCredentialMissing):
		return CodeCredentialMissing
	case errors.Is(err, ErrRecipientNotFound):
		return CodeRecipientNotFound
	case errors.Is(err, ErrContentRejected):
		return CodeContentRejected
	case errors.Is(err, ErrProviderTimeout):
		return CodeProviderTimeout
	case errors.Is(err, ErrEmptyConversation):
		return CodeEmptyConversation
	case errors.Is(err, ErrDownstreamUnavailable):
		return CodeDownstreamUnavailable
	case errors.Is(err, ErrUnsupportedChannel):
		return CodeUnsupportedChannel
	default:
		return CodeProviderUnknown
	}
}
