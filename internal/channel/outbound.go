package channel

import (
	"context"
	"fmt"
	"log/slog"
)

// CredentialSource supplies the subject credential for outbound calls.
// The credential cache implements it; Require fails with
// ErrCredentialMissing or ErrCredentialExpired before any network call.
type CredentialSource interface {
	Active(ctx context.Context, channelType ChannelType) (Credential, error)
}

// Router is the dispatch router: pure selection over the adapter set by
// channel type, with no business logic beyond the mapping.
type Router struct {
	registry    *Registry
	credentials CredentialSource
	logger      *slog.Logger
}

// NewRouter creates a Router over the given registry and credential source.
func NewRouter(log *slog.Logger, registry *Registry, credentials CredentialSource) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		registry:    registry,
		credentials: credentials,
		logger:      log.With(slog.String("service", "router")),
	}
}

// Route delivers content to a conversation on the given channel.
func (r *Router) Route(ctx context.Context, channelType ChannelType, conversationID, content string) (DeliveryReceipt, error) {
	sender, ok := r.registry.GetSender(channelType)
	if !ok {
		return DeliveryReceipt{}, fmt.Errorf("%w: %q", ErrUnsupportedChannel, channelType)
	}
	cred, err := r.credentials.Active(ctx, channelType)
	if err != nil {
		return DeliveryReceipt{}, err
	}
	receipt, err := sender.Send(ctx, cred, conversationID, content)
	if err != nil {
		r.logger.Warn("dispatch failed",
			slog.String("channel", channelType.String()),
			slog.String("conversation_id", conversationID),
			slog.Any("error", err))
		return DeliveryReceipt{}, err
	}
	return receipt, nil
}
