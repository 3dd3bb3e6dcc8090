package channel

import (
	"context"
	"time"
)

// Adapter is the base interface every channel adapter must implement.
// Further behavior is expressed through the optional capability interfaces
// below; callers look them up through the Registry instead of branching on
// the channel name.
type Adapter interface {
	Type() ChannelType
	Descriptor() Descriptor
}

// Sender delivers an outbound message to an already-resolved recipient and
// returns a receipt. Implementations must refuse expired credentials before
// performing any network call, and on success append the sent message to
// their channel-native history store.
type Sender interface {
	Send(ctx context.Context, cred Credential, recipient, content string) (DeliveryReceipt, error)
}

// HistoryProvider reads and appends the adapter's channel-native
// conversation history. FetchHistory returns entries ordered as stored;
// ordering for presentation is the transcript normalizer's job.
type HistoryProvider interface {
	FetchHistory(ctx context.Context, conversationID string) ([]RawMessage, error)
	AppendHistory(ctx context.Context, conversationID, senderID, content string, sentAt time.Time) error
}

// RecipientResolver turns a user-supplied recipient reference (a username,
// a phone number) into the identifier Send expects. Resolution failures map
// to ErrRecipientNotFound.
type RecipientResolver interface {
	ResolveRecipient(ctx context.Context, cred Credential, raw string) (string, error)
}

// Authorizer is implemented by OAuth-based channels. AuthCodeURL returns the
// provider authorization URL for the operator to visit; ExchangeCode trades
// the callback code for a stored credential.
type Authorizer interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (Credential, error)
}

// ConversationLister enumerates the channel's conversations for the inbox.
type ConversationLister interface {
	ListConversations(ctx context.Context, cred Credential) ([]ConversationSummary, error)
}

// MediaLister enumerates recent media posted by the connected account.
type MediaLister interface {
	ListMedia(ctx context.Context, cred Credential) ([]MediaPost, error)
}

// RawStore persists channel-native message payloads. Each adapter marshals
// and decodes its own payload shape; the store treats payloads as opaque
// documents keyed by (channel, conversation), append-only.
type RawStore interface {
	Append(ctx context.Context, channelType ChannelType, conversationID string, payload []byte, sentAt time.Time) error
	List(ctx context.Context, channelType ChannelType, conversationID string) ([]RawRecord, error)
}
