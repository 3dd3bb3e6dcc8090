// Package channel provides a unified abstraction for the messaging channels
// the inbox speaks to. It defines the shared types, the adapter capability
// interfaces, a registry for adapter dispatch, and the outbound router.
package channel

import (
	"strings"
	"time"
)

// ChannelType identifies a messaging platform (e.g., "instagram", "whatsapp").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

func normalizeChannelType(raw string) ChannelType {
	return ChannelType(strings.ToLower(strings.TrimSpace(raw)))
}

// Credential is an access token scoped to one external account on one
// channel, with an absolute expiry instant. A zero ExpiresAt means the
// token does not expire (phone-number channels issue such tokens).
type Credential struct {
	Channel     ChannelType `json:"channel"`
	AccountID   string      `json:"account_id"`
	AccessToken string      `json:"access_token"`
	DisplayName string      `json:"display_name,omitempty"`
	ExpiresAt   time.Time   `json:"expires_at,omitempty"`
}

// Expired reports whether the credential is past its expiry at the given
// instant. Expiry is checked, never enforced by deletion: an expired
// credential stays stored and inert until the operator re-authorizes.
func (c Credential) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return now.After(c.ExpiresAt)
}

// RawMessage is one channel-native history entry after the owning adapter
// has decoded its stored payload. Field names in storage differ per
// channel; this is the shape adapters hand to the transcript normalizer.
type RawMessage struct {
	SenderID string
	Content  string
	SentAt   time.Time
}

// DeliveryReceipt confirms a successful outbound send.
type DeliveryReceipt struct {
	Channel   ChannelType `json:"channel"`
	MessageID string      `json:"message_id"`
	Recipient string      `json:"recipient"`
	SentAt    time.Time   `json:"sent_at"`
}

// ConversationSummary describes one conversation as listed by a channel.
type ConversationSummary struct {
	ID            string      `json:"id"`
	Channel       ChannelType `json:"channel"`
	ParticipantID string      `json:"participant_id,omitempty"`
	Preview       string      `json:"preview,omitempty"`
	MessageCount  int         `json:"message_count,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at,omitempty"`
}

// MediaPost is one item of the connected account's published media. The
// timestamp is passed through in the provider's own format.
type MediaPost struct {
	ID        string `json:"id"`
	Caption   string `json:"caption"`
	MediaType string `json:"media_type"`
	MediaURL  string `json:"media_url"`
	Permalink string `json:"permalink"`
	Timestamp string `json:"timestamp"`
}

// Descriptor holds read-only metadata for a registered channel type.
// It carries no behavior; behavior is expressed through optional interfaces.
type Descriptor struct {
	Type          ChannelType
	DisplayName   string
	OAuth         bool
	RecipientSpec RecipientSpec
}

// RecipientSpec documents what the channel accepts as a delivery target.
type RecipientSpec struct {
	Field   string
	Format  string
	Example string
}

// RawRecord is one stored history row: the channel-native payload plus the
// send instant used for ordering.
type RawRecord struct {
	Payload []byte
	SentAt  time.Time
}
