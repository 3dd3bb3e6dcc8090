// Package transcript converts channel-native message histories into one
// canonical, role-tagged, time-ordered sequence independent of channel.
package transcript

import (
	"sort"
	"time"

	"github.com/inboxflow/inboxflow/internal/channel"
)

// Role tags which side of the conversation produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// CanonicalMessage is one entry of the canonical transcript.
type CanonicalMessage struct {
	ConversationID string              `json:"conversation_id"`
	Channel        channel.ChannelType `json:"channel"`
	Role           Role                `json:"role"`
	Content        string              `json:"content"`
	SentAt         time.Time           `json:"sent_at"`
}

// Normalize sorts raw messages ascending by send time and classifies each
// entry's role against the viewing account's own external id: messages the
// viewer sent are assistant turns, everything else is a user turn.
//
// Normalize is pure and deterministic; an empty input yields an empty
// sequence, never an error. The sort is stable so equal timestamps keep
// their stored order.
func Normalize(channelType channel.ChannelType, conversationID string, raws []channel.RawMessage, viewerID string) []CanonicalMessage {
	out := make([]CanonicalMessage, 0, len(raws))
	for _, raw := range raws {
		role := RoleUser
		if raw.SenderID == viewerID {
			role = RoleAssistant
		}
		out = append(out, CanonicalMessage{
			ConversationID: conversationID,
			Channel:        channelType,
			Role:           role,
			Content:        raw.Content,
			SentAt:         raw.SentAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out
}
