// Package assignment tracks which conversations are handed off to the AI
// responder. The ledger is the durable record; the in-memory hand-off loop
// consults and updates it but never owns it.
package assignment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/inboxflow/inboxflow/internal/channel"
)

// ErrNotFound means no assignment exists for the conversation.
var ErrNotFound = errors.New("assignment not found")

// Status is the lifecycle state of an assignment.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Key identifies one conversation on one channel.
type Key struct {
	Channel        channel.ChannelType `json:"channel"`
	ConversationID string              `json:"conversation_id"`
}

// Assignment is one ledger row. LastResponse holds the most recent
// responder output regardless of delivery outcome; LastDelivered records
// whether that output reached the channel.
type Assignment struct {
	ID              uuid.UUID           `json:"id"`
	Channel         channel.ChannelType `json:"channel"`
	ConversationID  string              `json:"conversation_id"`
	OperatorUserID  string              `json:"operator_user_id,omitempty"`
	Status          Status              `json:"status"`
	BusinessContext string              `json:"business_context,omitempty"`
	LastResponse    string              `json:"last_response,omitempty"`
	LastDelivered   bool                `json:"last_delivered"`
	AssignedAt      time.Time           `json:"assigned_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Key returns the assignment's conversation key.
func (a Assignment) Key() Key {
	return Key{Channel: a.Channel, ConversationID: a.ConversationID}
}

// Store persists assignments.
type Store interface {
	Upsert(ctx context.Context, a Assignment) error
	SetStatus(ctx context.Context, key Key, status Status) error
	RecordResponse(ctx context.Context, key Key, response string, delivered bool) error
	Get(ctx context.Context, key Key) (Assignment, error)
	List(ctx context.Context) ([]Assignment, error)
	ListByStatus(ctx context.Context, status Status) ([]Assignment, error)
}
