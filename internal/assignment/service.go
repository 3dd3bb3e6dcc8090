package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service applies the assignment lifecycle rules on top of the store.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(log *slog.Logger, store Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		logger: log.With(slog.String("service", "assignment")),
		now:    time.Now,
	}
}

// Activate records a conversation as handed off. Re-activating an existing
// assignment refreshes its business context and assigned_at instant while
// keeping its id stable for an already-active row.
func (s *Service) Activate(ctx context.Context, key Key, operatorUserID, businessContext string) (Assignment, error) {
	if key.ConversationID == "" {
		return Assignment{}, fmt.Errorf("activate assignment: empty conversation id")
	}

	a := Assignment{
		ID:              uuid.New(),
		Channel:         key.Channel,
		ConversationID:  key.ConversationID,
		OperatorUserID:  operatorUserID,
		Status:          StatusActive,
		BusinessContext: strings.TrimSpace(businessContext),
		AssignedAt:      s.now().UTC(),
	}
	if existing, err := s.store.Get(ctx, key); err == nil {
		a.ID = existing.ID
	}

	if err := s.store.Upsert(ctx, a); err != nil {
		return Assignment{}, err
	}
	s.logger.Info("conversation assigned",
		slog.String("channel", key.Channel.String()),
		slog.String("conversation_id", key.ConversationID))
	return a, nil
}

// Deactivate marks the assignment inactive. The row is kept so the last
// responder output stays inspectable after hand-back.
func (s *Service) Deactivate(ctx context.Context, key Key) error {
	if err := s.store.SetStatus(ctx, key, StatusInactive); err != nil {
		return err
	}
	s.logger.Info("conversation unassigned",
		slog.String("channel", key.Channel.String()),
		slog.String("conversation_id", key.ConversationID))
	return nil
}

// RecordResponse stores the latest responder output and whether it was
// delivered to the channel.
func (s *Service) RecordResponse(ctx context.Context, key Key, response string, delivered bool) error {
	return s.store.RecordResponse(ctx, key, response, delivered)
}

func (s *Service) Get(ctx context.Context, key Key) (Assignment, error) {
	return s.store.Get(ctx, key)
}

func (s *Service) List(ctx context.Context) ([]Assignment, error) {
	return s.store.List(ctx)
}

// ListActive returns assignments currently handed off to the responder.
func (s *Service) ListActive(ctx context.Context) ([]Assignment, error) {
	return s.store.ListByStatus(ctx, StatusActive)
}
