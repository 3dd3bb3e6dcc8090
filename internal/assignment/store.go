package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxflow/inboxflow/internal/channel"
)

// PGStore persists assignments in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const assignmentColumns = `id, channel, conversation_id, operator_user_id, status,
	business_context, last_response, last_delivered, assigned_at, updated_at`

func (s *PGStore) Upsert(ctx context.Context, a Assignment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ai_assignments
			(id, channel, conversation_id, operator_user_id, status,
			 business_context, last_response, last_delivered, assigned_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (channel, conversation_id) DO UPDATE SET
			operator_user_id = EXCLUDED.operator_user_id,
			status           = EXCLUDED.status,
			business_context = EXCLUDED.business_context,
			assigned_at      = EXCLUDED.assigned_at,
			updated_at       = now()`,
		a.ID, a.Channel.String(), a.ConversationID, a.OperatorUserID, string(a.Status),
		a.BusinessContext, a.LastResponse, a.LastDelivered, a.AssignedAt)
	if err != nil {
		return fmt.Errorf("upsert assignment: %w", err)
	}
	return nil
}

func (s *PGStore) SetStatus(ctx context.Context, key Key, status Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ai_assignments
		SET status = $1, updated_at = now()
		WHERE channel = $2 AND conversation_id = $3`,
		string(status), key.Channel.String(), key.ConversationID)
	if err != nil {
		return fmt.Errorf("set assignment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) RecordResponse(ctx context.Context, key Key, response string, delivered bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ai_assignments
		SET last_response = $1, last_delivered = $2, updated_at = now()
		WHERE channel = $3 AND conversation_id = $4`,
		response, delivered, key.Channel.String(), key.ConversationID)
	if err != nil {
		return fmt.Errorf("record assignment response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, key Key) (Assignment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM ai_assignments
		WHERE channel = $1 AND conversation_id = $2`,
		key.Channel.String(), key.ConversationID)
	return scanAssignment(row)
}

func (s *PGStore) List(ctx context.Context) ([]Assignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM ai_assignments
		ORDER BY assigned_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()
	return collectAssignments(rows)
}

func (s *PGStore) ListByStatus(ctx context.Context, status Status) ([]Assignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM ai_assignments
		WHERE status = $1
		ORDER BY assigned_at DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list assignments by status: %w", err)
	}
	defer rows.Close()
	return collectAssignments(rows)
}

func collectAssignments(rows pgx.Rows) ([]Assignment, error) {
	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	var channelName, status string
	err := row.Scan(&a.ID, &channelName, &a.ConversationID, &a.OperatorUserID, &status,
		&a.BusinessContext, &a.LastResponse, &a.LastDelivered, &a.AssignedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, ErrNotFound
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("scan assignment: %w", err)
	}
	a.Channel = channel.ChannelType(channelName)
	a.Status = Status(status)
	return a, nil
}
