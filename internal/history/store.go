// Package history is the per-channel raw message store. Rows are
// append-only jsonb documents whose field names are channel-native; the
// owning adapter is the only component that decodes them.
package history

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxflow/inboxflow/internal/channel"
)

// PGStore implements channel.RawStore over Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a raw message store over the given pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Append writes one channel-native payload for the conversation.
func (s *PGStore) Append(ctx context.Context, channelType channel.ChannelType, conversationID string, payload []byte, sentAt time.Time) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channel_messages (channel, conversation_id, payload, sent_at)
		VALUES ($1, $2, $3, $4)`,
		channelType.String(), conversationID, payload, sentAt)
	return err
}

// List returns the stored payloads for a conversation ordered by send time.
func (s *PGStore) List(ctx context.Context, channelType channel.ChannelType, conversationID string) ([]channel.RawRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload, sent_at
		FROM channel_messages
		WHERE channel = $1 AND conversation_id = $2
		ORDER BY sent_at ASC`,
		channelType.String(), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []channel.RawRecord
	for rows.Next() {
		var rec channel.RawRecord
		if err := rows.Scan(&rec.Payload, &rec.SentAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByChannel returns per-channel message counts for the stats endpoint.
func (s *PGStore) CountByChannel(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT channel, count(*)
		FROM channel_messages
		GROUP BY channel`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var (
			ch string
			n  int64
		)
		if err := rows.Scan(&ch, &n); err != nil {
			return nil, err
		}
		counts[ch] = n
	}
	return counts, rows.Err()
}
