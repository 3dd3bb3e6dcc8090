package credential

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxflow/inboxflow/internal/channel"
)

// PGStore is the Postgres-backed credential store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a credential store over the given pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Upsert writes the credential, overwriting any prior row for the same
// (channel, account_id) pair. Concurrent upserts are last-write-wins.
func (s *PGStore) Upsert(ctx context.Context, cred channel.Credential) error {
	var expiresAt *time.Time
	if !cred.ExpiresAt.IsZero() {
		expiresAt = &cred.ExpiresAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credentials (channel, account_id, access_token, display_name, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (channel, account_id) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    display_name = EXCLUDED.display_name,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = now()`,
		cred.Channel.String(), cred.AccountID, cred.AccessToken, cred.DisplayName, expiresAt)
	return err
}

// Get returns the credential for the pair, or ErrNotFound.
func (s *PGStore) Get(ctx context.Context, channelType channel.ChannelType, accountID string) (channel.Credential, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT channel, account_id, access_token, display_name, expires_at
		FROM credentials
		WHERE channel = $1 AND account_id = $2`,
		channelType.String(), accountID)
	return scanCredential(row)
}

// Latest returns the most recently updated credential for the channel.
func (s *PGStore) Latest(ctx context.Context, channelType channel.ChannelType) (channel.Credential, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT channel, account_id, access_token, display_name, expires_at
		FROM credentials
		WHERE channel = $1
		ORDER BY updated_at DESC
		LIMIT 1`,
		channelType.String())
	return scanCredential(row)
}

// ListExpiringBefore returns credentials expiring before the cutoff.
// Non-expiring credentials (NULL expires_at) are never returned.
func (s *PGStore) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]channel.Credential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT channel, account_id, access_token, display_name, expires_at
		FROM credentials
		WHERE expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at ASC`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []channel.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// Count returns the number of stored credentials.
func (s *PGStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM credentials`).Scan(&n)
	return n, err
}

func scanCredential(row pgx.Row) (channel.Credential, error) {
	var (
		cred       channel.Credential
		channelRaw string
		expiresAt  *time.Time
	)
	err := row.Scan(&channelRaw, &cred.AccountID, &cred.AccessToken, &cred.DisplayName, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return channel.Credential{}, ErrNotFound
		}
		return channel.Credential{}, err
	}
	cred.Channel = channel.ChannelType(channelRaw)
	if expiresAt != nil {
		cred.ExpiresAt = *expiresAt
	}
	return cred, nil
}
