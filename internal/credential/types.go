// Package credential caches channel access credentials keyed by
// (channel, external account). One live credential exists per pair; a new
// connect flow overwrites the prior row. Expiry is checked on read, never
// enforced by deletion; an expired credential stays inert until the
// operator re-runs the authorization flow.
package credential

import (
	"context"
	"errors"
	"time"

	"github.com/inboxflow/inboxflow/internal/channel"
)

// ErrNotFound indicates no credential is stored for the requested pair.
var ErrNotFound = errors.New("credential not found")

// Store persists credentials durably.
type Store interface {
	Upsert(ctx context.Context, cred channel.Credential) error
	Get(ctx context.Context, channelType channel.ChannelType, accountID string) (channel.Credential, error)
	Latest(ctx context.Context, channelType channel.ChannelType) (channel.Credential, error)
	ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]channel.Credential, error)
	Count(ctx context.Context) (int64, error)
}
