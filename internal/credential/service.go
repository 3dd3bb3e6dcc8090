package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/inboxflow/inboxflow/internal/channel"
)

// Service is a read-through cache over the credential store. Reads are
// lock-free beyond an RWMutex on the cache map; writes are last-write-wins,
// matching the store's upsert semantics.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache map[cacheKey]channel.Credential
}

type cacheKey struct {
	channelType channel.ChannelType
	accountID   string
}

// NewService creates a credential service over the given store.
func NewService(log *slog.Logger, store Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		logger: log.With(slog.String("service", "credential")),
		now:    time.Now,
		cache:  map[cacheKey]channel.Credential{},
	}
}

// Upsert stores a credential and refreshes the cache entry for its pair.
func (s *Service) Upsert(ctx context.Context, cred channel.Credential) error {
	cred.AccountID = strings.TrimSpace(cred.AccountID)
	if cred.AccountID == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(cred.AccessToken) == "" {
		return fmt.Errorf("access token is required")
	}
	if err := s.store.Upsert(ctx, cred); err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	s.mu.Lock()
	s.cache[cacheKey{cred.Channel, cred.AccountID}] = cred
	s.mu.Unlock()
	s.logger.Info("credential stored",
		slog.String("channel", cred.Channel.String()),
		slog.String("account_id", cred.AccountID),
		slog.Time("expires_at", cred.ExpiresAt))
	return nil
}

// Get returns the credential for the pair, or ErrNotFound.
func (s *Service) Get(ctx context.Context, channelType channel.ChannelType, accountID string) (channel.Credential, error) {
	key := cacheKey{channelType, strings.TrimSpace(accountID)}
	s.mu.RLock()
	cred, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return cred, nil
	}
	cred, err := s.store.Get(ctx, key.channelType, key.accountID)
	if err != nil {
		return channel.Credential{}, err
	}
	s.mu.Lock()
	s.cache[key] = cred
	s.mu.Unlock()
	return cred, nil
}

// Valid reports whether a stored credential for the pair is still usable.
func (s *Service) Valid(ctx context.Context, channelType channel.ChannelType, accountID string) bool {
	cred, err := s.Get(ctx, channelType, accountID)
	if err != nil {
		return false
	}
	return !cred.Expired(s.now())
}

// Require returns a usable credential for the pair or the taxonomy error the
// caller must surface. It never refreshes an expired credential; expiry is
// terminal until the operator re-authorizes.
func (s *Service) Require(ctx context.Context, channelType channel.ChannelType, accountID string) (channel.Credential, error) {
	cred, err := s.Get(ctx, channelType, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return channel.Credential{}, channel.ErrCredentialMissing
		}
		return channel.Credential{}, fmt.Errorf("%w: %v", channel.ErrDownstreamUnavailable, err)
	}
	if cred.Expired(s.now()) {
		return channel.Credential{}, channel.ErrCredentialExpired
	}
	return cred, nil
}

// Active returns the most recently stored usable credential for the channel.
// It implements channel.CredentialSource for the outbound router.
func (s *Service) Active(ctx context.Context, channelType channel.ChannelType) (channel.Credential, error) {
	cred, err := s.store.Latest(ctx, channelType)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return channel.Credential{}, channel.ErrCredentialMissing
		}
		return channel.Credential{}, fmt.Errorf("%w: %v", channel.ErrDownstreamUnavailable, err)
	}
	if cred.Expired(s.now()) {
		return channel.Credential{}, channel.ErrCredentialExpired
	}
	return cred, nil
}

// ListExpiringBefore returns credentials whose expiry falls before cutoff.
func (s *Service) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]channel.Credential, error) {
	return s.store.ListExpiringBefore(ctx, cutoff)
}
