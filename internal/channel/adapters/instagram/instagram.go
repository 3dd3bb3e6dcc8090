// Package instagram implements the Instagram direct-message channel adapter.
// Authorization is OAuth; tokens expire 60 days after issuance. Recipients
// are addressed by username and resolved to a scoped user id before send.
package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/inboxflow/inboxflow/internal/channel"
	"github.com/inboxflow/inboxflow/internal/channel/adapters/common"
	"github.com/inboxflow/inboxflow/internal/config"
)

const (
	defaultAPIBase  = "https://graph.instagram.com"
	oauthAuthURL    = "https://api.instagram.com/oauth/authorize"
	oauthTokenURL   = "https://api.instagram.com/oauth/access_token"
	tokenLifetime   = 60 * 24 * time.Hour
	graphAPIVersion = "v23.0"
)

// Adapter implements Sender, HistoryProvider, RecipientResolver, Authorizer
// and MediaLister for Instagram.
type Adapter struct {
	logger  *slog.Logger
	oauth   *oauth2.Config
	http    *http.Client
	store   channel.RawStore
	apiBase string
	now     func() time.Time
}

// Option tweaks adapter construction. Used by tests to point the adapter at
// a local stub server.
type Option func(*Adapter)

// WithAPIBase overrides the graph API base URL.
func WithAPIBase(base string) Option {
	return func(a *Adapter) { a.apiBase = strings.TrimRight(base, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.http = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

func New(log *slog.Logger, cfg config.OAuthAppConfig, store channel.RawStore, opts ...Option) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{
		logger: log.With(slog.String("adapter", "instagram")),
		oauth: &oauth2.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes: []string{
				"instagram_business_basic",
				"instagram_business_manage_messages",
			},
			Endpoint: oauth2.Endpoint{
				AuthURL:  oauthAuthURL,
				TokenURL: oauthTokenURL,
			},
		},
		http:    common.NewHTTPClient(),
		store:   store,
		apiBase: defaultAPIBase,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Type() channel.ChannelType { return channel.ChannelType("instagram") }

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        a.Type(),
		DisplayName: "Instagram",
		OAuth:       true,
		RecipientSpec: channel.RecipientSpec{
			Field:   "recipientUsername",
			Format:  "username",
			Example: "shop.customer",
		},
	}
}

// AuthCodeURL returns the provider authorization URL for the operator.
func (a *Adapter) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

// ExchangeCode trades the callback code for an access token, fetches the
// account profile, and returns a credential expiring 60 days out.
func (a *Adapter) ExchangeCode(ctx context.Context, code string) (channel.Credential, error) {
	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return channel.Credential{}, fmt.Errorf("exchange authorization code: %w", common.MapTransportError(err))
	}

	accountID, username, err := a.fetchProfile(ctx, tok.AccessToken)
	if err != nil {
		return channel.Credential{}, err
	}
	if accountID == "" {
		if raw, ok := tok.Extra("user_id").(string); ok {
			accountID = raw
		}
	}

	return channel.Credential{
		Channel:     a.Type(),
		AccountID:   accountID,
		AccessToken: tok.AccessToken,
		DisplayName: username,
		ExpiresAt:   a.now().Add(tokenLifetime),
	}, nil
}

func (a *Adapter) fetchProfile(ctx context.Context, token string) (id, username string, err error) {
	var profile struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	endpoint := fmt.Sprintf("%s/%s/me?fields=id,username", a.apiBase, graphAPIVersion)
	if err := a.getJSON(ctx, endpoint, token, &profile); err != nil {
		return "", "", fmt.Errorf("fetch profile: %w", err)
	}
	return profile.ID, profile.Username, nil
}

// ResolveRecipient looks up an Instagram username and returns the scoped
// user id Send expects.
func (a *Adapter) ResolveRecipient(ctx context.Context, cred channel.Credential, raw string) (string, error) {
	username := strings.TrimPrefix(strings.TrimSpace(raw), "@")
	if username == "" {
		return "", fmt.Errorf("%w: empty username", channel.ErrRecipientNotFound)
	}
	if cred.Expired(a.now()) {
		return "", fmt.Errorf("%w: account %s", channel.ErrCredentialExpired, cred.AccountID)
	}

	var user struct {
		ID string `json:"id"`
	}
	endpoint := fmt.Sprintf("%s/%s/%s?fields=id,username", a.apiBase, graphAPIVersion, url.PathEscape(username))
	if err := a.getJSON(ctx, endpoint, cred.AccessToken, &user); err != nil {
		return "", fmt.Errorf("resolve %q: %w", username, err)
	}
	if user.ID == "" {
		return "", fmt.Errorf("%w: %q", channel.ErrRecipientNotFound, username)
	}
	return user.ID, nil
}

// Send delivers a direct message. The credential is checked for expiry
// before any network call is made.
func (a *Adapter) Send(ctx context.Context, cred channel.Credential, recipient, content string) (channel.DeliveryReceipt, error) {
	if cred.Expired(a.now()) {
		return channel.DeliveryReceipt{}, fmt.Errorf("%w: account %s", channel.ErrCredentialExpired, cred.AccountID)
	}

	body, err := json.Marshal(map[string]any{
		"recipient": map[string]string{"id": recipient},
		"message":   map[string]string{"text": content},
	})
	if err != nil {
		return channel.DeliveryReceipt{}, fmt.Errorf("encode send request: %w", err)
	}

	var resp struct {
		RecipientID string `json:"recipient_id"`
		MessageID   string `json:"message_id"`
	}
	endpoint := fmt.Sprintf("%s/%s/me/messages", a.apiBase, graphAPIVersion)
	if err := a.postJSON(ctx, endpoint, cred.AccessToken, body, &resp); err != nil {
		return channel.DeliveryReceipt{}, fmt.Errorf("send message: %w", err)
	}

	sentAt := a.now().UTC()
	if err := a.AppendHistory(ctx, recipient, cred.AccountID, content, sentAt); err != nil {
		a.logger.Warn("sent message not recorded in history",
			slog.String("conversation_id", recipient), slog.Any("error", err))
	}

	return channel.DeliveryReceipt{
		Channel:   a.Type(),
		MessageID: resp.MessageID,
		Recipient: recipient,
		SentAt:    sentAt,
	}, nil
}

// ListMedia returns the connected account's published posts. Video entries
// carry their thumbnail as the media URL since the video asset itself is not
// embeddable in the inbox.
func (a *Adapter) ListMedia(ctx context.Context, cred channel.Credential) ([]channel.MediaPost, error) {
	if cred.Expired(a.now()) {
		return nil, fmt.Errorf("%w: account %s", channel.ErrCredentialExpired, cred.AccountID)
	}

	var resp struct {
		Data []struct {
			ID           string `json:"id"`
			Caption      string `json:"caption"`
			MediaType    string `json:"media_type"`
			MediaURL     string `json:"media_url"`
			ThumbnailURL string `json:"thumbnail_url"`
			Permalink    string `json:"permalink"`
			Timestamp    string `json:"timestamp"`
		} `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/%s/me/media?fields=id,caption,media_url,media_type,thumbnail_url,permalink,timestamp",
		a.apiBase, graphAPIVersion)
	if err := a.getJSON(ctx, endpoint, cred.AccessToken, &resp); err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}

	out := make([]channel.MediaPost, 0, len(resp.Data))
	for _, item := range resp.Data {
		mediaURL := item.MediaURL
		if item.MediaType == "VIDEO" {
			mediaURL = item.ThumbnailURL
		}
		out = append(out, channel.MediaPost{
			ID:        item.ID,
			Caption:   item.Caption,
			MediaType: item.MediaType,
			MediaURL:  mediaURL,
			Permalink: item.Permalink,
			Timestamp: item.Timestamp,
		})
	}
	return out, nil
}

// historyPayload is the channel-native stored shape for Instagram entries.
type historyPayload struct {
	SenderID string    `json:"sender_id"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sent_at"`
}

func (a *Adapter) AppendHistory(ctx context.Context, conversationID, senderID, content string, sentAt time.Time) error {
	payload, err := json.Marshal(historyPayload{SenderID: senderID, Message: content, SentAt: sentAt})
	if err != nil {
		return fmt.Errorf("encode history payload: %w", err)
	}
	return a.store.Append(ctx, a.Type(), conversationID, payload, sentAt)
}

func (a *Adapter) FetchHistory(ctx context.Context, conversationID string) ([]channel.RawMessage, error) {
	records, err := a.store.List(ctx, a.Type(), conversationID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]channel.RawMessage, 0, len(records))
	for _, rec := range records {
		var p historyPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			a.logger.Warn("skipping undecodable history entry",
				slog.String("conversation_id", conversationID), slog.Any("error", err))
			continue
		}
		sentAt := p.SentAt
		if sentAt.IsZero() {
			sentAt = rec.SentAt
		}
		out = append(out, channel.RawMessage{SenderID: p.SenderID, Content: p.Message, SentAt: sentAt})
	}
	return out, nil
}

func (a *Adapter) getJSON(ctx context.Context, endpoint, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return a.do(req, out)
}

func (a *Adapter) postJSON(ctx context.Context, endpoint, token string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, out)
}

func (a *Adapter) do(req *http.Request, out any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		return common.MapTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return common.MapTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return common.MapGraphError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", channel.ErrProviderUnknown, err)
	}
	return nil
}
