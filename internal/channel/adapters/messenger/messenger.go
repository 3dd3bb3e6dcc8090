// Package messenger implements the Facebook page-inbox channel adapter.
// Authorization is OAuth against the Facebook login dialog; the credential
// carries a page-scoped token expiring 60 days after issuance. Recipients
// are page-scoped user ids handed out by the page inbox, so resolution is
// a validation step rather than a lookup.
package messenger

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
	"golang.org/x/oauth2/facebook"

	"github.com/inboxflow/inboxflow/internal/channel"
	"github.com/inboxflow/inboxflow/internal/channel/adapters/common"
	"github.com/inboxflow/inboxflow/internal/config"
)

const (
	defaultAPIBase  = "https://graph.facebook.com"
	tokenLifetime   = 60 * 24 * time.Hour
	graphAPIVersion = "v23.0"
)

// Adapter implements Sender, HistoryProvider, RecipientResolver, Authorizer
// and ConversationLister for the Facebook page inbox.
type Adapter struct {
	logger  *slog.Logger
	oauth   *oauth2.Config
	http    *http.Client
	store   channel.RawStore
	apiBase string
	now     func() time.Time
}

type Option func(*Adapter)

func WithAPIBase(base string) Option {
	return func(a *Adapter) { a.apiBase = strings.TrimRight(base, "/") }
}

func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.http = c }
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

func New(log *slog.Logger, cfg config.OAuthAppConfig, store channel.RawStore, opts ...Option) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{
		logger: log.With(slog.String("adapter", "messenger")),
		oauth: &oauth2.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes: []string{
				"pages_show_list",
				"pages_messaging",
				"pages_read_engagement",
			},
			Endpoint: facebook.Endpoint,
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

func (a *Adapter) Type() channel.ChannelType { return channel.ChannelType("messenger") }

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        a.Type(),
		DisplayName: "Messenger",
		OAuth:       true,
		RecipientSpec: channel.RecipientSpec{
			Field:   "conversationId",
			Format:  "page-scoped user id",
			Example: "24031234567890123",
		},
	}
}

func (a *Adapter) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

// ExchangeCode trades the callback code for a user token, then fetches the
// first managed page and returns its page-scoped credential.
func (a *Adapter) ExchangeCode(ctx context.Context, code string) (channel.Credential, error) {
	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return channel.Credential{}, fmt.Errorf("exchange authorization code: %w", common.MapTransportError(err))
	}

	page, err := a.firstPage(ctx, tok.AccessToken)
	if err != nil {
		return channel.Credential{}, err
	}

	return channel.Credential{
		Channel:     a.Type(),
		AccountID:   page.ID,
		AccessToken: page.AccessToken,
		DisplayName: page.Name,
		ExpiresAt:   a.now().Add(tokenLifetime),
	}, nil
}

type page struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
}

func (a *Adapter) firstPage(ctx context.Context, userToken string) (page, error) {
	var accounts struct {
		Data []page `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/%s/me/accounts", a.apiBase, graphAPIVersion)
	if err := a.getJSON(ctx, endpoint, userToken, &accounts); err != nil {
		return page{}, fmt.Errorf("list managed pages: %w", err)
	}
	if len(accounts.Data) == 0 {
		return page{}, fmt.Errorf("%w: account manages no pages", channel.ErrCredentialMissing)
	}
	return accounts.Data[0], nil
}

// ResolveRecipient validates a page-scoped user id. The page inbox is the
// source of these ids, so no remote lookup is needed.
func (a *Adapter) ResolveRecipient(_ context.Context, _ channel.Credential, raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", fmt.Errorf("%w: empty recipient id", channel.ErrRecipientNotFound)
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q is not a page-scoped id", channel.ErrRecipientNotFound, raw)
		}
	}
	return id, nil
}

func (a *Adapter) Send(ctx context.Context, cred channel.Credential, recipient, content string) (channel.DeliveryReceipt, error) {
	if cred.Expired(a.now()) {
		return channel.DeliveryReceipt{}, fmt.Errorf("%w: page %s", channel.ErrCredentialExpired, cred.AccountID)
	}

	body, err := json.Marshal(map[string]any{
		"recipient":      map[string]string{"id": recipient},
		"message":        map[string]string{"text": content},
		"messaging_type": "RESPONSE",
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

// ListConversations enumerates the page's conversation threads.
func (a *Adapter) ListConversations(ctx context.Context, cred channel.Credential) ([]channel.ConversationSummary, error) {
	if cred.Expired(a.now()) {
		return nil, fmt.Errorf("%w: page %s", channel.ErrCredentialExpired, cred.AccountID)
	}

	var convs struct {
		Data []struct {
			ID           string `json:"id"`
			Snippet      string `json:"snippet"`
			MessageCount int    `json:"message_count"`
			UpdatedTime  string `json:"updated_time"`
			Participants struct {
				Data []struct {
					ID string `json:"id"`
				} `json:"data"`
			} `json:"participants"`
		} `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/%s/%s/conversations?fields=%s",
		a.apiBase, graphAPIVersion, url.PathEscape(cred.AccountID),
		url.QueryEscape("id,snippet,message_count,updated_time,participants"))
	if err := a.getJSON(ctx, endpoint, cred.AccessToken, &convs); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]channel.ConversationSummary, 0, len(convs.Data))
	for _, c := range convs.Data {
		summary := channel.ConversationSummary{
			ID:           c.ID,
			Channel:      a.Type(),
			Preview:      c.Snippet,
			MessageCount: c.MessageCount,
		}
		for _, p := range c.Participants.Data {
			if p.ID != cred.AccountID {
				summary.ParticipantID = p.ID
				break
			}
		}
		if ts, err := time.Parse(time.RFC3339, c.UpdatedTime); err == nil {
			summary.UpdatedAt = ts
		}
		out = append(out, summary)
	}
	return out, nil
}

// historyPayload is the channel-native stored shape for Messenger entries.
type historyPayload struct {
	FromID    string    `json:"from_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *Adapter) AppendHistory(ctx context.Context, conversationID, senderID, content string, sentAt time.Time) error {
	payload, err := json.Marshal(historyPayload{FromID: senderID, Text: content, Timestamp: sentAt})
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
		sentAt := p.Timestamp
		if sentAt.IsZero() {
			sentAt = rec.SentAt
		}
		out = append(out, channel.RawMessage{SenderID: p.FromID, Content: p.Text, SentAt: sentAt})
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
