// Package whatsapp implements the WhatsApp Cloud channel adapter. There is
// no OAuth flow: the access token is issued per phone number id and does
// not expire, so the credential is seeded from configuration at startup.
// Recipients are phone numbers, normalized to bare digits before send.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/inboxflow/inboxflow/internal/channel"
	"github.com/inboxflow/inboxflow/internal/channel/adapters/common"
	"github.com/inboxflow/inboxflow/internal/config"
)

const (
	defaultAPIBase  = "https://graph.facebook.com"
	graphAPIVersion = "v23.0"
)

// Adapter implements Sender, HistoryProvider and RecipientResolver for
// WhatsApp.
type Adapter struct {
	logger        *slog.Logger
	http          *http.Client
	store         channel.RawStore
	phoneNumberID string
	apiBase       string
	now           func() time.Time
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

func New(log *slog.Logger, cfg config.WhatsAppConfig, store channel.RawStore, opts ...Option) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{
		logger:        log.With(slog.String("adapter", "whatsapp")),
		http:          common.NewHTTPClient(),
		store:         store,
		phoneNumberID: cfg.PhoneNumberID,
		apiBase:       defaultAPIBase,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Type() channel.ChannelType { return channel.ChannelType("whatsapp") }

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        a.Type(),
		DisplayName: "WhatsApp",
		OAuth:       false,
		RecipientSpec: channel.RecipientSpec{
			Field:   "phoneNumber",
			Format:  "international phone number, punctuation ignored",
			Example: "+49 170 1234567",
		},
	}
}

// NormalizePhone strips every non-digit rune from a phone number.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolveRecipient normalizes a phone number to bare digits. A number with
// no digits at all cannot be delivered to.
func (a *Adapter) ResolveRecipient(_ context.Context, _ channel.Credential, raw string) (string, error) {
	digits := NormalizePhone(raw)
	if digits == "" {
		return "", fmt.Errorf("%w: %q has no digits", channel.ErrRecipientNotFound, raw)
	}
	return digits, nil
}

func (a *Adapter) Send(ctx context.Context, cred channel.Credential, recipient, content string) (channel.DeliveryReceipt, error) {
	if cred.Expired(a.now()) {
		return channel.DeliveryReceipt{}, fmt.Errorf("%w: phone number %s", channel.ErrCredentialExpired, a.phoneNumberID)
	}

	body, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                recipient,
		"type":              "text",
		"text":              map[string]string{"body": content},
	})
	if err != nil {
		return channel.DeliveryReceipt{}, fmt.Errorf("encode send request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/messages", a.apiBase, graphAPIVersion, a.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return channel.DeliveryReceipt{}, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return channel.DeliveryReceipt{}, fmt.Errorf("send message: %w", common.MapTransportError(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return channel.DeliveryReceipt{}, fmt.Errorf("send message: %w", common.MapTransportError(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return channel.DeliveryReceipt{}, fmt.Errorf("send message: %w", common.MapGraphError(resp.StatusCode, data))
	}

	var sendResp struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &sendResp); err != nil {
		return channel.DeliveryReceipt{}, fmt.Errorf("%w: decode response: %v", channel.ErrProviderUnknown, err)
	}
	messageID := ""
	if len(sendResp.Messages) > 0 {
		messageID = sendResp.Messages[0].ID
	}

	sentAt := a.now().UTC()
	if err := a.AppendHistory(ctx, recipient, a.phoneNumberID, content, sentAt); err != nil {
		a.logger.Warn("sent message not recorded in history",
			slog.String("conversation_id", recipient), slog.Any("error", err))
	}

	return channel.DeliveryReceipt{
		Channel:   a.Type(),
		MessageID: messageID,
		Recipient: recipient,
		SentAt:    sentAt,
	}, nil
}

// historyPayload is the channel-native stored shape for WhatsApp entries.
type historyPayload struct {
	WaID   string    `json:"wa_id"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

func (a *Adapter) AppendHistory(ctx context.Context, conversationID, senderID, content string, sentAt time.Time) error {
	payload, err := json.Marshal(historyPayload{WaID: senderID, Body: content, SentAt: sentAt})
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
		out = append(out, channel.RawMessage{SenderID: p.WaID, Content: p.Body, SentAt: sentAt})
	}
	return out, nil
}
