package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/inboxflow/inboxflow/internal/channel"
	"github.com/inboxflow/inboxflow/internal/config"
)

type memStore struct {
	records []channel.RawRecord
}

func (m *memStore) Append(_ context.Context, _ channel.ChannelType, _ string, payload []byte, sentAt time.Time) error {
	m.records = append(m.records, channel.RawRecord{Payload: payload, SentAt: sentAt})
	return nil
}

func (m *memStore) List(_ context.Context, _ channel.ChannelType, _ string) ([]channel.RawRecord, error) {
	return m.records, nil
}

func testAdapter(t *testing.T, handler http.Handler, store channel.RawStore) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(nil, config.OAuthAppConfig{AppID: "app", AppSecret: "secret"}, store,
		WithAPIBase(srv.URL),
		WithHTTPClient(srv.Client()),
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }),
	)
}

func TestDescriptor_RecipientField(t *testing.T) {
	t.Parallel()
	a := testAdapter(t, http.NotFoundHandler(), &memStore{})

	// The documented field must match what the send-message API binds.
	if got := a.Descriptor().RecipientSpec.Field; got != "conversationId" {
		t.Fatalf("recipient field = %q, want conversationId", got)
	}
}

func TestResolveRecipient(t *testing.T) {
	t.Parallel()
	a := testAdapter(t, http.NotFoundHandler(), &memStore{})

	id, err := a.ResolveRecipient(context.Background(), channel.Credential{}, " 24031234567890123 ")
	if err != nil {
		t.Fatalf("ResolveRecipient: %v", err)
	}
	if id != "24031234567890123" {
		t.Fatalf("id = %q", id)
	}

	for _, raw := range []string{"", "not-an-id", "12a34"} {
		if _, err := a.ResolveRecipient(context.Background(), channel.Credential{}, raw); !errors.Is(err, channel.ErrRecipientNotFound) {
			t.Fatalf("ResolveRecipient(%q): %v, want ErrRecipientNotFound", raw, err)
		}
	}
}

func TestSend_ExpiredCredentialMakesNoNetworkCall(t *testing.T) {
	t.Parallel()
	called := false
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}), &memStore{})

	cred := channel.Credential{
		Channel:     a.Type(),
		AccountID:   "page1",
		AccessToken: "tok",
		ExpiresAt:   time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err := a.Send(context.Background(), cred, "24031", "hello")
	if !errors.Is(err, channel.ErrCredentialExpired) {
		t.Fatalf("Send: %v, want ErrCredentialExpired", err)
	}
	if called {
		t.Fatal("provider was called with an expired credential")
	}
}

func TestSend_SuccessAppendsHistory(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			MessagingType string `json:"messaging_type"`
			Recipient     struct {
				ID string `json:"id"`
			} `json:"recipient"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.MessagingType != "RESPONSE" || body.Recipient.ID != "24031" {
			t.Errorf("request body = %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]string{"recipient_id": "24031", "message_id": "m_abc"})
	}), store)

	cred := channel.Credential{Channel: a.Type(), AccountID: "page1", AccessToken: "tok"}
	receipt, err := a.Send(context.Background(), cred, "24031", "thanks for reaching out")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if receipt.MessageID != "m_abc" {
		t.Fatalf("receipt = %+v", receipt)
	}
	if len(store.records) != 1 {
		t.Fatalf("history records = %d, want 1", len(store.records))
	}
	var payload struct {
		FromID string `json:"from_id"`
		Text   string `json:"text"`
	}
	if err := json.Unmarshal(store.records[0].Payload, &payload); err != nil {
		t.Fatalf("decode stored payload: %v", err)
	}
	if payload.FromID != "page1" || payload.Text != "thanks for reaching out" {
		t.Fatalf("stored payload = %+v", payload)
	}
}

func TestListConversations(t *testing.T) {
	t.Parallel()
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"id":            "t_100",
					"snippet":       "see you tomorrow",
					"message_count": 12,
					"updated_time":  "2025-06-01T09:30:00Z",
					"participants": map[string]any{
						"data": []map[string]string{{"id": "page1"}, {"id": "24031"}},
					},
				},
			},
		})
	}), &memStore{})

	cred := channel.Credential{Channel: a.Type(), AccountID: "page1", AccessToken: "tok"}
	convs, err := a.ListConversations(context.Background(), cred)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("conversations = %d, want 1", len(convs))
	}
	got := convs[0]
	if got.ID != "t_100" || got.ParticipantID != "24031" || got.MessageCount != 12 {
		t.Fatalf("summary = %+v", got)
	}
	if got.Preview != "see you tomorrow" {
		t.Fatalf("preview = %q", got.Preview)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("updated_time not parsed")
	}
}

func TestListConversations_ExpiredCredential(t *testing.T) {
	t.Parallel()
	a := testAdapter(t, http.NotFoundHandler(), &memStore{})
	cred := channel.Credential{
		Channel:   a.Type(),
		AccountID: "page1",
		ExpiresAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err := a.ListConversations(context.Background(), cred)
	if !errors.Is(err, channel.ErrCredentialExpired) {
		t.Fatalf("ListConversations: %v, want ErrCredentialExpired", err)
	}
}
