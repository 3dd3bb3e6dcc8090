package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
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

func TestNormalizePhone(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, want string
	}{
		{"+49 170 1234567", "491701234567"},
		{"(555) 123-4567", "5551234567"},
		{"555.123.4567 ext", "5551234567"},
		{"no digits here", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolveRecipient(t *testing.T) {
	t.Parallel()
	a := New(nil, config.WhatsAppConfig{PhoneNumberID: "pn1"}, &memStore{})

	got, err := a.ResolveRecipient(context.Background(), channel.Credential{}, "+49 (170) 123-4567")
	if err != nil {
		t.Fatalf("ResolveRecipient: %v", err)
	}
	if got != "491701234567" {
		t.Fatalf("recipient = %q", got)
	}

	_, err = a.ResolveRecipient(context.Background(), channel.Credential{}, "---")
	if !errors.Is(err, channel.ErrRecipientNotFound) {
		t.Fatalf("digitless number: %v, want ErrRecipientNotFound", err)
	}
}

func TestSend_Success(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			MessagingProduct string `json:"messaging_product"`
			To               string `json:"to"`
			Text             struct {
				Body string `json:"body"`
			} `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.MessagingProduct != "whatsapp" || body.To != "491701234567" || body.Text.Body != "order shipped" {
			t.Errorf("request body = %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.xyz"}},
		})
	}))
	t.Cleanup(srv.Close)

	a := New(nil, config.WhatsAppConfig{PhoneNumberID: "pn1"}, store,
		WithAPIBase(srv.URL), WithHTTPClient(srv.Client()))

	cred := channel.Credential{Channel: a.Type(), AccountID: "pn1", AccessToken: "static-token"}
	receipt, err := a.Send(context.Background(), cred, "491701234567", "order shipped")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if receipt.MessageID != "wamid.xyz" {
		t.Fatalf("message id = %q", receipt.MessageID)
	}
	if !strings.HasSuffix(gotPath, "/pn1/messages") {
		t.Fatalf("request path = %q, want .../pn1/messages", gotPath)
	}
	if gotAuth != "Bearer static-token" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if len(store.records) != 1 {
		t.Fatalf("history records = %d, want 1", len(store.records))
	}
	var payload struct {
		WaID string `json:"wa_id"`
		Body string `json:"body"`
	}
	if err := json.Unmarshal(store.records[0].Payload, &payload); err != nil {
		t.Fatalf("decode stored payload: %v", err)
	}
	if payload.WaID != "pn1" || payload.Body != "order shipped" {
		t.Fatalf("stored payload = %+v", payload)
	}
}

func TestSend_InvalidTokenMapsToCredentialExpired(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "Access token has expired", "code": 190},
		})
	}))
	t.Cleanup(srv.Close)

	a := New(nil, config.WhatsAppConfig{PhoneNumberID: "pn1"}, store,
		WithAPIBase(srv.URL), WithHTTPClient(srv.Client()))

	cred := channel.Credential{Channel: a.Type(), AccessToken: "stale"}
	_, err := a.Send(context.Background(), cred, "491701234567", "hi")
	if !errors.Is(err, channel.ErrCredentialExpired) {
		t.Fatalf("Send: %v, want ErrCredentialExpired", err)
	}
	if len(store.records) != 0 {
		t.Fatalf("failed send recorded %d history entries", len(store.records))
	}
}

func TestFetchHistory_DecodesNativePayload(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	sentAt := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	payload, _ := json.Marshal(map[string]any{
		"wa_id":   "491701234567",
		"body":    "is my order ready?",
		"sent_at": sentAt.Format(time.RFC3339),
	})
	store.records = append(store.records, channel.RawRecord{Payload: payload, SentAt: sentAt})

	a := New(nil, config.WhatsAppConfig{PhoneNumberID: "pn1"}, store)
	msgs, err := a.FetchHistory(context.Background(), "491701234567")
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(msgs) != 1 || msgs[0].SenderID != "491701234567" || msgs[0].Content != "is my order ready?" {
		t.Fatalf("messages = %+v", msgs)
	}
}
