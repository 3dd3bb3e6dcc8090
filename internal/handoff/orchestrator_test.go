package handoff

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/inboxflow/inboxflow/internal/assignment"
	"github.com/inboxflow/inboxflow/internal/channel"
	"github.com/inboxflow/inboxflow/internal/chat"
	"github.com/inboxflow/inboxflow/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeAdapter is an in-memory channel: history appends and sends are
// recorded, never delivered anywhere.
type fakeAdapter struct {
	mu      sync.Mutex
	history []channel.RawMessage
	sent    []string
	sendErr error
}

func (f *fakeAdapter) Type() channel.ChannelType { return channel.ChannelType("instagram") }

func (f *fakeAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: f.Type(), DisplayName: "Fake"}
}

func (f *fakeAdapter) Send(_ context.Context, cred channel.Credential, recipient, content string) (channel.DeliveryReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return channel.DeliveryReceipt{}, f.sendErr
	}
	f.sent = append(f.sent, content)
	f.history = append(f.history, channel.RawMessage{
		SenderID: cred.AccountID,
		Content:  content,
		SentAt:   time.Now(),
	})
	return channel.DeliveryReceipt{Channel: f.Type(), MessageID: "m1", Recipient: recipient}, nil
}

func (f *fakeAdapter) FetchHistory(context.Context, string) ([]channel.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]channel.RawMessage, len(f.history))
	copy(out, f.history)
	return out, nil
}

func (f *fakeAdapter) AppendHistory(_ context.Context, _, senderID, content string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, channel.RawMessage{SenderID: senderID, Content: content, SentAt: sentAt})
	return nil
}

func (f *fakeAdapter) historyLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history)
}

func (f *fakeAdapter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeResponder struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeResponder) Reply(context.Context, chat.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "happy to help!", nil
}

func (f *fakeResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memAssignStore struct {
	mu   sync.Mutex
	rows map[assignment.Key]assignment.Assignment
}

func newMemAssignStore() *memAssignStore {
	return &memAssignStore{rows: map[assignment.Key]assignment.Assignment{}}
}

func (m *memAssignStore) Upsert(_ context.Context, a assignment.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[a.Key()] = a
	return nil
}

func (m *memAssignStore) SetStatus(_ context.Context, key assignment.Key, status assignment.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[key]
	if !ok {
		return assignment.ErrNotFound
	}
	a.Status = status
	m.rows[key] = a
	return nil
}

func (m *memAssignStore) RecordResponse(_ context.Context, key assignment.Key, response string, delivered bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[key]
	if !ok {
		return assignment.ErrNotFound
	}
	a.LastResponse = response
	a.LastDelivered = delivered
	m.rows[key] = a
	return nil
}

func (m *memAssignStore) Get(_ context.Context, key assignment.Key) (assignment.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[key]
	if !ok {
		return assignment.Assignment{}, assignment.ErrNotFound
	}
	return a, nil
}

func (m *memAssignStore) List(context.Context) ([]assignment.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]assignment.Assignment, 0, len(m.rows))
	for _, a := range m.rows {
		out = append(out, a)
	}
	return out, nil
}

func (m *memAssignStore) ListByStatus(ctx context.Context, status assignment.Status) ([]assignment.Assignment, error) {
	all, _ := m.List(ctx)
	out := all[:0]
	for _, a := range all {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

type staticCreds struct{}

func (staticCreds) Active(context.Context, channel.ChannelType) (channel.Credential, error) {
	return channel.Credential{
		Channel:     channel.ChannelType("instagram"),
		AccountID:   "operator-acct",
		AccessToken: "tok",
	}, nil
}

type fixture struct {
	orch    *Orchestrator
	adapter *fakeAdapter
	resp    *fakeResponder
	store   *memAssignStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	adapter := &fakeAdapter{}
	registry := channel.NewRegistry()
	registry.MustRegister(adapter)
	router := channel.NewRouter(nil, registry, staticCreds{})
	resp := &fakeResponder{}
	store := newMemAssignStore()
	svc := assignment.NewService(nil, store)

	cfg := config.HandoffConfig{InitialDelayMs: 10, ReplyDelayMs: 10, MinGapMs: 20, MaxGapMs: 40}
	orch := New(nil, registry, router, resp, svc, staticCreds{}, cfg,
		WithRand(func() float64 { return 0.5 }))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := orch.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return &fixture{orch: orch, adapter: adapter, resp: resp, store: store}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func key() assignment.Key {
	return assignment.Key{Channel: channel.ChannelType("instagram"), ConversationID: "conv-1"}
}

func TestEnable_RunsSimulatedCycle(t *testing.T) {
	f := newFixture(t)

	a, err := f.orch.Enable(context.Background(), key(), "op-1", "Plant nursery")
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if a.Status != assignment.StatusActive {
		t.Fatalf("status = %q, want active", a.Status)
	}

	// One simulated inbound message, then one delivered reply.
	waitFor(t, 2*time.Second, func() bool { return f.adapter.sentCount() >= 1 })

	got, err := f.store.Get(context.Background(), key())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastResponse != "happy to help!" || !got.LastDelivered {
		t.Fatalf("ledger after turn = %+v", got)
	}
}

func TestFirstReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.orch.FirstReply(ctx, key()); !errors.Is(err, assignment.ErrNotFound) {
		t.Fatalf("FirstReply before Enable: %v, want ErrNotFound", err)
	}

	// Seed a customer message so the existing history can be answered.
	if err := f.adapter.AppendHistory(ctx, "conv-1", "conv-1", "do you ship overseas?", time.Now()); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	if _, err := f.orch.Enable(ctx, key(), "op-1", "Plant nursery"); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	reply, delivered, err := f.orch.FirstReply(ctx, key())
	if err != nil {
		t.Fatalf("FirstReply: %v", err)
	}
	if reply != "happy to help!" || !delivered {
		t.Fatalf("reply = %q delivered = %v", reply, delivered)
	}
	if n := f.adapter.sentCount(); n != 1 {
		t.Fatalf("sent = %d, want 1", n)
	}

	got, err := f.store.Get(ctx, key())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastResponse != "happy to help!" || !got.LastDelivered {
		t.Fatalf("ledger after first reply = %+v", got)
	}
}

func TestFirstReply_EmptyConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.Enable(ctx, key(), "op-1", ""); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	_, _, err := f.orch.FirstReply(ctx, key())
	if !errors.Is(err, channel.ErrEmptyConversation) {
		t.Fatalf("FirstReply on empty history: %v, want ErrEmptyConversation", err)
	}
	if f.resp.callCount() != 0 {
		t.Fatal("responder invoked for an empty conversation")
	}
}

func TestEnable_Idempotent(t *testing.T) {
	f := newFixture(t)

	if _, err := f.orch.Enable(context.Background(), key(), "op-1", "first"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if _, err := f.orch.Enable(context.Background(), key(), "op-1", "second"); err != nil {
		t.Fatalf("Enable again: %v", err)
	}

	f.orch.mu.Lock()
	loops := len(f.orch.loops)
	bc := f.orch.loops[key()].businessContext
	f.orch.mu.Unlock()
	if loops != 1 {
		t.Fatalf("loops = %d, want 1", loops)
	}
	if bc != "second" {
		t.Fatalf("business context = %q, want refreshed value", bc)
	}
}

func TestDisable_BeforeFirstMessage(t *testing.T) {
	f := newFixture(t)

	if _, err := f.orch.Enable(context.Background(), key(), "op-1", ""); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := f.orch.Disable(context.Background(), key()); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	// Well past the initial delay: the stopped loop must stay silent.
	time.Sleep(100 * time.Millisecond)
	if n := f.adapter.historyLen(); n != 0 {
		t.Fatalf("history entries after disable = %d, want 0", n)
	}

	got, err := f.store.Get(context.Background(), key())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != assignment.StatusInactive {
		t.Fatalf("status = %q, want inactive", got.Status)
	}
}

// blockingAdapter holds its first AppendHistory open until released, so a
// test can catch a callback mid-flight.
type blockingAdapter struct {
	fakeAdapter
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingAdapter) AppendHistory(ctx context.Context, conversationID, senderID, content string, sentAt time.Time) error {
	b.once.Do(func() {
		b.entered <- struct{}{}
		<-b.release
	})
	return b.fakeAdapter.AppendHistory(ctx, conversationID, senderID, content, sentAt)
}

func TestDisable_WaitsForInFlightCallback(t *testing.T) {
	adapter := &blockingAdapter{entered: make(chan struct{}), release: make(chan struct{})}
	registry := channel.NewRegistry()
	registry.MustRegister(adapter)
	router := channel.NewRouter(nil, registry, staticCreds{})
	store := newMemAssignStore()
	svc := assignment.NewService(nil, store)

	// Long reply and gap delays keep the re-enabled loop's own timers from
	// firing during the assertions.
	cfg := config.HandoffConfig{InitialDelayMs: 30, ReplyDelayMs: 60000, MinGapMs: 60000, MaxGapMs: 60000}
	orch := New(nil, registry, router, &fakeResponder{}, svc, staticCreds{}, cfg,
		WithRand(func() float64 { return 0.5 }))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := orch.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})

	ctx := context.Background()
	if _, err := orch.Enable(ctx, key(), "op-1", ""); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	<-adapter.entered

	disabled := make(chan error, 1)
	go func() { disabled <- orch.Disable(ctx, key()) }()

	select {
	case <-disabled:
		t.Fatal("Disable returned while a callback was still appending")
	case <-time.After(50 * time.Millisecond):
	}

	close(adapter.release)
	select {
	case err := <-disabled:
		if err != nil {
			t.Fatalf("Disable: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Disable did not return after the callback finished")
	}
	if n := adapter.historyLen(); n != 1 {
		t.Fatalf("history entries after drained disable = %d, want 1", n)
	}

	// The drained callback must not have scheduled a reply on a loop
	// re-enabled under the same key.
	if _, err := orch.Enable(ctx, key(), "op-1", ""); err != nil {
		t.Fatalf("Enable again: %v", err)
	}
	orch.mu.Lock()
	l := orch.loops[key()]
	replyPending := l != nil && l.reply != nil
	incomingPending := l != nil && l.incoming != nil
	orch.mu.Unlock()
	if replyPending {
		t.Fatal("stale callback scheduled a reply on the re-enabled loop")
	}
	if !incomingPending {
		t.Fatal("re-enabled loop has no pending incoming timer")
	}
}

func TestDisable_UnknownConversation(t *testing.T) {
	f := newFixture(t)
	err := f.orch.Disable(context.Background(), key())
	if !errors.Is(err, assignment.ErrNotFound) {
		t.Fatalf("Disable of unknown conversation: %v, want ErrNotFound", err)
	}
}

func TestNotifyManualSend_CancelsPendingReplyOnly(t *testing.T) {
	f := newFixture(t)

	if _, err := f.orch.Enable(context.Background(), key(), "op-1", ""); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	// Wait for the simulated inbound message, then cancel its pending reply.
	waitFor(t, 2*time.Second, func() bool { return f.adapter.historyLen() >= 1 })
	f.orch.NotifyManualSend(key())

	f.orch.mu.Lock()
	l := f.orch.loops[key()]
	replyPending := l != nil && l.reply != nil
	f.orch.mu.Unlock()
	if replyPending {
		t.Fatal("reply timer still pending after manual send")
	}
}

func TestResponderFailure_LoopKeepsGoing(t *testing.T) {
	f := newFixture(t)
	f.resp.err = errors.New("model unavailable")

	if _, err := f.orch.Enable(context.Background(), key(), "op-1", ""); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	// Two responder attempts prove the failed turn scheduled a next cycle.
	waitFor(t, 3*time.Second, func() bool { return f.resp.callCount() >= 2 })
	if n := f.adapter.sentCount(); n != 0 {
		t.Fatalf("failed turns delivered %d messages, want 0", n)
	}
}

func TestEnabled(t *testing.T) {
	f := newFixture(t)
	if f.orch.Enabled(key()) {
		t.Fatal("Enabled before Enable")
	}
	if _, err := f.orch.Enable(context.Background(), key(), "op-1", ""); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !f.orch.Enabled(key()) {
		t.Fatal("Enabled returned false for a running loop")
	}
	if err := f.orch.Disable(context.Background(), key()); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if f.orch.Enabled(key()) {
		t.Fatal("Enabled returned true after Disable")
	}
}
