// Package handoff runs the AI hand-off loop: while a conversation is
// assigned, a timer-driven cycle simulates inbound customer messages and
// answers them through the responder, delivering replies over the owning
// channel. All loop state is in memory; the assignment ledger is the
// durable record.
package handoff

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/inboxflow/inboxflow/internal/assignment"
	"github.com/inboxflow/inboxflow/internal/channel"
	"github.com/inboxflow/inboxflow/internal/chat"
	"github.com/inboxflow/inboxflow/internal/config"
	"github.com/inboxflow/inboxflow/internal/transcript"
)

const turnTimeout = 60 * time.Second

// Orchestrator owns one timer loop per assigned conversation.
type Orchestrator struct {
	registry    *channel.Registry
	router      *channel.Router
	responder   chat.Responder
	assignments *assignment.Service
	credentials channel.CredentialSource
	cfg         config.HandoffConfig
	logger      *slog.Logger

	rng func() float64
	now func() time.Time

	mu    sync.Mutex
	loops map[assignment.Key]*loop
	wg    sync.WaitGroup
}

// loop is the in-memory state of one assigned conversation. At most one of
// incoming/reply is pending at a time; the seq counters invalidate callbacks
// whose timer was stopped after it already fired, and wg tracks callbacks
// that passed their check so Disable can drain them before returning.
type loop struct {
	key             assignment.Key
	businessContext string
	viewerID        string

	incoming    *time.Timer
	reply       *time.Timer
	incomingSeq uint64
	replySeq    uint64
	wg          sync.WaitGroup
}

type Option func(*Orchestrator)

// WithRand overrides the random source. The function must return values in
// [0, 1).
func WithRand(rng func() float64) Option {
	return func(o *Orchestrator) { o.rng = rng }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(log *slog.Logger, registry *channel.Registry, router *channel.Router, responder chat.Responder,
	assignments *assignment.Service, credentials channel.CredentialSource, cfg config.HandoffConfig, opts ...Option) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		registry:    registry,
		router:      router,
		responder:   responder,
		assignments: assignments,
		credentials: credentials,
		cfg:         cfg,
		logger:      log.With(slog.String("service", "handoff")),
		rng:         rand.Float64,
		now:         time.Now,
		loops:       make(map[assignment.Key]*loop),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) initialDelay() time.Duration {
	return time.Duration(o.cfg.InitialDelayMs) * time.Millisecond
}

func (o *Orchestrator) replyDelay() time.Duration {
	return time.Duration(o.cfg.ReplyDelayMs) * time.Millisecond
}

// nextGap draws the delay before the next simulated inbound message.
func (o *Orchestrator) nextGap() time.Duration {
	min, max := o.cfg.MinGapMs, o.cfg.MaxGapMs
	if max <= min {
		return time.Duration(min) * time.Millisecond
	}
	return time.Duration(min+int(o.rng()*float64(max-min))) * time.Millisecond
}

// Enable activates the hand-off for a conversation and starts its loop.
// Enabling an already-enabled conversation refreshes the ledger row and
// leaves the running loop untouched.
func (o *Orchestrator) Enable(ctx context.Context, key assignment.Key, operatorUserID, businessContext string) (assignment.Assignment, error) {
	cred, err := o.credentials.Active(ctx, key.Channel)
	if err != nil {
		return assignment.Assignment{}, fmt.Errorf("enable hand-off: %w", err)
	}

	a, err := o.assignments.Activate(ctx, key, operatorUserID, businessContext)
	if err != nil {
		return assignment.Assignment{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.loops[key]; ok {
		existing.businessContext = a.BusinessContext
		return a, nil
	}

	l := &loop{
		key:             key,
		businessContext: a.BusinessContext,
		viewerID:        cred.AccountID,
	}
	o.loops[key] = l
	o.scheduleIncomingLocked(l, o.initialDelay())
	o.logger.Info("hand-off enabled",
		slog.String("channel", key.Channel.String()),
		slog.String("conversation_id", key.ConversationID))
	return a, nil
}

// Disable stops the loop and marks the assignment inactive. Both timers are
// stopped and any callback already past its seq check is waited out before
// Disable returns, so nothing mutates the conversation afterward.
func (o *Orchestrator) Disable(ctx context.Context, key assignment.Key) error {
	o.mu.Lock()
	l, running := o.loops[key]
	if running {
		o.stopLoopLocked(l)
		delete(o.loops, key)
	}
	o.mu.Unlock()
	if running {
		l.wg.Wait()
	}

	if err := o.assignments.Deactivate(ctx, key); err != nil {
		return err
	}
	o.logger.Info("hand-off disabled",
		slog.String("channel", key.Channel.String()),
		slog.String("conversation_id", key.ConversationID))
	return nil
}

// NotifyManualSend is called when the operator sends a message into an
// assigned conversation themselves. A pending automatic reply is cancelled
// so the responder does not answer over the operator; the next simulated
// inbound message stays scheduled.
func (o *Orchestrator) NotifyManualSend(key assignment.Key) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.loops[key]
	if !ok {
		return
	}
	if l.reply != nil {
		l.reply.Stop()
		l.reply = nil
		l.replySeq++
		o.logger.Debug("pending reply cancelled by manual send",
			slog.String("conversation_id", key.ConversationID))
	}
}

// FirstReply answers the conversation's existing history once, synchronously.
// Called right after Enable so the customer hears from the responder before
// the timer loop produces its first exchange. A produced reply is returned
// even when delivery fails; the second result reports delivery.
func (o *Orchestrator) FirstReply(ctx context.Context, key assignment.Key) (string, bool, error) {
	o.mu.Lock()
	l, ok := o.loops[key]
	if !ok {
		o.mu.Unlock()
		return "", false, assignment.ErrNotFound
	}
	businessContext := l.businessContext
	viewerID := l.viewerID
	o.wg.Add(1)
	l.wg.Add(1)
	o.mu.Unlock()
	defer o.wg.Done()
	defer l.wg.Done()

	return o.runTurn(ctx, key, businessContext, viewerID)
}

// Enabled reports whether a loop is running for the conversation.
func (o *Orchestrator) Enabled(key assignment.Key) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.loops[key]
	return ok
}

// Shutdown stops every loop and waits for in-flight turns to finish.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for key, l := range o.loops {
		o.stopLoopLocked(l)
		delete(o.loops, key)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) stopLoopLocked(l *loop) {
	if l.incoming != nil {
		l.incoming.Stop()
		l.incoming = nil
	}
	if l.reply != nil {
		l.reply.Stop()
		l.reply = nil
	}
	l.incomingSeq++
	l.replySeq++
}

func (o *Orchestrator) scheduleIncomingLocked(l *loop, d time.Duration) {
	l.incomingSeq++
	seq := l.incomingSeq
	key := l.key
	l.incoming = time.AfterFunc(d, func() {
		o.onIncoming(key, seq)
	})
}

func (o *Orchestrator) scheduleReplyLocked(l *loop, d time.Duration) {
	l.replySeq++
	seq := l.replySeq
	key := l.key
	l.reply = time.AfterFunc(d, func() {
		o.onReply(key, seq)
	})
}

// onIncoming appends one simulated customer message and schedules the reply.
func (o *Orchestrator) onIncoming(key assignment.Key, seq uint64) {
	o.mu.Lock()
	l, ok := o.loops[key]
	if !ok || l.incomingSeq != seq {
		o.mu.Unlock()
		return
	}
	l.incoming = nil
	content := o.pickClientMessage()
	o.wg.Add(1)
	l.wg.Add(1)
	o.mu.Unlock()
	defer o.wg.Done()
	defer l.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	if history, ok := o.registry.GetHistoryProvider(key.Channel); ok {
		if err := history.AppendHistory(ctx, key.ConversationID, key.ConversationID, content, o.now().UTC()); err != nil {
			o.logger.Error("simulated inbound message not recorded",
				slog.String("conversation_id", key.ConversationID), slog.Any("error", err))
		}
	}

	// Pointer identity guards against a loop re-enabled under the same key
	// while this callback was in flight.
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.loops[key] == l {
		o.scheduleReplyLocked(l, o.replyDelay())
	}
}

// onReply runs one responder turn. A failed turn is abandoned, but the next
// inbound message is scheduled either way so the loop keeps breathing.
func (o *Orchestrator) onReply(key assignment.Key, seq uint64) {
	o.mu.Lock()
	l, ok := o.loops[key]
	if !ok || l.replySeq != seq {
		o.mu.Unlock()
		return
	}
	l.reply = nil
	businessContext := l.businessContext
	viewerID := l.viewerID
	o.wg.Add(1)
	l.wg.Add(1)
	o.mu.Unlock()
	defer o.wg.Done()
	defer l.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	if _, _, err := o.runTurn(ctx, key, businessContext, viewerID); err != nil {
		o.logger.Error("responder turn failed",
			slog.String("channel", key.Channel.String()),
			slog.String("conversation_id", key.ConversationID),
			slog.Any("error", err))
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.loops[key] == l {
		o.scheduleIncomingLocked(l, o.nextGap())
	}
}

func (o *Orchestrator) runTurn(ctx context.Context, key assignment.Key, businessContext, viewerID string) (string, bool, error) {
	history, ok := o.registry.GetHistoryProvider(key.Channel)
	if !ok {
		return "", false, fmt.Errorf("%w: %q has no history", channel.ErrUnsupportedChannel, key.Channel)
	}
	raws, err := history.FetchHistory(ctx, key.ConversationID)
	if err != nil {
		return "", false, fmt.Errorf("fetch history: %w", err)
	}

	canonical := transcript.Normalize(key.Channel, key.ConversationID, raws, viewerID)
	prompt, err := chat.BuildContext(canonical, businessContext)
	if err != nil {
		return "", false, err
	}

	reply, err := o.responder.Reply(ctx, prompt)
	if err != nil {
		return "", false, fmt.Errorf("generate reply: %w", err)
	}

	if _, err := o.router.Route(ctx, key.Channel, key.ConversationID, reply); err != nil {
		if recErr := o.assignments.RecordResponse(ctx, key, reply, false); recErr != nil {
			o.logger.Warn("assignment response not recorded", slog.Any("error", recErr))
		}
		return reply, false, fmt.Errorf("deliver reply: %w", err)
	}
	if err := o.assignments.RecordResponse(ctx, key, reply, true); err != nil {
		o.logger.Warn("assignment response not recorded", slog.Any("error", err))
	}
	return reply, true, nil
}
