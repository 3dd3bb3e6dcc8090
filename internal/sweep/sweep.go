// Package sweep periodically deactivates hand-offs whose channel credential
// has expired. The responder must never keep answering on a channel the
// inbox can no longer send to.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/inboxflow/inboxflow/internal/assignment"
	"github.com/inboxflow/inboxflow/internal/channel"
	"github.com/inboxflow/inboxflow/internal/credential"
	"github.com/inboxflow/inboxflow/internal/handoff"
)

const runTimeout = 30 * time.Second

// Sweeper runs the expiry check on a cron schedule.
type Sweeper struct {
	credentials *credential.Service
	assignments *assignment.Service
	orch        *handoff.Orchestrator
	logger      *slog.Logger
	cron        *cron.Cron
	pattern     string
	now         func() time.Time
}

func New(log *slog.Logger, credentials *credential.Service, assignments *assignment.Service, orch *handoff.Orchestrator, pattern string) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if pattern == "" {
		pattern = "@every 10m"
	}
	return &Sweeper{
		credentials: credentials,
		assignments: assignments,
		orch:        orch,
		logger:      log.With(slog.String("service", "sweep")),
		cron:        cron.New(),
		pattern:     pattern,
		now:         time.Now,
	}
}

// Start registers the cron entry and begins the schedule.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.pattern, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if err := s.Run(ctx); err != nil {
			s.logger.Error("sweep run failed", slog.Any("error", err))
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("sweep scheduled", slog.String("pattern", s.pattern))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Run deactivates every active assignment whose channel has lost its usable
// credential. One pass is idempotent; re-running on still-expired channels
// is a no-op because the assignments are already inactive.
func (s *Sweeper) Run(ctx context.Context) error {
	expired, err := s.credentials.ListExpiringBefore(ctx, s.now())
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	expiredChannels := make(map[channel.ChannelType]bool, len(expired))
	for _, cred := range expired {
		expiredChannels[cred.Channel] = true
	}

	active, err := s.assignments.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, a := range active {
		if !expiredChannels[a.Channel] {
			continue
		}
		// A fresh credential may exist alongside the expired one.
		if _, err := s.credentials.Active(ctx, a.Channel); err == nil {
			continue
		}
		if err := s.orch.Disable(ctx, a.Key()); err != nil {
			s.logger.Error("assignment not deactivated",
				slog.String("channel", a.Channel.String()),
				slog.String("conversation_id", a.ConversationID),
				slog.Any("error", err))
			continue
		}
		s.logger.Info("assignment deactivated on expired credential",
			slog.String("channel", a.Channel.String()),
			slog.String("conversation_id", a.ConversationID))
	}
	return nil
}
