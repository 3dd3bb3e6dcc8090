package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/inboxflow/inboxflow/internal/assignment"
	"github.com/inboxflow/inboxflow/internal/channel"
	"github.com/inboxflow/inboxflow/internal/channel/adapters/instagram"
	"github.com/inboxflow/inboxflow/internal/channel/adapters/messenger"
	"github.com/inboxflow/inboxflow/internal/channel/adapters/whatsapp"
	"github.com/inboxflow/inboxflow/internal/chat"
	"github.com/inboxflow/inboxflow/internal/config"
	"github.com/inboxflow/inboxflow/internal/credential"
	"github.com/inboxflow/inboxflow/internal/db"
	"github.com/inboxflow/inboxflow/internal/handlers"
	"github.com/inboxflow/inboxflow/internal/handoff"
	"github.com/inboxflow/inboxflow/internal/history"
	"github.com/inboxflow/inboxflow/internal/logger"
	"github.com/inboxflow/inboxflow/internal/server"
	"github.com/inboxflow/inboxflow/internal/sweep"
)

func main() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBPool,
			provideCredentialStore,
			provideCredentialService,
			provideHistoryStore,
			provideAssignmentStore,
			provideAssignmentService,
			provideChannelRegistry,
			provideChannelRouter,
			provideResponder,
			provideOrchestrator,
			provideSweeper,
			handlers.NewHealthHandler,
			provideAuthHandler,
			provideChannelHandler,
			handlers.NewAIHandler,
			handlers.NewStatsHandler,
			provideServer,
		),
		fx.Invoke(
			seedWhatsAppCredential,
			startSweeper,
			startOrchestratorShutdown,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideCredentialStore(pool *pgxpool.Pool) *credential.PGStore {
	return credential.NewPGStore(pool)
}

func provideCredentialService(log *slog.Logger, store *credential.PGStore) *credential.Service {
	return credential.NewService(log, store)
}

func provideHistoryStore(pool *pgxpool.Pool) *history.PGStore {
	return history.NewPGStore(pool)
}

func provideAssignmentStore(pool *pgxpool.Pool) *assignment.PGStore {
	return assignment.NewPGStore(pool)
}

func provideAssignmentService(log *slog.Logger, store *assignment.PGStore) *assignment.Service {
	return assignment.NewService(log, store)
}

func provideChannelRegistry(log *slog.Logger, cfg config.Config, messages *history.PGStore) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(instagram.New(log, cfg.Instagram, messages))
	registry.MustRegister(messenger.New(log, cfg.Messenger, messages))
	registry.MustRegister(whatsapp.New(log, cfg.WhatsApp, messages))
	return registry
}

func provideChannelRouter(log *slog.Logger, registry *channel.Registry, credentials *credential.Service) *channel.Router {
	return channel.NewRouter(log, registry, credentials)
}

func provideResponder(log *slog.Logger, cfg config.Config) chat.Responder {
	timeout := time.Duration(cfg.Responder.TimeoutSeconds) * time.Second
	return chat.NewOpenAIResponder(log, cfg.Responder.APIKey, cfg.Responder.BaseURL, cfg.Responder.Model, timeout)
}

func provideOrchestrator(log *slog.Logger, registry *channel.Registry, router *channel.Router, responder chat.Responder, assignments *assignment.Service, credentials *credential.Service, cfg config.Config) *handoff.Orchestrator {
	return handoff.New(log, registry, router, responder, assignments, credentials, cfg.Handoff)
}

func provideSweeper(log *slog.Logger, credentials *credential.Service, assignments *assignment.Service, orch *handoff.Orchestrator, cfg config.Config) *sweep.Sweeper {
	return sweep.New(log, credentials, assignments, orch, cfg.Sweep.Pattern)
}

func provideAuthHandler(log *slog.Logger, cfg config.Config) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, &cfg)
}

func provideChannelHandler(log *slog.Logger, registry *channel.Registry, credentials *credential.Service, orch *handoff.Orchestrator, cfg config.Config) *handlers.ChannelHandler {
	return handlers.NewChannelHandler(log, registry, credentials, orch, cfg.Operator.UIBaseURL)
}

func provideServer(cfg config.Config, healthHandler *handlers.HealthHandler, authHandler *handlers.AuthHandler, channelHandler *handlers.ChannelHandler, aiHandler *handlers.AIHandler, statsHandler *handlers.StatsHandler) *server.Server {
	return server.NewServer(cfg.Server.Addr, cfg.Auth.JWTSecret, healthHandler, authHandler, channelHandler, aiHandler, statsHandler)
}

// seedWhatsAppCredential stores the static phone-number token at startup.
// WhatsApp has no OAuth flow, so configuration is its connect step.
func seedWhatsAppCredential(lc fx.Lifecycle, logger *slog.Logger, cfg config.Config, credentials *credential.Service) {
	lc.Append(fx.Hook{OnStart: func(ctx context.Context) error {
		cred := channel.Credential{
			Channel:     channel.ChannelType("whatsapp"),
			AccountID:   cfg.WhatsApp.PhoneNumberID,
			AccessToken: cfg.WhatsApp.AccessToken,
			DisplayName: "WhatsApp Business",
		}
		if err := credentials.Upsert(ctx, cred); err != nil {
			return fmt.Errorf("seed whatsapp credential: %w", err)
		}
		logger.Info("whatsapp credential seeded",
			slog.String("phone_number_id", cfg.WhatsApp.PhoneNumberID))
		return nil
	}})
}

func startSweeper(lc fx.Lifecycle, sweeper *sweep.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return sweeper.Start() },
		OnStop:  func(context.Context) error { sweeper.Stop(); return nil },
	})
}

func startOrchestratorShutdown(lc fx.Lifecycle, orch *handoff.Orchestrator) {
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return orch.Shutdown(ctx) }})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
