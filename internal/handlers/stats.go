package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/inboxflow/inboxflow/internal/assignment"
	"github.com/inboxflow/inboxflow/internal/credential"
	"github.com/inboxflow/inboxflow/internal/history"
)

// StatsHandler reports inbox-wide counters for the dashboard.
type StatsHandler struct {
	credentials *credential.PGStore
	messages    *history.PGStore
	assignments *assignment.Service
	logger      *slog.Logger
}

func NewStatsHandler(log *slog.Logger, credentials *credential.PGStore, messages *history.PGStore, assignments *assignment.Service) *StatsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StatsHandler{
		credentials: credentials,
		messages:    messages,
		assignments: assignments,
		logger:      log.With(slog.String("handler", "stats")),
	}
}

func (h *StatsHandler) Register(e *echo.Echo) {
	e.GET("/api/stats", h.Stats)
}

type statsResponse struct {
	ConnectedAccounts int64            `json:"connected_accounts"`
	MessagesByChannel map[string]int64 `json:"messages_by_channel"`
	ActiveAssignments int              `json:"active_assignments"`
}

func (h *StatsHandler) Stats(c echo.Context) error {
	ctx := c.Request().Context()

	accounts, err := h.credentials.Count(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	messages, err := h.messages.CountByChannel(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	active, err := h.assignments.ListActive(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, statsResponse{
		ConnectedAccounts: accounts,
		MessagesByChannel: messages,
		ActiveAssignments: len(active),
	})
}
