package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/inboxflow/inboxflow/internal/assignment"
	"github.com/inboxflow/inboxflow/internal/auth"
	"github.com/inboxflow/inboxflow/internal/channel"
	"github.com/inboxflow/inboxflow/internal/handoff"
)

// AIHandler controls the AI hand-off lifecycle per conversation.
type AIHandler struct {
	orchestrator *handoff.Orchestrator
	assignments  *assignment.Service
	registry     *channel.Registry
	logger       *slog.Logger
}

func NewAIHandler(log *slog.Logger, orchestrator *handoff.Orchestrator, assignments *assignment.Service, registry *channel.Registry) *AIHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AIHandler{
		orchestrator: orchestrator,
		assignments:  assignments,
		registry:     registry,
		logger:       log.With(slog.String("handler", "ai")),
	}
}

func (h *AIHandler) Register(e *echo.Echo) {
	group := e.Group("/api/ai")
	group.POST("/assign-chat", h.AssignChat)
	group.POST("/unassign-chat", h.UnassignChat)
	group.GET("/assignments", h.ListAssignments)
}

type assignChatRequest struct {
	ChatID          string `json:"chatId" validate:"required"`
	Platform        string `json:"platform" validate:"required"`
	UserID          string `json:"userId"`
	BusinessContext string `json:"context"`
}

type assignChatResponse struct {
	Success      bool   `json:"success"`
	AIResponse   string `json:"ai_response"`
	ChatID       string `json:"chat_id"`
	Platform     string `json:"platform"`
	ResponseSent bool   `json:"response_sent"`
}

type unassignChatRequest struct {
	ChatID   string `json:"chatId" validate:"required"`
	Platform string `json:"platform" validate:"required"`
}

// AssignChat hands the conversation to the responder: the existing history
// is answered immediately, then the simulation loop takes over. A reply that
// was produced but not delivered still succeeds with response_sent=false.
func (h *AIHandler) AssignChat(c echo.Context) error {
	var req assignChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	channelType, err := h.registry.ParseChannelType(req.Platform)
	if err != nil {
		return channelError(err)
	}
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	key := assignment.Key{Channel: channelType, ConversationID: req.ChatID}
	if _, err := h.orchestrator.Enable(ctx, key, userID, req.BusinessContext); err != nil {
		return channelError(err)
	}

	reply, delivered, err := h.orchestrator.FirstReply(ctx, key)
	if err != nil && reply == "" {
		// No reply could be produced; roll the assignment back.
		if dErr := h.orchestrator.Disable(ctx, key); dErr != nil {
			h.logger.Warn("assignment rollback failed", slog.Any("error", dErr))
		}
		return channelError(err)
	}
	if err != nil {
		h.logger.Warn("first reply not delivered",
			slog.String("chat_id", req.ChatID), slog.Any("error", err))
	}
	return c.JSON(http.StatusOK, assignChatResponse{
		Success:      true,
		AIResponse:   reply,
		ChatID:       req.ChatID,
		Platform:     channelType.String(),
		ResponseSent: delivered,
	})
}

func (h *AIHandler) UnassignChat(c echo.Context) error {
	var req unassignChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	channelType, err := h.registry.ParseChannelType(req.Platform)
	if err != nil {
		return channelError(err)
	}

	key := assignment.Key{Channel: channelType, ConversationID: req.ChatID}
	if err := h.orchestrator.Disable(c.Request().Context(), key); err != nil {
		return channelError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

type assignmentView struct {
	assignment.Assignment
	LoopRunning bool `json:"loop_running"`
}

func (h *AIHandler) ListAssignments(c echo.Context) error {
	all, err := h.assignments.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]assignmentView, 0, len(all))
	for _, a := range all {
		out = append(out, assignmentView{
			Assignment:  a,
			LoopRunning: h.orchestrator.Enabled(a.Key()),
		})
	}
	return c.JSON(http.StatusOK, out)
}
