package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/inboxflow/inboxflow/internal/assignment"
	"github.com/inboxflow/inboxflow/internal/channel"
	"github.com/inboxflow/inboxflow/internal/credential"
)

const oauthStateTTL = 10 * time.Minute

// ManualSendNotifier is told when the operator sends a message themselves,
// so a pending automatic reply can be cancelled.
type ManualSendNotifier interface {
	NotifyManualSend(key assignment.Key)
}

// ChannelHandler exposes channel connection, sending and conversation
// listing.
type ChannelHandler struct {
	registry    *channel.Registry
	credentials *credential.Service
	notifier    ManualSendNotifier
	uiBaseURL   string
	logger      *slog.Logger

	mu     sync.Mutex
	states map[string]stateEntry
}

type stateEntry struct {
	channelType channel.ChannelType
	expiresAt   time.Time
}

func NewChannelHandler(log *slog.Logger, registry *channel.Registry, credentials *credential.Service, notifier ManualSendNotifier, uiBaseURL string) *ChannelHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChannelHandler{
		registry:    registry,
		credentials: credentials,
		notifier:    notifier,
		uiBaseURL:   uiBaseURL,
		logger:      log.With(slog.String("handler", "channel")),
		states:      make(map[string]stateEntry),
	}
}

func (h *ChannelHandler) Register(e *echo.Echo) {
	e.GET("/api/channels", h.ListChannels)
	group := e.Group("/api/:channel")
	group.GET("/connect", h.Connect)
	group.GET("/callback", h.Callback)
	group.POST("/send-message", h.SendMessage)
	group.GET("/conversations", h.ListConversations)
	group.GET("/posts", h.ListPosts)
	group.GET("/history/:conversation_id", h.History)
}

type channelStatus struct {
	Type        channel.ChannelType `json:"type"`
	DisplayName string              `json:"display_name"`
	OAuth       bool                `json:"oauth"`
	Connected   bool                `json:"connected"`
	Account     string              `json:"account,omitempty"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
}

func (h *ChannelHandler) ListChannels(c echo.Context) error {
	ctx := c.Request().Context()
	out := make([]channelStatus, 0)
	for _, desc := range h.registry.ListDescriptors() {
		status := channelStatus{
			Type:        desc.Type,
			DisplayName: desc.DisplayName,
			OAuth:       desc.OAuth,
		}
		if cred, err := h.credentials.Active(ctx, desc.Type); err == nil {
			status.Connected = true
			status.Account = cred.DisplayName
			if !cred.ExpiresAt.IsZero() {
				expires := cred.ExpiresAt
				status.ExpiresAt = &expires
			}
		}
		out = append(out, status)
	}
	return c.JSON(http.StatusOK, out)
}

// Connect starts the OAuth flow by redirecting the operator's browser to
// the provider authorization URL.
func (h *ChannelHandler) Connect(c echo.Context) error {
	channelType, err := h.registry.ParseChannelType(c.Param("channel"))
	if err != nil {
		return channelError(err)
	}
	authorizer, ok := h.registry.GetAuthorizer(channelType)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("channel %s does not use OAuth", channelType))
	}

	state, err := h.newState(channelType)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Redirect(http.StatusFound, authorizer.AuthCodeURL(state))
}

// Callback completes the OAuth flow: the code is exchanged for a credential,
// the credential is stored, and the operator is redirected back to the UI.
func (h *ChannelHandler) Callback(c echo.Context) error {
	channelType, err := h.registry.ParseChannelType(c.Param("channel"))
	if err != nil {
		return channelError(err)
	}
	authorizer, ok := h.registry.GetAuthorizer(channelType)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("channel %s does not use OAuth", channelType))
	}

	if errParam := c.QueryParam("error"); errParam != "" {
		h.logger.Warn("authorization denied",
			slog.String("channel", channelType.String()), slog.String("error", errParam))
		return c.Redirect(http.StatusFound, h.uiRedirect(channelType, false))
	}

	if !h.consumeState(c.QueryParam("state"), channelType) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid or expired state")
	}
	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing authorization code")
	}

	cred, err := authorizer.ExchangeCode(c.Request().Context(), code)
	if err != nil {
		return channelError(err)
	}
	if err := h.credentials.Upsert(c.Request().Context(), cred); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.logger.Info("channel connected",
		slog.String("channel", channelType.String()),
		slog.String("account_id", cred.AccountID))
	return c.Redirect(http.StatusFound, h.uiRedirect(channelType, true))
}

// sendMessageRequest accepts the channel-specific recipient field alongside
// the message body. Exactly one of the recipient fields is expected.
type sendMessageRequest struct {
	RecipientUsername string `json:"recipientUsername"`
	ConversationID    string `json:"conversationId"`
	PhoneNumber       string `json:"phoneNumber"`
	Message           string `json:"message" validate:"required"`
}

func (r sendMessageRequest) recipient() string {
	for _, v := range []string{r.RecipientUsername, r.ConversationID, r.PhoneNumber} {
		if v != "" {
			return v
		}
	}
	return ""
}

type sendMessageResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
	Recipient string `json:"recipient"`
}

// SendMessage delivers one operator-composed message. If the conversation is
// assigned to the responder, the pending automatic reply is cancelled.
func (h *ChannelHandler) SendMessage(c echo.Context) error {
	channelType, err := h.registry.ParseChannelType(c.Param("channel"))
	if err != nil {
		return channelError(err)
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rawRecipient := req.recipient()
	if rawRecipient == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing recipient")
	}

	ctx := c.Request().Context()
	cred, err := h.credentials.Active(ctx, channelType)
	if err != nil {
		return channelError(err)
	}

	recipient := rawRecipient
	if resolver, ok := h.registry.GetRecipientResolver(channelType); ok {
		recipient, err = resolver.ResolveRecipient(ctx, cred, rawRecipient)
		if err != nil {
			return channelError(err)
		}
	}

	sender, ok := h.registry.GetSender(channelType)
	if !ok {
		return channelError(fmt.Errorf("%w: %q cannot send", channel.ErrUnsupportedChannel, channelType))
	}
	receipt, err := sender.Send(ctx, cred, recipient, req.Message)
	if err != nil {
		return channelError(err)
	}

	if h.notifier != nil {
		h.notifier.NotifyManualSend(assignment.Key{Channel: channelType, ConversationID: recipient})
	}
	return c.JSON(http.StatusOK, sendMessageResponse{
		Success:   true,
		MessageID: receipt.MessageID,
		Recipient: receipt.Recipient,
	})
}

func (h *ChannelHandler) ListConversations(c echo.Context) error {
	channelType, err := h.registry.ParseChannelType(c.Param("channel"))
	if err != nil {
		return channelError(err)
	}
	lister, ok := h.registry.GetConversationLister(channelType)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("channel %s does not list conversations", channelType))
	}
	ctx := c.Request().Context()
	cred, err := h.credentials.Active(ctx, channelType)
	if err != nil {
		return channelError(err)
	}
	conversations, err := lister.ListConversations(ctx, cred)
	if err != nil {
		return channelError(err)
	}
	return c.JSON(http.StatusOK, conversations)
}

// ListPosts returns the connected account's published media for channels
// that expose it.
func (h *ChannelHandler) ListPosts(c echo.Context) error {
	channelType, err := h.registry.ParseChannelType(c.Param("channel"))
	if err != nil {
		return channelError(err)
	}
	lister, ok := h.registry.GetMediaLister(channelType)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("channel %s does not list posts", channelType))
	}
	ctx := c.Request().Context()
	cred, err := h.credentials.Active(ctx, channelType)
	if err != nil {
		return channelError(err)
	}
	posts, err := lister.ListMedia(ctx, cred)
	if err != nil {
		return channelError(err)
	}
	return c.JSON(http.StatusOK, posts)
}

// History returns the stored channel-native history decoded by the owning
// adapter.
func (h *ChannelHandler) History(c echo.Context) error {
	channelType, err := h.registry.ParseChannelType(c.Param("channel"))
	if err != nil {
		return channelError(err)
	}
	provider, ok := h.registry.GetHistoryProvider(channelType)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("channel %s has no history", channelType))
	}
	messages, err := provider.FetchHistory(c.Request().Context(), c.Param("conversation_id"))
	if err != nil {
		return channelError(err)
	}
	type entry struct {
		SenderID string    `json:"sender_id"`
		Content  string    `json:"content"`
		SentAt   time.Time `json:"sent_at"`
	}
	out := make([]entry, 0, len(messages))
	for _, m := range messages {
		out = append(out, entry{SenderID: m.SenderID, Content: m.Content, SentAt: m.SentAt})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ChannelHandler) newState(channelType channel.ChannelType) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	state := hex.EncodeToString(buf)

	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for k, v := range h.states {
		if now.After(v.expiresAt) {
			delete(h.states, k)
		}
	}
	h.states[state] = stateEntry{channelType: channelType, expiresAt: now.Add(oauthStateTTL)}
	return state, nil
}

func (h *ChannelHandler) consumeState(state string, channelType channel.ChannelType) bool {
	if state == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.states[state]
	if !ok {
		return false
	}
	delete(h.states, state)
	return entry.channelType == channelType && time.Now().Before(entry.expiresAt)
}

func (h *ChannelHandler) uiRedirect(channelType channel.ChannelType, connected bool) string {
	q := url.Values{}
	q.Set("channel", channelType.String())
	if connected {
		q.Set("connected", "1")
	} else {
		q.Set("connected", "0")
	}
	return h.uiBaseURL + "/channels?" + q.Encode()
}
