package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/inboxflow/inboxflow/internal/auth"
	"github.com/inboxflow/inboxflow/internal/config"
)

const defaultTokenLifetime = 24 * time.Hour

// AuthHandler issues and refreshes operator tokens.
type AuthHandler struct {
	operator config.OperatorConfig
	secret   string
	lifetime time.Duration
	logger   *slog.Logger
}

func NewAuthHandler(log *slog.Logger, cfg *config.Config) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	lifetime := defaultTokenLifetime
	if d, err := time.ParseDuration(cfg.Auth.JWTExpiresIn); err == nil && d > 0 {
		lifetime = d
	}
	return &AuthHandler{
		operator: cfg.Operator,
		secret:   cfg.Auth.JWTSecret,
		lifetime: lifetime,
		logger:   log.With(slog.String("handler", "auth")),
	}
}

func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
	e.POST("/auth/refresh", h.Refresh)
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if req.Username != h.operator.Username ||
		bcrypt.CompareHashAndPassword([]byte(h.operator.PasswordHash), []byte(req.Password)) != nil {
		h.logger.Warn("login rejected", slog.String("username", req.Username))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	token, expiresAt, err := auth.GenerateToken(req.Username, h.secret, h.lifetime)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	token, expiresAt, err := auth.RefreshTokenFromContext(c, h.secret, h.lifetime)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}
