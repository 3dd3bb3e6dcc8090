// Package server wires the echo HTTP server for the inbox API.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/inboxflow/inboxflow/internal/auth"
	"github.com/inboxflow/inboxflow/internal/handlers"
)

type Server struct {
	echo *echo.Echo
	addr string
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// shouldSkipJWT exempts the health check, login, and the OAuth callback
// paths the providers redirect to without a bearer token.
func shouldSkipJWT(path string) bool {
	if path == "/ping" || path == "/health" || path == "/auth/login" {
		return true
	}
	if strings.HasPrefix(path, "/api/") && strings.HasSuffix(path, "/callback") {
		return true
	}
	return false
}

func NewServer(addr string, jwtSecret string, healthHandler *handlers.HealthHandler, authHandler *handlers.AuthHandler, channelHandler *handlers.ChannelHandler, aiHandler *handlers.AIHandler, statsHandler *handlers.StatsHandler) *Server {
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{validate: validator.New()}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.Any("error", v.Error))
			}
			slog.LogAttrs(c.Request().Context(), slog.LevelInfo, "request", attrs...)
			return nil
		},
	}))
	e.Use(auth.JWTMiddleware(jwtSecret, func(c echo.Context) bool {
		return shouldSkipJWT(c.Request().URL.Path)
	}))

	if healthHandler != nil {
		healthHandler.Register(e)
	}
	if authHandler != nil {
		authHandler.Register(e)
	}
	if channelHandler != nil {
		channelHandler.Register(e)
	}
	if aiHandler != nil {
		aiHandler.Register(e)
	}
	if statsHandler != nil {
		statsHandler.Register(e)
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
