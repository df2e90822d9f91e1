// Package api exposes the negotiation hub over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"negotiation-hub/auth"
	"negotiation-hub/domain"
	"negotiation-hub/errors"
	"negotiation-hub/runtime"
	"negotiation-hub/services"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, batch domain.MatchBatch) []runtime.CandidateResult
}

type Deps struct {
	Signer      *auth.Signer
	Auth        services.IAuthService
	Negotiation services.INegotiationService
	Connections *services.ConnectionService
	Fanout      Dispatcher
	Socket      echo.HandlerFunc
	Gatherer    prometheus.Gatherer
	Ready       func(ctx context.Context) error
	Log         *slog.Logger
}

type Server struct {
	deps Deps
}

// NewEcho wires every route of the hub on a fresh echo instance.
func NewEcho(deps Deps) *echo.Echo {
	s := &Server{deps: deps}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			deps.Log.Debug("Request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", s.ready)
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	if deps.Socket != nil {
		e.GET("/ws", deps.Socket)
	}

	authGroup := e.Group("/auth")
	authGroup.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(20)))
	authGroup.POST("/login", s.login)

	api := e.Group("/api")
	api.Use(auth.Middleware(deps.Signer))
	participant := auth.RequireRoles(string(domain.RoleRequester), string(domain.RoleWorker))

	api.POST("/messages", s.submit, participant)
	api.POST("/messages/read", s.markRead, participant)
	api.PATCH("/messages/:id/status", s.updateStatus, participant)
	api.GET("/history/:counterpartyId", s.history, participant)
	api.GET("/conversations/active", s.activeConversations, participant)
	api.POST("/conversations/:ref/complete", s.complete, participant)
	api.POST("/conversations/:ref/cancel", s.cancel, participant)
	api.POST("/jobs/:correlationId/booked", s.bookJob, auth.RequireRoles(string(domain.RoleRequester), auth.RoleOperator))
	api.POST("/matches", s.dispatch, auth.RequireRoles(auth.RoleOperator))

	admin := e.Group("/admin")
	admin.Use(auth.Middleware(deps.Signer))
	admin.Use(auth.RequireRoles(auth.RoleOperator))

	admin.GET("/connections", s.listConnections)
	admin.GET("/connections/stats", s.connectionStats)
	admin.GET("/connections/:id", s.connectionStatus)
	admin.DELETE("/connections/:id", s.disconnect)
	admin.POST("/connections/:id/test", s.sendTest)

	return e
}

func (s *Server) ready(c echo.Context) error {
	if s.deps.Ready == nil {
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	}
	if err := s.deps.Ready(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
}

// fail renders err with the status it maps to. Internal errors are logged and hidden.
func (s *Server) fail(c echo.Context, err error) error {
	status := errors.MapToHTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.deps.Log.Error("Request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		return c.JSON(status, echo.Map{"success": false, "error": "internal error"})
	}
	return c.JSON(status, echo.Map{"success": false, "error": err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": msg})
}

func callerID(c echo.Context) string {
	id, _ := c.Get(auth.UserIDKey).(string)
	return id
}

func callerRole(c echo.Context) string {
	role, _ := c.Get(auth.RoleKey).(string)
	return role
}

func isOperator(c echo.Context) bool {
	return callerRole(c) == auth.RoleOperator
}

func callerName(c echo.Context) string {
	name, _ := c.Get(auth.NameKey).(string)
	return name
}

func callerToken(c echo.Context) string {
	token, _ := c.Get(auth.TokenKey).(string)
	return token
}

func optionalRole(c echo.Context) (*domain.Role, error) {
	raw := c.QueryParam("role")
	if raw == "" {
		return nil, nil
	}
	role, err := domain.ParseRole(raw)
	if err != nil {
		return nil, err
	}
	return &role, nil
}
