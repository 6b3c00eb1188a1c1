// Package api provides the HTTP surface for message history and
// mutation. Real-time delivery happens over the websocket relay; these
// endpoints are the pull side.
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chatwire/chatwire/internal/auth"
	"github.com/chatwire/chatwire/internal/domain"
	"github.com/chatwire/chatwire/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service  *service.Service
	verifier auth.Verifier
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, verifier auth.Verifier) *Handler {
	return &Handler{
		service:  svc,
		verifier: verifier,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	v1 := e.Group("/v1", h.requireIdentity)

	v1.POST("/messages", h.SendMessage)
	v1.PATCH("/messages/:message_id", h.EditMessage)
	v1.DELETE("/messages/:message_id", h.DeleteMessage)
	v1.PUT("/messages/:message_id/reaction", h.ReactToMessage)

	v1.GET("/conversations/:user_id/messages", h.GetRecentMessages)
	v1.GET("/conversations/:user_id/history", h.GetMessageHistory)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

const identityKey = "identity"

// requireIdentity verifies the caller's headers and stores the resolved
// identity on the request context.
func (h *Handler) requireIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		profile := domain.Profile{
			ID:   c.Request().Header.Get("X-User-ID"),
			Name: c.Request().Header.Get("X-User-Name"),
		}
		id, err := h.verifier.Verify(c.Request().Header.Get("X-API-Key"), profile)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "identity verification failed"})
		}
		c.Set(identityKey, id)
		return next(c)
	}
}

func identityFrom(c echo.Context) domain.Identity {
	id, _ := c.Get(identityKey).(domain.Identity)
	return id
}

// errorResponse maps the failure taxonomy to HTTP statuses.
func errorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotAuthenticated):
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
	case errors.Is(err, domain.ErrNotAllowed):
		return c.JSON(http.StatusForbidden, map[string]string{"error": "operation not allowed"})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "message not found"})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
