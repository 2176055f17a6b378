package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"villa-auth/internal/domain"
	"villa-auth/internal/infrastructure/metrics"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	provider domain.ProviderStatus
	timeout  time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(provider domain.ProviderStatus) *HealthHandler {
	return &HealthHandler{provider: provider, timeout: 2 * time.Second}
}

// Handle processes the /health endpoint.
func (h *HealthHandler) Handle(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Provider reports whether the identity provider answers.
func (h *HealthHandler) Provider(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	if err := h.provider.Ping(ctx); err != nil {
		metrics.SetProviderDisconnected()
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"provider": "disconnected",
		})
	}
	metrics.SetProviderConnected()
	return c.JSON(http.StatusOK, map[string]string{
		"provider": "connected",
	})
}
