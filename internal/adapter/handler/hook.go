package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"villa-auth/internal/adapter/events"
	"villa-auth/internal/infrastructure/metrics"
)

// maxHookBody caps webhook payloads.
const maxHookBody = 64 << 10

// HookHandler accepts identity events pushed by the provider.
type HookHandler struct {
	publisher events.Publisher
	logger    *slog.Logger
}

// NewHookHandler creates a new webhook handler.
func NewHookHandler(publisher events.Publisher, logger *slog.Logger) *HookHandler {
	return &HookHandler{publisher: publisher, logger: logger}
}

// Handle decodes an AuthEvent and publishes it to every replica.
func (h *HookHandler) Handle(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxHookBody+1))
	if err != nil || len(body) > maxHookBody {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable identity event")
	}

	event, err := events.Decode(body)
	if err != nil {
		metrics.RecordEvent("webhook", "invalid")
		h.logger.WarnContext(ctx, "rejected identity event", "error", err)
		return mapDomainError(err)
	}
	metrics.RecordEvent("webhook", string(event.Kind))

	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.ErrorContext(ctx, "failed to publish identity event", "kind", event.Kind, "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "event bus unavailable")
	}
	return c.NoContent(http.StatusAccepted)
}
