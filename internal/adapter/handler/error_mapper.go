package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"villa-auth/internal/domain"
)

// retryAfterSeconds is advertised when the provider rate-limits a login.
const retryAfterSeconds = "30"

// mapDomainError converts a domain error into an appropriate echo.HTTPError.
func mapDomainError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid email or password")

	case errors.Is(err, domain.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many attempts, try again later")

	case errors.Is(err, domain.ErrTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "identity provider timed out")

	case errors.Is(err, domain.ErrNetwork):
		return echo.NewHTTPError(http.StatusBadGateway, "identity provider unavailable")

	case errors.Is(err, domain.ErrCSRFMismatch):
		return echo.NewHTTPError(http.StatusForbidden, "invalid csrf token")

	case errors.Is(err, domain.ErrInvalidEvent):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid identity event")

	case errors.Is(err, domain.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "visitor session is shutting down")

	case errors.Is(err, domain.ErrTokenGeneration),
		errors.Is(err, domain.ErrCSRFSecretMissing):
		return echo.NewHTTPError(http.StatusInternalServerError, "token generation error")

	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// respondError maps err and sets Retry-After on rate-limit responses.
func respondError(c echo.Context, err error) error {
	if errors.Is(err, domain.ErrRateLimited) {
		c.Response().Header().Set("Retry-After", retryAfterSeconds)
	}
	return mapDomainError(err)
}
