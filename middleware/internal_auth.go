package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// HookSecretHeader carries the shared secret on identity-provider webhooks.
const HookSecretHeader = "X-Villa-Hook-Secret"

// SharedSecret rejects requests whose HookSecretHeader does not match secret.
// An empty secret rejects everything.
func SharedSecret(secret string) echo.MiddlewareFunc {
	secretBytes := []byte(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(secretBytes) == 0 {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "webhook not configured")
			}
			provided := []byte(c.Request().Header.Get(HookSecretHeader))
			if len(provided) == 0 {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing hook secret")
			}
			if subtle.ConstantTimeCompare(provided, secretBytes) != 1 {
				return echo.NewHTTPError(http.StatusForbidden, "invalid hook secret")
			}
			return next(c)
		}
	}
}
