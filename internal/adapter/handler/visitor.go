package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"villa-auth/internal/domain"
	"villa-auth/internal/usecase"
	"villa-auth/utils/logger"
)

const (
	// VisitorCookie names the browser; it keys the Session Cache and the Reconciler.
	VisitorCookie = "villa_visitor"
	// SessionCookie carries the identity-provider session token.
	SessionCookie = "villa_session"

	visitorMaxAge = 365 * 24 * time.Hour

	ctxVisitorID  = "villa.visitor_id"
	ctxReconciler = "villa.reconciler"
	ctxIdentity   = "villa.identity"
)

// Reconcilers hands out the Reconciler bound to a visitor.
type Reconcilers interface {
	Get(visitorID string) *usecase.Reconciler
}

// CookieConfig controls cookie attributes.
type CookieConfig struct {
	Secure bool
}

// Visitor identifies the browser, binds its Reconciler to the request and adopts
// the session token it presents.
func Visitor(reconcilers Reconcilers, cookies CookieConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			visitorID := ""
			if cookie, err := c.Cookie(VisitorCookie); err == nil {
				if id, err := uuid.Parse(cookie.Value); err == nil {
					visitorID = id.String()
				}
			}
			if visitorID == "" {
				visitorID = uuid.NewString()
				c.SetCookie(&http.Cookie{
					Name:     VisitorCookie,
					Value:    visitorID,
					Path:     "/",
					MaxAge:   int(visitorMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   cookies.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := logger.WithVisitorID(c.Request().Context(), visitorID)
			c.SetRequest(c.Request().WithContext(ctx))

			rec := reconcilers.Get(visitorID)
			if cookie, err := c.Cookie(SessionCookie); err == nil && cookie.Value != "" {
				rec.Adopt(ctx, cookie.Value)
			}

			c.Set(ctxVisitorID, visitorID)
			c.Set(ctxReconciler, rec)
			return next(c)
		}
	}
}

func visitorID(c echo.Context) string {
	id, _ := c.Get(ctxVisitorID).(string)
	return id
}

func reconcilerOf(c echo.Context) *usecase.Reconciler {
	rec, _ := c.Get(ctxReconciler).(*usecase.Reconciler)
	return rec
}

func setSessionCookie(c echo.Context, token string, expires time.Time, cookies CookieConfig) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(c echo.Context, cookies CookieConfig) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// dropDeadSession clears the session cookie once the provider has disowned it,
// so later requests stop re-adopting it. Transient failures keep the cookie.
func dropDeadSession(c echo.Context, reason error, cookies CookieConfig) {
	if !errors.Is(reason, domain.ErrNoSession) && !errors.Is(reason, domain.ErrNoUser) &&
		!errors.Is(reason, domain.ErrSessionExpired) {
		return
	}
	if _, err := c.Cookie(SessionCookie); err == nil {
		clearSessionCookie(c, cookies)
	}
}
