package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"villa-auth/internal/domain"
	"villa-auth/internal/usecase"
	"villa-auth/utils/logger"
)

// RouteGuard builds Guard middleware for protected routes.
type RouteGuard struct {
	cfg     usecase.GuardConfig
	cookies CookieConfig
	log     *logger.ContextLogger
}

// NewRouteGuard creates a RouteGuard redirecting denials to cfg.LoginPath.
func NewRouteGuard(cfg usecase.GuardConfig, cookies CookieConfig, l *slog.Logger) *RouteGuard {
	return &RouteGuard{cfg: cfg, cookies: cookies, log: logger.NewContextLogger(l)}
}

// Require admits a request only when the visitor's state satisfies policy.
// Denials redirect to the login page. Mutating methods require a verified state.
func (g *RouteGuard) Require(policy usecase.RoutePolicy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.RequestURI()
			ctx := logger.WithRoute(req.Context(), req.URL.Path)
			c.SetRequest(req.WithContext(ctx))

			p := policy
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				p.RequireVerified = true
			}

			guard := usecase.NewGuard(reconcilerOf(c), p, g.cfg, g.log.WithContext(ctx))
			d, err := guard.Decide(ctx, path)
			if err != nil {
				// The client went away while pending.
				return err
			}

			if d.State != usecase.GuardAllowed {
				g.log.WithContext(ctx).InfoContext(ctx, "route denied", "reason", d.Reason)
				dropDeadSession(c, d.Reason, g.cookies)
				return c.Redirect(http.StatusFound, d.Redirect)
			}

			c.SetRequest(req.WithContext(logger.WithIdentityID(ctx, d.User.ID)))
			c.Set(ctxIdentity, d.User)
			return next(c)
		}
	}
}

func identityOf(c echo.Context) *domain.Identity {
	id, _ := c.Get(ctxIdentity).(*domain.Identity)
	return id
}
