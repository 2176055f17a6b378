package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"villa-auth/internal/adapter/events"
	"villa-auth/internal/domain"
	"villa-auth/internal/usecase"
	appmiddleware "villa-auth/middleware"
)

// Routes carries everything the HTTP surface needs.
type Routes struct {
	Reconcilers Reconcilers
	Provider    domain.ProviderStatus
	Publisher   events.Publisher
	CSRF        domain.CSRFTokenGenerator
	Tokens      domain.TokenIssuer
	Cookies     CookieConfig
	Guard       usecase.GuardConfig
	HookSecret  string
	// LoginLimiter throttles POST /login per client IP. Optional.
	LoginLimiter *appmiddleware.RateLimiter
	Logger       *slog.Logger
}

// Register mounts the auth routes on e.
func Register(e *echo.Echo, r Routes) {
	health := NewHealthHandler(r.Provider)
	e.GET("/health", health.Handle)
	e.GET("/health/provider", health.Provider)

	hooks := NewHookHandler(r.Publisher, r.Logger)
	e.POST("/hooks/identity-events", hooks.Handle, appmiddleware.SharedSecret(r.HookSecret))

	visitor := Visitor(r.Reconcilers, r.Cookies)

	csrf := NewCSRFHandler(r.CSRF)
	auth := NewAuthHandler(r.Tokens, r.Cookies, r.Logger)
	login := []echo.MiddlewareFunc{visitor}
	if r.LoginLimiter != nil {
		login = append(login, r.LoginLimiter.Middleware())
	}
	login = append(login, csrf.Require())

	e.GET("/csrf", csrf.Handle, visitor)
	e.GET("/session", auth.Session, visitor)
	e.GET("/login", auth.LoginPage, visitor)
	e.POST("/login", auth.Login, login...)
	e.POST("/logout", auth.Logout, visitor, csrf.Require())

	guard := NewRouteGuard(r.Guard, r.Cookies, r.Logger)
	admin := NewAdminHandler()
	e.GET("/admin", admin.Dashboard, visitor, guard.Require(usecase.DefaultPolicy()))
	e.GET("/admin/communication", admin.Communication, visitor, guard.Require(usecase.PermissionPolicy(domain.PermSendEmails)))
	e.GET("/admin/tasks", admin.Tasks, visitor, guard.Require(usecase.PermissionPolicy(domain.PermViewTasks)))
}
