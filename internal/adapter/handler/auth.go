package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"villa-auth/internal/domain"
	"villa-auth/utils/logger"
)

// BackendTokenHeader carries the signed backend token for verified sessions.
const BackendTokenHeader = "X-Villa-Backend-Token"

// AuthHandler serves login, logout and session state for the visitor.
type AuthHandler struct {
	tokens  domain.TokenIssuer
	cookies CookieConfig
	log     *logger.ContextLogger
}

// NewAuthHandler creates a new auth handler. tokens may be nil.
func NewAuthHandler(tokens domain.TokenIssuer, cookies CookieConfig, l *slog.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, cookies: cookies, log: logger.NewContextLogger(l)}
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	ReturnTo string `json:"return_to" form:"return_to"`
}

type sessionInfo struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// stateResponse is the JSON rendering of an AuthState.
type stateResponse struct {
	Status   domain.AuthStatus `json:"status"`
	Verified bool              `json:"verified"`
	User     *domain.Identity  `json:"user,omitempty"`
	Session  *sessionInfo      `json:"session,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type loginPageResponse struct {
	Authenticated bool   `json:"authenticated"`
	ReturnTo      string `json:"return_to"`
}

type loginResponse struct {
	OK       bool             `json:"ok"`
	User     *domain.Identity `json:"user"`
	Redirect string           `json:"redirect"`
}

func toStateResponse(s domain.AuthState) stateResponse {
	resp := stateResponse{Status: s.Status, Verified: s.Verified, User: s.User}
	if s.Session != nil {
		resp.Session = &sessionInfo{ID: s.Session.ID, ExpiresAt: s.Session.ExpiresAt}
	}
	if s.LastError != nil {
		resp.Error = errorCode(s.LastError)
	}
	return resp
}

// errorCode names a reconciliation error without leaking provider detail.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoSession):
		return "no_session"
	case errors.Is(err, domain.ErrNoUser):
		return "no_user"
	case errors.Is(err, domain.ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	default:
		return "network"
	}
}

// LoginPage sends an authenticated visitor on to return_to.
func (h *AuthHandler) LoginPage(c echo.Context) error {
	ctx := c.Request().Context()
	returnTo := safeReturnTo(c.QueryParam("return_to"))

	state, err := reconcilerOf(c).CheckAuth(ctx)
	if err != nil {
		return err
	}
	if state.IsAuthenticated(time.Now()) {
		return c.Redirect(http.StatusFound, returnTo)
	}
	return c.JSON(http.StatusOK, loginPageResponse{Authenticated: false, ReturnTo: returnTo})
}

// Login signs the visitor in with email and password.
func (h *AuthHandler) Login(c echo.Context) error {
	ctx := c.Request().Context()

	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid login request")
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	rec := reconcilerOf(c)
	state, err := rec.Login(ctx, domain.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		h.log.WithContext(ctx).WarnContext(ctx, "login rejected", "error", err)
		return respondError(c, err)
	}

	setSessionCookie(c, rec.Token(), state.Session.ExpiresAt, h.cookies)
	return c.JSON(http.StatusOK, loginResponse{
		OK:       true,
		User:     state.User,
		Redirect: safeReturnTo(req.ReturnTo),
	})
}

// Logout ends the visitor's session. It always succeeds locally.
func (h *AuthHandler) Logout(c echo.Context) error {
	state := reconcilerOf(c).Logout(c.Request().Context())
	clearSessionCookie(c, h.cookies)
	return c.JSON(http.StatusOK, toStateResponse(state))
}

// Session reports the visitor's reconciled state. A verified state also gets a
// backend token.
func (h *AuthHandler) Session(c echo.Context) error {
	ctx := c.Request().Context()

	state, err := reconcilerOf(c).CheckAuth(ctx)
	if err != nil {
		return err
	}

	if state.Status == domain.StatusUnauthenticated {
		dropDeadSession(c, state.LastError, h.cookies)
	}

	if h.tokens != nil && state.Verified && state.IsAuthenticated(time.Now()) {
		token, err := h.tokens.IssueBackendToken(state.User, state.Session.ID)
		if err != nil {
			h.log.LogError(ctx, "issue_backend_token", err)
			return mapDomainError(err)
		}
		c.Response().Header().Set(BackendTokenHeader, token)
	}
	return c.JSON(http.StatusOK, toStateResponse(state))
}
