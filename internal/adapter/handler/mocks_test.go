package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"villa-auth/internal/adapter/events"
	"villa-auth/internal/domain"
	"villa-auth/internal/infrastructure/cache"
	"villa-auth/internal/infrastructure/token"
	"villa-auth/internal/usecase"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const (
	testPassword   = "correct-horse"
	testHookSecret = "hook-secret"
)

// stubProvider implements domain.IdentityProvider and domain.ProviderStatus for testing.
type stubProvider struct {
	mu       sync.Mutex
	accounts map[string]*domain.Identity
	sessions map[string]*domain.Session
	users    map[string]*domain.Identity
	loginErr error
	pingErr  error
	next     int

	signOuts atomic.Int32
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		accounts: map[string]*domain.Identity{
			"ana@villa.test": {ID: "user-admin", Email: "ana@villa.test", DisplayName: "Ana", Role: domain.RoleAdmin},
			"hk@villa.test":  {ID: "user-hk", Email: "hk@villa.test", DisplayName: "Kai", Role: domain.RoleHousekeeper},
		},
		sessions: make(map[string]*domain.Session),
		users:    make(map[string]*domain.Identity),
	}
}

func (p *stubProvider) GetSession(_ context.Context, tok string) (*domain.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[tok]
	if !ok {
		return nil, domain.ErrNoSession
	}
	out := *s
	return &out, nil
}

func (p *stubProvider) GetUser(_ context.Context, tok string, _ *domain.Session) (*domain.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[tok]
	if !ok {
		return nil, domain.ErrNoUser
	}
	out := *u
	return &out, nil
}

func (p *stubProvider) SignInWithPassword(_ context.Context, creds domain.Credentials) (*domain.SignIn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loginErr != nil {
		return nil, p.loginErr
	}
	user, ok := p.accounts[creds.Email]
	if !ok || creds.Password != testPassword {
		return nil, domain.NewAuthError(domain.ErrInvalidCredentials, errors.New("wrong password"))
	}

	p.next++
	tok := fmt.Sprintf("tok-%d", p.next)
	now := time.Now()
	session := &domain.Session{
		ID:         fmt.Sprintf("sess-%d", p.next),
		IdentityID: user.ID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(time.Hour),
	}
	p.sessions[tok] = session
	p.users[tok] = user
	return &domain.SignIn{Token: tok, Session: session, User: user}, nil
}

func (p *stubProvider) SignOut(_ context.Context, tok string) error {
	p.signOuts.Add(1)
	p.revoke(tok)
	return nil
}

func (p *stubProvider) Ping(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pingErr
}

// revoke ends a session at the provider without telling anyone.
func (p *stubProvider) revoke(tok string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, tok)
	delete(p.users, tok)
}

type testServer struct {
	e        *echo.Echo
	provider *stubProvider
	registry *usecase.Registry
	csrf     *token.HMACCSRFGenerator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	p := newStubProvider()
	store := cache.NewMemoryStore(time.Hour)
	t.Cleanup(func() { _ = store.Close() })

	registry, err := usecase.NewRegistry(16, p, store, usecase.ReconcilerConfig{}, testLogger)
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	csrf := token.NewHMACCSRFGenerator("csrf-secret")
	e := echo.New()
	Register(e, Routes{
		Reconcilers: registry,
		Provider:    p,
		Publisher:   events.NewLocalPublisher(registry),
		CSRF:        csrf,
		Tokens: token.NewJWTIssuer(token.JWTConfig{
			Secret:   "backend-secret-for-tests",
			Issuer:   "villa-auth",
			Audience: "villa-backend",
			TTL:      time.Minute,
		}),
		Guard:      usecase.GuardConfig{LoginPath: "/login", Timeout: time.Second},
		HookSecret: testHookSecret,
		Logger:     testLogger,
	})

	return &testServer{e: e, provider: p, registry: registry, csrf: csrf}
}

// browser replays cookies across requests like a user agent.
type browser struct {
	t       *testing.T
	srv     *testServer
	cookies map[string]*http.Cookie
}

func (s *testServer) browser(t *testing.T) *browser {
	return &browser{t: t, srv: s, cookies: make(map[string]*http.Cookie)}
}

func (b *browser) do(method, target string, body any, header http.Header) *httptest.ResponseRecorder {
	b.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(b.t, err)
		reader = strings.NewReader(string(raw))
		header = header.Clone()
		if header == nil {
			header = http.Header{}
		}
		header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return b.doReader(method, target, reader, header)
}

func (b *browser) doReader(method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	b.t.Helper()

	req := httptest.NewRequest(method, target, body)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for _, c := range b.cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	b.srv.e.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rec
}

func (b *browser) get(target string) *httptest.ResponseRecorder {
	return b.do(http.MethodGet, target, nil, nil)
}

// csrfToken fetches a token, which also assigns the visitor cookie.
func (b *browser) csrfToken() string {
	b.t.Helper()
	rec := b.get("/csrf")
	require.Equal(b.t, http.StatusOK, rec.Code)

	var resp csrfResponse
	require.NoError(b.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data.CSRFToken
}

func (b *browser) post(target string, body any) *httptest.ResponseRecorder {
	return b.do(http.MethodPost, target, body, http.Header{CSRFHeader: {b.csrfToken()}})
}

func (b *browser) login(email string) *httptest.ResponseRecorder {
	return b.post("/login", map[string]string{"email": email, "password": testPassword})
}

func (b *browser) session() stateResponse {
	b.t.Helper()
	rec := b.get("/session")
	require.Equal(b.t, http.StatusOK, rec.Code)

	var resp stateResponse
	require.NoError(b.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}
