package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"villa-auth/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeProvider implements domain.IdentityProvider for testing.
type fakeProvider struct {
	mu         sync.Mutex
	token      string
	session    *domain.Session
	user       *domain.Identity
	sessionErr error
	userErr    error
	signIn     *domain.SignIn
	signInErr  error
	signOutErr error
	// gate blocks GetSession until closed.
	gate    chan struct{}
	started chan struct{}

	sessionCalls atomic.Int32
	userCalls    atomic.Int32
	signInCalls  atomic.Int32
	signOutCalls atomic.Int32
	inflight     atomic.Int32
	maxInflight  atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{started: make(chan struct{}, 16)}
}

func (p *fakeProvider) set(fn func(p *fakeProvider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakeProvider) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	p.sessionCalls.Add(1)
	n := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		m := p.maxInflight.Load()
		if n <= m || p.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	select {
	case p.started <- struct{}{}:
	default:
	}

	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionErr != nil {
		return nil, p.sessionErr
	}
	if p.session == nil || (p.token != "" && token != p.token) {
		return nil, domain.ErrNoSession
	}
	s := *p.session
	return &s, nil
}

func (p *fakeProvider) GetUser(_ context.Context, _ string, _ *domain.Session) (*domain.Identity, error) {
	p.userCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.userErr != nil {
		return nil, p.userErr
	}
	if p.user == nil {
		return nil, domain.ErrNoUser
	}
	u := *p.user
	return &u, nil
}

func (p *fakeProvider) SignInWithPassword(_ context.Context, _ domain.Credentials) (*domain.SignIn, error) {
	p.signInCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signInErr != nil {
		return nil, p.signInErr
	}
	return p.signIn, nil
}

func (p *fakeProvider) SignOut(_ context.Context, _ string) error {
	p.signOutCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signOutErr
}

// fakeStore implements domain.SessionStore for testing.
type fakeStore struct {
	mu      sync.Mutex
	entries  map[string]domain.SessionCacheEntry
	readErr  error
	writeErr error
	writes   int
	clears   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]domain.SessionCacheEntry)}
}

func (s *fakeStore) Read(_ context.Context, origin string) (domain.SessionCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return domain.SessionCacheEntry{}, s.readErr
	}
	return s.entries[origin], nil
}

func (s *fakeStore) Write(_ context.Context, origin string, entry domain.SessionCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writeErr != nil {
		return s.writeErr
	}
	s.entries[origin] = entry
	return nil
}

func (s *fakeStore) Clear(_ context.Context, origin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	delete(s.entries, origin)
	return nil
}

func (s *fakeStore) entry(origin string) domain.SessionCacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[origin]
}

func (s *fakeStore) counts() (writes, clears int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes, s.clears
}

// stubSource is an AuthSource whose states are pushed by the test. CheckAuth
// resolves with whatever is pushed on results.
type stubSource struct {
	states  chan domain.AuthState
	results chan domain.AuthState
	checks  atomic.Int32
}

func newStubSource() *stubSource {
	return &stubSource{
		states:  make(chan domain.AuthState, 8),
		results: make(chan domain.AuthState, 1),
	}
}

func (s *stubSource) Subscribe() (<-chan domain.AuthState, func()) {
	return s.states, func() {}
}

func (s *stubSource) CheckAuth(ctx context.Context) (domain.AuthState, error) {
	s.checks.Add(1)
	select {
	case state := <-s.results:
		return state, nil
	case <-ctx.Done():
		return domain.AuthState{}, ctx.Err()
	}
}

const testOrigin = "visitor-1"

func testSession(now time.Time) *domain.Session {
	return &domain.Session{
		ID:         "sess-1",
		IdentityID: "user-1",
		IssuedAt:   now.Add(-time.Hour),
		ExpiresAt:  now.Add(time.Hour),
	}
}

func testUser(role domain.Role) *domain.Identity {
	return &domain.Identity{ID: "user-1", Email: "ana@villa.test", DisplayName: "Ana", Role: role}
}

// signedInProvider returns a provider holding a valid session for token "tok".
func signedInProvider(role domain.Role) *fakeProvider {
	p := newFakeProvider()
	p.token = "tok"
	p.session = testSession(time.Now())
	p.user = testUser(role)
	return p
}

func newTestReconciler(p *fakeProvider, s *fakeStore, cfg ReconcilerConfig) *Reconciler {
	return NewReconciler(p, NewSessionCache(s, testOrigin, testLogger), cfg, testLogger)
}

// freshEntry is a cache entry checked just now.
func freshEntry(role domain.Role) domain.SessionCacheEntry {
	now := time.Now()
	return domain.SessionCacheEntry{
		LoggedIn:       true,
		CachedIdentity: testUser(role),
		CachedSession:  testSession(now),
		LastCheckedAt:  now,
	}
}
