package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"villa-auth/internal/domain"
	"villa-auth/internal/infrastructure/metrics"
)

const flightKey = "reconcile"

// Reconciliation triggers, used as metric labels.
const (
	triggerCheck  = "check"
	triggerVerify = "verify"
	triggerEvent  = "event"
	triggerLogin  = "login"
	triggerLogout = "logout"
)

// Default reconciliation bounds.
const (
	DefaultFreshnessWindow  = 30 * time.Second
	DefaultReconcileTimeout = 10 * time.Second
)

// ReconcilerConfig bounds the cache fast path and remote calls.
type ReconcilerConfig struct {
	// FreshnessWindow is how long a cache check suppresses remote verification.
	FreshnessWindow time.Duration
	// Timeout bounds each remote provider round-trip.
	Timeout time.Duration
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = DefaultFreshnessWindow
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultReconcileTimeout
	}
	return c
}

type cacheOp int

const (
	cacheKeep cacheOp = iota
	cacheWrite
	// cacheClear is skipped when nothing was written since the last clear.
	cacheClear
	cacheClearAlways
)

// update is one candidate write of AuthState and its cache side effect.
type update struct {
	state domain.AuthState
	cache cacheOp
	entry domain.SessionCacheEntry
	token *string
}

// Reconciler owns one visitor's AuthState and Session Cache namespace.
//
// Every write takes a ticket from a single counter and is applied only if no
// newer ticket has been applied. Login and logout hold userOp exclusively, so a
// background check either got its ticket before them (and loses) or starts
// after them (and sees their result).
type Reconciler struct {
	provider domain.IdentityProvider
	cache    *SessionCache
	cfg      ReconcilerConfig
	logger   *slog.Logger
	now      func() time.Time

	flight   singleflight.Group
	userOp   sync.RWMutex
	commitMu sync.Mutex

	mu         sync.Mutex
	state      domain.AuthState
	token      string
	seq        uint64
	applied    uint64
	cacheDirty bool
	verifying  bool
	closed     bool
	subs       map[uint64]chan domain.AuthState
	nextSub    uint64
	queue      []domain.AuthEvent

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconciler creates a Reconciler in the checking state and starts its event loop.
func NewReconciler(provider domain.IdentityProvider, cache *SessionCache, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		provider:   provider,
		cache:      cache,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		now:        time.Now,
		state:      domain.Checking(),
		cacheDirty: true,
		subs:       make(map[uint64]chan domain.AuthState),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	r.wg.Add(1)
	go r.eventLoop()
	return r
}

// State returns the current AuthState.
func (r *Reconciler) State() domain.AuthState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Token returns the provider session token, if any.
func (r *Reconciler) Token() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}

// Subscribe returns a channel that always holds the latest AuthState.
// The current state is delivered immediately. cancel releases the subscription.
func (r *Reconciler) Subscribe() (<-chan domain.AuthState, func()) {
	ch := make(chan domain.AuthState, 1)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(ch)
		return ch, func() {}
	}
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	ch <- r.state

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
	}
}

// CheckAuth reconciles the cache against the provider and returns the resulting state.
// Concurrent callers share one in-flight reconciliation. Failures are recorded in
// AuthState.LastError; the returned error is only ever ctx.Err() or ErrClosed.
func (r *Reconciler) CheckAuth(ctx context.Context) (domain.AuthState, error) {
	if r.isClosed() {
		return r.State(), domain.ErrClosed
	}

	detached := context.WithoutCancel(ctx)
	ch := r.flight.DoChan(flightKey, func() (any, error) {
		return r.check(detached), nil
	})

	select {
	case res := <-ch:
		return res.Val.(domain.AuthState), nil
	case <-ctx.Done():
		return r.State(), ctx.Err()
	}
}

// Login signs in with the provider. On success the cache is written and the
// state becomes authenticated. On failure the error is returned as a
// *domain.AuthError, the cache is untouched, and the state is unchanged except
// that checking reverts to unauthenticated.
func (r *Reconciler) Login(ctx context.Context, creds domain.Credentials) (domain.AuthState, error) {
	if r.isClosed() {
		return r.State(), domain.ErrClosed
	}

	r.userOp.Lock()
	defer r.userOp.Unlock()
	ticket, _ := r.begin()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := r.provider.SignInWithPassword(rctx, creds)
	if err == nil && res != nil {
		now := r.now()
		next := domain.Authenticated(res.User, res.Session, true, now)
		if next.Status == domain.StatusAuthenticated {
			token := res.Token
			r.commit(ctx, ticket, update{
				state: next,
				cache: cacheWrite,
				entry: entryFor(next, now),
				token: &token,
			})
			metrics.RecordLogin("success")
			metrics.RecordReconcile(triggerLogin, outcomeOf(next), time.Since(start).Seconds())
			r.logger.InfoContext(ctx, "login succeeded", "identity.id", res.User.ID, "role", res.User.Role)
			return r.State(), nil
		}
		err = domain.ErrSessionExpired
	}
	if err == nil {
		err = domain.ErrNoSession
	}

	authErr := loginError(rctx, err)
	if r.State().Status == domain.StatusChecking {
		r.commit(ctx, ticket, update{state: domain.Unauthenticated(nil)})
	}
	metrics.RecordLogin(loginOutcome(authErr))
	r.logger.WarnContext(ctx, "login failed", "error", authErr)
	return r.State(), authErr
}

// Logout ends the session locally and, best effort, at the provider.
// The cache is cleared and the state becomes unauthenticated even when the
// provider call fails.
func (r *Reconciler) Logout(ctx context.Context) domain.AuthState {
	r.userOp.Lock()
	defer r.userOp.Unlock()
	ticket, token := r.begin()

	if token != "" {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
		if err := r.provider.SignOut(rctx, token); err != nil {
			r.logger.WarnContext(ctx, "remote sign-out failed, ending session locally", "error", err)
		}
		cancel()
	}

	empty := ""
	r.commit(ctx, ticket, update{
		state: domain.Unauthenticated(nil),
		cache: cacheClearAlways,
		token: &empty,
	})
	metrics.RecordReconcile(triggerLogout, "unauthenticated", 0)
	return r.State()
}

// Adopt replaces the provider token with one presented by the visitor.
// An empty or unchanged token is ignored; a different one resets the state to checking.
func (r *Reconciler) Adopt(ctx context.Context, token string) {
	if token == "" || r.Token() == token {
		return
	}

	r.userOp.RLock()
	ticket, current := r.begin()
	r.userOp.RUnlock()
	if current == token {
		return
	}
	r.commit(ctx, ticket, update{state: domain.Checking(), token: &token})
}

// Notify queues an identity event. Kinds outside the reconcile allow-list are
// ignored. Consecutive events of the same kind are coalesced; nothing is dropped.
func (r *Reconciler) Notify(event domain.AuthEvent) {
	if !event.Kind.Reconciles() {
		r.logger.Debug("ignoring identity event", "kind", event.Kind)
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if n := len(r.queue); n > 0 && r.queue[n-1].Kind == event.Kind {
		r.queue[n-1] = event
	} else {
		r.queue = append(r.queue, event)
	}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Matches reports whether event concerns this Reconciler's current session or
// user. A Reconciler still checking an adopted token cannot tell yet, so it
// matches every event and settles it against the provider.
func (r *Reconciler) Matches(event domain.AuthEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status == domain.StatusChecking && r.token != "" {
		return true
	}
	return r.owns(event)
}

// owns reports whether event names the committed session or user. Callers hold r.mu.
func (r *Reconciler) owns(event domain.AuthEvent) bool {
	if event.SessionID != "" && r.state.Session != nil && r.state.Session.ID == event.SessionID {
		return true
	}
	return event.IdentityID != "" && r.state.User != nil && r.state.User.ID == event.IdentityID
}

// Close stops the event loop and releases subscribers. In-flight provider calls
// finish but their results are discarded.
func (r *Reconciler) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
	r.queue = nil
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	return nil
}

func (r *Reconciler) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// begin issues the next ticket and snapshots the token it applies to.
func (r *Reconciler) begin() (uint64, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq, r.token
}

// check runs the cache fast path, falling back to remote verification.
func (r *Reconciler) check(ctx context.Context) domain.AuthState {
	r.userOp.RLock()
	ticket, token := r.begin()
	r.userOp.RUnlock()

	now := r.now()
	if entry := r.cache.Read(ctx); !entry.Empty() {
		if state, ok := r.fastPath(ctx, ticket, token, entry, now); ok {
			return state
		}
	}
	return r.remote(ctx, ticket, token, triggerCheck)
}

// fastPath serves a fresh cache entry without a provider round-trip.
func (r *Reconciler) fastPath(ctx context.Context, ticket uint64, token string, entry domain.SessionCacheEntry, now time.Time) (domain.AuthState, bool) {
	if token == "" || !entry.LoggedIn || entry.CachedIdentity == nil || !entry.FreshAt(now, r.cfg.FreshnessWindow) {
		return domain.AuthState{}, false
	}

	cur := r.State()
	if cur.LastError != nil {
		return domain.AuthState{}, false
	}
	if cur.IsAuthenticated(now) && cur.User.ID == entry.CachedIdentity.ID {
		if !cur.Verified {
			r.verifyInBackground()
		}
		metrics.RecordReconcile(triggerCheck, "throttled", 0)
		return cur, true
	}

	optimistic := domain.Authenticated(entry.CachedIdentity, entry.CachedSession, false, now)
	if optimistic.Status != domain.StatusAuthenticated {
		return domain.AuthState{}, false
	}
	applied := r.commit(ctx, ticket, update{state: optimistic})
	r.verifyInBackground()
	metrics.RecordReconcile(triggerCheck, "optimistic", 0)
	if !applied {
		return r.State(), true
	}
	optimistic.Seq = ticket
	return optimistic, true
}

// verifyInBackground schedules one remote verification at a time.
func (r *Reconciler) verifyInBackground() {
	r.mu.Lock()
	if r.verifying || r.closed {
		r.mu.Unlock()
		return
	}
	r.verifying = true
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			r.verifying = false
			r.mu.Unlock()
		}()
		r.forceRemote(r.ctx, triggerVerify)
	}()
}

// forceRemote runs a remote reconciliation that starts after the call. If a
// flight is already running it waits for it and then runs its own.
func (r *Reconciler) forceRemote(ctx context.Context, trigger string) domain.AuthState {
	for {
		ran := false
		ch := r.flight.DoChan(flightKey, func() (any, error) {
			ran = true
			r.userOp.RLock()
			ticket, token := r.begin()
			r.userOp.RUnlock()
			return r.remote(ctx, ticket, token, trigger), nil
		})

		select {
		case res := <-ch:
			if ran {
				return res.Val.(domain.AuthState)
			}
		case <-ctx.Done():
			return r.State()
		}
	}
}

// remote asks the provider for the session and user and commits the outcome.
func (r *Reconciler) remote(ctx context.Context, ticket uint64, token, trigger string) domain.AuthState {
	start := time.Now()
	next, op := r.fetch(ctx, token)

	u := update{state: next, cache: op}
	if op == cacheWrite {
		u.entry = entryFor(next, r.now())
	}
	if !r.commit(ctx, ticket, u) {
		metrics.RecordReconcile(trigger, "stale", time.Since(start).Seconds())
		r.logger.DebugContext(ctx, "discarded stale reconciliation", "ticket", ticket, "trigger", trigger)
		return r.State()
	}

	metrics.RecordReconcile(trigger, outcomeOf(next), time.Since(start).Seconds())
	if next.LastError != nil && !isExpected(next.LastError) {
		r.logger.WarnContext(ctx, "reconciliation failed", "trigger", trigger, "error", next.LastError)
	}
	next.Seq = ticket
	return next
}

// fetch performs the two provider round-trips and decides the cache side effect.
func (r *Reconciler) fetch(ctx context.Context, token string) (domain.AuthState, cacheOp) {
	if token == "" {
		return domain.Unauthenticated(domain.ErrNoSession), cacheClear
	}

	rctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	session, err := r.provider.GetSession(rctx, token)
	if err != nil {
		cause := classify(rctx, err)
		if errors.Is(cause, domain.ErrNoSession) {
			return domain.Unauthenticated(cause), cacheClear
		}
		return domain.Unauthenticated(cause), cacheKeep
	}

	user, err := r.provider.GetUser(rctx, token, session)
	if err != nil || user == nil {
		if err == nil {
			err = domain.ErrNoUser
		}
		return domain.Unauthenticated(classify(rctx, err)), cacheClear
	}

	next := domain.Authenticated(user, session, true, r.now())
	if next.Status != domain.StatusAuthenticated {
		return next, cacheClear
	}
	return next, cacheWrite
}

// commit applies u if ticket is newer than the last applied write. Cache side
// effects happen here only, in ticket order, before subscribers are notified.
func (r *Reconciler) commit(ctx context.Context, ticket uint64, u update) bool {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	r.mu.Lock()
	if r.closed || ticket <= r.applied {
		r.mu.Unlock()
		return false
	}
	r.applied = ticket
	clearCache := u.cache == cacheClearAlways || (u.cache == cacheClear && r.cacheDirty)
	r.mu.Unlock()

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
	defer cancel()

	var dirty *bool
	switch {
	case u.cache == cacheWrite:
		// Dirty even on failure: the store may still hold an older entry.
		if err := r.cache.Write(cctx, u.entry); err != nil {
			r.logger.DebugContext(ctx, "cache write failed, entry kept dirty", "ticket", ticket)
		}
		t := true
		dirty = &t
	case clearCache:
		d := r.cache.Clear(cctx) != nil
		dirty = &d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if dirty != nil {
		r.cacheDirty = *dirty
	}
	if u.token != nil {
		r.token = *u.token
	}
	u.state.Seq = ticket
	r.state = u.state
	for _, ch := range r.subs {
		offer(ch, u.state)
	}
	return true
}

// offer replaces whatever ch holds with s.
func offer(ch chan domain.AuthState, s domain.AuthState) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

func (r *Reconciler) eventLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
		}
		for {
			event, ok := r.popEvent()
			if !ok {
				break
			}
			r.handleEvent(event)
		}
	}
}

func (r *Reconciler) popEvent() (domain.AuthEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.queue) == 0 {
		return domain.AuthEvent{}, false
	}
	event := r.queue[0]
	r.queue = r.queue[1:]
	return event, true
}

func (r *Reconciler) handleEvent(event domain.AuthEvent) {
	ctx := r.ctx
	switch event.Kind {
	case domain.EventSignedOut:
		r.mu.Lock()
		owned := r.owns(event)
		r.mu.Unlock()
		if !owned {
			// Queued before the session was known; ask the provider instead.
			r.forceRemote(ctx, triggerEvent)
			return
		}

		r.userOp.RLock()
		ticket, _ := r.begin()
		r.userOp.RUnlock()

		empty := ""
		r.commit(ctx, ticket, update{
			state: domain.Unauthenticated(nil),
			cache: cacheClear,
			token: &empty,
		})
		metrics.RecordReconcile(triggerEvent, "unauthenticated", 0)
		r.logger.InfoContext(ctx, "session ended by provider", "session.id", event.SessionID)
	case domain.EventSignedIn, domain.EventTokenRefreshed, domain.EventUserUpdated:
		r.forceRemote(ctx, triggerEvent)
	}
}

// entryFor builds the cache entry recording an authenticated state.
func entryFor(s domain.AuthState, now time.Time) domain.SessionCacheEntry {
	return domain.SessionCacheEntry{
		LoggedIn:       true,
		CachedIdentity: s.User,
		CachedSession:  s.Session,
		LastCheckedAt:  now,
	}
}

// classify maps a provider failure onto the reconciliation taxonomy.
func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNoSession), errors.Is(err, domain.ErrNoUser), errors.Is(err, domain.ErrTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	case errors.Is(err, domain.ErrNetwork):
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}
}

// loginError wraps err in an AuthError of the matching kind.
func loginError(ctx context.Context, err error) *domain.AuthError {
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		return domain.NewAuthError(domain.ErrInvalidCredentials, err)
	case errors.Is(err, domain.ErrRateLimited):
		return domain.NewAuthError(domain.ErrRateLimited, err)
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.NewAuthError(domain.ErrTimeout, err)
	default:
		return domain.NewAuthError(domain.ErrNetwork, err)
	}
}

func loginOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	default:
		return "network"
	}
}

func outcomeOf(s domain.AuthState) string {
	switch {
	case s.Status == domain.StatusAuthenticated:
		return "authenticated"
	case errors.Is(s.LastError, domain.ErrNoSession):
		return "no_session"
	case errors.Is(s.LastError, domain.ErrNoUser):
		return "no_user"
	case errors.Is(s.LastError, domain.ErrSessionExpired):
		return "expired"
	case errors.Is(s.LastError, domain.ErrTimeout):
		return "timeout"
	case errors.Is(s.LastError, domain.ErrNetwork):
		return "network"
	default:
		return "unauthenticated"
	}
}

// isExpected reports outcomes that are normal for a logged-out visitor.
func isExpected(err error) bool {
	return errors.Is(err, domain.ErrNoSession) || errors.Is(err, domain.ErrNoUser)
}
