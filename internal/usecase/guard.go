package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"villa-auth/internal/domain"
	"villa-auth/internal/infrastructure/metrics"
)

// GuardState is the Route Guard's position for one navigation.
type GuardState string

const (
	GuardPending GuardState = "pending"
	GuardAllowed GuardState = "allowed"
	GuardDenied  GuardState = "denied"
)

// DefaultLoginPath is the login entry point Denied decisions redirect to.
const DefaultLoginPath = "/login"

// Decision is a Guard outcome.
type Decision struct {
	State GuardState
	// User is set when State is GuardAllowed.
	User *domain.Identity
	// Reason explains a denial.
	Reason error
	// Redirect is the login URL carrying the requested path. Set when State is GuardDenied.
	Redirect string
}

// RoutePolicy scopes a protected route.
type RoutePolicy struct {
	// AllowedRoles defaults to admin only when empty.
	AllowedRoles []domain.Role
	// RequireVerified keeps the Guard pending on an optimistic, unverified state.
	RequireVerified bool
}

// DefaultPolicy admits admins only.
func DefaultPolicy() RoutePolicy {
	return RoutePolicy{AllowedRoles: []domain.Role{domain.RoleAdmin}}
}

// PermissionPolicy admits every role granted p.
func PermissionPolicy(p domain.Permission) RoutePolicy {
	return RoutePolicy{AllowedRoles: domain.RolesWith(p)}
}

// Allows reports whether role may enter. A missing role is the least-privileged one.
func (p RoutePolicy) Allows(role domain.Role) bool {
	if role == "" {
		role = domain.RoleGuest
	}
	allowed := p.AllowedRoles
	if len(allowed) == 0 {
		allowed = DefaultPolicy().AllowedRoles
	}
	return slices.Contains(allowed, role)
}

// AuthSource is the view of a Reconciler a Guard needs.
type AuthSource interface {
	Subscribe() (<-chan domain.AuthState, func())
	CheckAuth(ctx context.Context) (domain.AuthState, error)
}

// GuardConfig configures redirect target and pending bound.
type GuardConfig struct {
	LoginPath string
	// Timeout bounds the pending state.
	Timeout time.Duration
}

// Guard gates one protected route.
type Guard struct {
	source    AuthSource
	policy    RoutePolicy
	loginPath string
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewGuard creates a Guard for policy over source.
func NewGuard(source AuthSource, policy RoutePolicy, cfg GuardConfig, logger *slog.Logger) *Guard {
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultReconcileTimeout
	}
	return &Guard{
		source:    source,
		policy:    policy,
		loginPath: cfg.LoginPath,
		timeout:   cfg.Timeout,
		logger:    logger,
		now:       time.Now,
	}
}

// Mount is one navigation into the guarded route.
type Mount struct {
	decisions chan Decision
	cancel    context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	current Decision
}

// Decisions yields Allowed and Denied transitions. It is closed after Denied or unmount.
func (m *Mount) Decisions() <-chan Decision {
	return m.decisions
}

// Current returns the latest decision, Pending until one is taken.
func (m *Mount) Current() Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Unmount stops the Guard. No decision is delivered afterwards.
func (m *Mount) Unmount() {
	m.cancel()
	<-m.done
}

// Mount starts the state machine for a navigation to path. It subscribes before
// triggering a reconciliation so no state change is missed.
func (g *Guard) Mount(ctx context.Context, path string) *Mount {
	ctx, cancel := context.WithCancel(ctx)
	m := &Mount{
		decisions: make(chan Decision, 2),
		cancel:    cancel,
		done:      make(chan struct{}),
		current:   Decision{State: GuardPending},
	}

	updates, unsubscribe := g.source.Subscribe()
	checked := make(chan checkResult, 1)
	go func() {
		state, err := g.source.CheckAuth(ctx)
		checked <- checkResult{state: state, err: err}
	}()
	go g.run(ctx, m, path, checked, updates, unsubscribe)
	return m
}

type checkResult struct {
	state domain.AuthState
	err   error
}

// Decide mounts, waits for the first terminal-for-now decision, and unmounts.
func (g *Guard) Decide(ctx context.Context, path string) (Decision, error) {
	m := g.Mount(ctx, path)
	defer m.Unmount()

	select {
	case d, ok := <-m.Decisions():
		if !ok {
			return m.Current(), ctx.Err()
		}
		return d, nil
	case <-ctx.Done():
		return m.Current(), ctx.Err()
	}
}

// run decides on the state the mount's own check resolved to. Updates that
// arrive earlier, or carry an older Seq, are not decided on.
func (g *Guard) run(ctx context.Context, m *Mount, path string, checked <-chan checkResult, updates <-chan domain.AuthState, unsubscribe func()) {
	defer close(m.done)
	defer close(m.decisions)
	defer unsubscribe()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()
	pending := timer.C

	var (
		resolved bool
		floor    uint64
		latest   *domain.AuthState
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-pending:
			g.emit(ctx, m, g.deny(path, domain.ErrTimeout))
			return
		case res := <-checked:
			checked = nil
			if res.err != nil {
				if errors.Is(res.err, domain.ErrClosed) {
					g.emit(ctx, m, g.deny(path, domain.ErrClosed))
					return
				}
				continue
			}
			resolved = true
			floor = res.state.Seq
			if !g.apply(ctx, m, path, res.state, &pending) {
				return
			}
			if latest != nil && latest.Seq > floor {
				if !g.apply(ctx, m, path, *latest, &pending) {
					return
				}
			}
			latest = nil
		case state, ok := <-updates:
			if !ok {
				g.emit(ctx, m, g.deny(path, domain.ErrClosed))
				return
			}
			if !resolved {
				latest = &state
				continue
			}
			if state.Seq < floor {
				continue
			}
			if !g.apply(ctx, m, path, state, &pending) {
				return
			}
		}
	}
}

// apply moves the mount for state and reports whether it should keep running.
// Once Allowed, only a transition to Denied is delivered.
func (g *Guard) apply(ctx context.Context, m *Mount, path string, state domain.AuthState, pending *<-chan time.Time) bool {
	next := g.evaluate(state, path)
	switch m.Current().State {
	case GuardPending:
		if next.State == GuardPending {
			return true
		}
		*pending = nil
	case GuardAllowed:
		if next.State != GuardDenied {
			return true
		}
	}
	return g.emit(ctx, m, next) && next.State != GuardDenied
}

// emit applies d only if the navigation is still mounted.
func (g *Guard) emit(ctx context.Context, m *Mount, d Decision) bool {
	if ctx.Err() != nil {
		return false
	}
	m.mu.Lock()
	m.current = d
	m.mu.Unlock()

	reason := "ok"
	if d.Reason != nil {
		reason = reasonLabel(d.Reason)
	}
	metrics.RecordGuardDecision(string(d.State), reason)
	if d.State == GuardDenied {
		g.logger.InfoContext(ctx, "route guard denied", "reason", d.Reason, "redirect", d.Redirect)
	}

	m.decisions <- d
	return true
}

// evaluate maps an AuthState onto the Guard states for this route.
func (g *Guard) evaluate(state domain.AuthState, path string) Decision {
	switch state.Status {
	case domain.StatusChecking:
		return Decision{State: GuardPending}
	case domain.StatusAuthenticated:
		if !state.IsAuthenticated(g.now()) {
			return g.deny(path, domain.ErrSessionExpired)
		}
		if !g.policy.Allows(state.User.Role) {
			return g.deny(path, domain.ErrForbiddenRole)
		}
		if g.policy.RequireVerified && !state.Verified {
			return Decision{State: GuardPending}
		}
		return Decision{State: GuardAllowed, User: state.User}
	default:
		reason := state.LastError
		if reason == nil {
			reason = domain.ErrNoSession
		}
		return g.deny(path, reason)
	}
}

func (g *Guard) deny(path string, reason error) Decision {
	return Decision{State: GuardDenied, Reason: reason, Redirect: LoginRedirect(g.loginPath, path)}
}

// LoginRedirect builds the login URL that returns the visitor to path.
func LoginRedirect(loginPath, path string) string {
	if path == "" {
		return loginPath
	}
	return loginPath + "?return_to=" + url.QueryEscape(path)
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrForbiddenRole):
		return "forbidden_role"
	case errors.Is(err, domain.ErrSessionExpired):
		return "expired"
	case errors.Is(err, domain.ErrNetwork):
		return "network"
	case errors.Is(err, domain.ErrClosed):
		return "closed"
	default:
		return "unauthenticated"
	}
}
