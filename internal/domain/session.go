package domain

import "time"

// AuthStatus is the lifecycle position of an AuthState.
type AuthStatus string

const (
	StatusChecking        AuthStatus = "checking"
	StatusAuthenticated   AuthStatus = "authenticated"
	StatusUnauthenticated AuthStatus = "unauthenticated"
)

// Identity is the user record resolved from the identity provider.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// Session is a time-bounded proof of authentication issued by the identity provider.
type Session struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identityId"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// ValidAt reports whether the session window covers t.
func (s *Session) ValidAt(t time.Time) bool {
	return s != nil && t.Before(s.ExpiresAt)
}

// AuthState is the single authoritative view of a visitor's authentication.
// Status authenticated implies User and Session are set and the session has not expired.
type AuthState struct {
	User      *Identity
	Session   *Session
	Status    AuthStatus
	LastError error
	// Verified is false for the optimistic state served from the session cache.
	Verified bool
	// Seq is the logical sequence number of the write that produced this state.
	Seq uint64
}

// Checking returns the transient state used while a reconciliation is running.
func Checking() AuthState {
	return AuthState{Status: StatusChecking}
}

// Unauthenticated returns a terminal unauthenticated state carrying cause, if any.
func Unauthenticated(cause error) AuthState {
	return AuthState{Status: StatusUnauthenticated, LastError: cause}
}

// Authenticated returns an authenticated state, or an unauthenticated one when the
// pair does not satisfy the invariant at now.
func Authenticated(user *Identity, session *Session, verified bool, now time.Time) AuthState {
	if user == nil || !session.ValidAt(now) {
		return Unauthenticated(ErrSessionExpired)
	}
	return AuthState{User: user, Session: session, Status: StatusAuthenticated, Verified: verified}
}

// IsAuthenticated re-evaluates the invariant at now.
func (s AuthState) IsAuthenticated(now time.Time) bool {
	return s.Status == StatusAuthenticated && s.User != nil && s.Session.ValidAt(now)
}

// SessionCacheEntry is the per-origin record kept by the session cache.
// It is a latency optimization; it never grants access to sensitive operations on its own.
type SessionCacheEntry struct {
	LoggedIn       bool      `json:"logged_in"`
	CachedIdentity *Identity `json:"identity,omitempty"`
	CachedSession  *Session  `json:"session,omitempty"`
	LastCheckedAt  time.Time `json:"last_checked_at"`
}

// Empty reports whether the entry carries no login belief.
func (e SessionCacheEntry) Empty() bool {
	return !e.LoggedIn && e.CachedIdentity == nil && e.LastCheckedAt.IsZero()
}

// FreshAt reports whether the entry was checked within window of now.
func (e SessionCacheEntry) FreshAt(now time.Time, window time.Duration) bool {
	if e.LastCheckedAt.IsZero() || e.LastCheckedAt.After(now) {
		return false
	}
	return now.Sub(e.LastCheckedAt) <= window
}

// Credentials are the password sign-in inputs.
type Credentials struct {
	Email    string
	Password string
}

// SignIn is the outcome of a successful password sign-in.
type SignIn struct {
	Token   string
	Session *Session
	User    *Identity
}
