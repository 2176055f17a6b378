package domain

import "context"

// IdentityProvider is the remote identity service.
type IdentityProvider interface {
	// GetSession returns the session bound to token, or ErrNoSession.
	GetSession(ctx context.Context, token string) (*Session, error)
	// GetUser returns the user record tied to session, or ErrNoUser.
	GetUser(ctx context.Context, token string, session *Session) (*Identity, error)
	SignInWithPassword(ctx context.Context, creds Credentials) (*SignIn, error)
	SignOut(ctx context.Context, token string) error
}

// ProviderStatus reports whether the identity provider answers.
type ProviderStatus interface {
	Ping(ctx context.Context) error
}

// SessionStore persists SessionCacheEntry values per origin.
type SessionStore interface {
	Read(ctx context.Context, origin string) (SessionCacheEntry, error)
	Write(ctx context.Context, origin string, entry SessionCacheEntry) error
	Clear(ctx context.Context, origin string) error
}

// EventSink receives identity events from an event source.
type EventSink interface {
	Dispatch(ctx context.Context, event AuthEvent) int
}

// TokenIssuer generates signed backend tokens for verified identities.
type TokenIssuer interface {
	IssueBackendToken(identity *Identity, sessionID string) (string, error)
}

// CSRFTokenGenerator derives CSRF tokens from visitor identifiers.
type CSRFTokenGenerator interface {
	Generate(visitorID string) (string, error)
	Verify(visitorID, token string) error
}
