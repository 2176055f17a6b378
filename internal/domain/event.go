package domain

import "time"

// AuthEventKind names an identity-provider session notification.
type AuthEventKind string

const (
	EventInitialSession   AuthEventKind = "INITIAL_SESSION"
	EventSignedIn         AuthEventKind = "SIGNED_IN"
	EventSignedOut        AuthEventKind = "SIGNED_OUT"
	EventTokenRefreshed   AuthEventKind = "TOKEN_REFRESHED"
	EventUserUpdated      AuthEventKind = "USER_UPDATED"
	EventPasswordRecovery AuthEventKind = "PASSWORD_RECOVERY"
)

// AuthEvent is a session-change notification from the identity provider.
type AuthEvent struct {
	Kind       AuthEventKind `json:"kind"`
	IdentityID string        `json:"identity_id,omitempty"`
	SessionID  string        `json:"session_id,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Reconciles reports whether the kind is on the allow-list that triggers reconciliation.
// INITIAL_SESSION is excluded: reacting to it re-fetches the session, which emits it again.
func (k AuthEventKind) Reconciles() bool {
	switch k {
	case EventSignedIn, EventSignedOut, EventTokenRefreshed, EventUserUpdated:
		return true
	default:
		return false
	}
}
