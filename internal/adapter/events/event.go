// Package events receives identity-provider session notifications and hands
// them to the reconciler registry.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"villa-auth/internal/domain"
	"villa-auth/internal/infrastructure/metrics"
)

// Publisher delivers an identity event to every replica's reconcilers.
type Publisher interface {
	Publish(ctx context.Context, event domain.AuthEvent) error
}

// Decode parses and validates a JSON identity event.
func Decode(data []byte) (domain.AuthEvent, error) {
	var event domain.AuthEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.AuthEvent{}, fmt.Errorf("%w: %w", domain.ErrInvalidEvent, err)
	}
	if err := Validate(event); err != nil {
		return domain.AuthEvent{}, err
	}
	return event, nil
}

// Validate checks that event names a known kind and a target.
func Validate(event domain.AuthEvent) error {
	switch event.Kind {
	case domain.EventInitialSession, domain.EventSignedIn, domain.EventSignedOut,
		domain.EventTokenRefreshed, domain.EventUserUpdated, domain.EventPasswordRecovery:
	default:
		return fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidEvent, event.Kind)
	}
	if event.SessionID == "" && event.IdentityID == "" {
		return fmt.Errorf("%w: no session or identity id", domain.ErrInvalidEvent)
	}
	return nil
}

// LocalPublisher dispatches straight to this replica's sink.
type LocalPublisher struct {
	sink domain.EventSink
}

// NewLocalPublisher creates a publisher for single-replica deployments.
func NewLocalPublisher(sink domain.EventSink) *LocalPublisher {
	return &LocalPublisher{sink: sink}
}

// Publish dispatches event locally.
func (p *LocalPublisher) Publish(ctx context.Context, event domain.AuthEvent) error {
	metrics.RecordEvent("local", string(event.Kind))
	p.sink.Dispatch(ctx, event)
	return nil
}
