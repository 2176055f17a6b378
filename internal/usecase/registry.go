package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"villa-auth/internal/domain"
	"villa-auth/internal/infrastructure/metrics"
)

// DefaultRegistrySize bounds the number of live visitors.
const DefaultRegistrySize = 10000

// Registry keeps one Reconciler per visitor. Least-recently-used visitors are
// evicted and their Reconcilers closed; a returning visitor starts in checking
// and is restored from the Session Cache.
// Implements domain.EventSink.
type Registry struct {
	provider domain.IdentityProvider
	store    domain.SessionStore
	cfg      ReconcilerConfig
	logger   *slog.Logger

	mu          sync.Mutex
	reconcilers *lru.Cache[string, *Reconciler]
}

// NewRegistry creates a Registry holding up to size Reconcilers.
func NewRegistry(size int, provider domain.IdentityProvider, store domain.SessionStore, cfg ReconcilerConfig, logger *slog.Logger) (*Registry, error) {
	if size <= 0 {
		size = DefaultRegistrySize
	}
	g := &Registry{provider: provider, store: store, cfg: cfg, logger: logger}

	reconcilers, err := lru.NewWithEvict(size, func(visitorID string, r *Reconciler) {
		metrics.ActiveReconcilers.Dec()
		// Close waits for the event loop, which may be mid-request.
		go func() { _ = r.Close() }()
	})
	if err != nil {
		return nil, fmt.Errorf("create reconciler registry: %w", err)
	}
	g.reconcilers = reconcilers
	return g, nil
}

// Get returns the visitor's Reconciler, creating it on first use.
func (g *Registry) Get(visitorID string) *Reconciler {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.reconcilers.Get(visitorID); ok {
		return r
	}
	logger := g.logger.With("visitor.id", visitorID)
	r := NewReconciler(g.provider, NewSessionCache(g.store, visitorID, logger), g.cfg, logger)
	g.reconcilers.Add(visitorID, r)
	metrics.ActiveReconcilers.Inc()
	return r
}

// Len returns the number of live Reconcilers.
func (g *Registry) Len() int {
	return g.reconcilers.Len()
}

// Dispatch hands event to every Reconciler whose session or user it concerns
// and returns how many were notified.
func (g *Registry) Dispatch(ctx context.Context, event domain.AuthEvent) int {
	if event.SessionID == "" && event.IdentityID == "" {
		return 0
	}

	notified := 0
	for _, r := range g.reconcilers.Values() {
		if r.Matches(event) {
			r.Notify(event)
			notified++
		}
	}
	if notified == 0 {
		metrics.RecordEvent("unmatched", string(event.Kind))
	}
	g.logger.DebugContext(ctx, "dispatched identity event",
		"kind", event.Kind, "session.id", event.SessionID, "identity.id", event.IdentityID, "notified", notified)
	return notified
}

// Close closes every Reconciler.
func (g *Registry) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range g.reconcilers.Values() {
		_ = r.Close()
	}
	g.reconcilers.Purge()
}
