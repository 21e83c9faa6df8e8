// ABOUTME: Process-wide catalog of registered capability providers.
// ABOUTME: Synchronized registration, deregistration, health updates, and snapshot reads.

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nlweb/nlweb-gateway/internal/store"
)

// ErrDuplicateProvider indicates a provider with the same ID is already registered.
var ErrDuplicateProvider = errors.New("provider already registered")

// ErrProviderNotFound indicates the specified provider was not found.
var ErrProviderNotFound = errors.New("provider not found")

// ErrInvalidHealthState indicates an unrecognized health state value.
var ErrInvalidHealthState = errors.New("invalid health state")

// HealthState describes the advisory health of a provider. It informs
// selection but never blocks registration.
type HealthState string

const (
	HealthUnknown     HealthState = "UNKNOWN"
	HealthHealthy     HealthState = "HEALTHY"
	HealthDegraded    HealthState = "DEGRADED"
	HealthUnreachable HealthState = "UNREACHABLE"
)

// ParseHealthState validates a health state string.
func ParseHealthState(s string) (HealthState, error) {
	switch HealthState(s) {
	case HealthUnknown, HealthHealthy, HealthDegraded, HealthUnreachable:
		return HealthState(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidHealthState, s)
}

// Provider is one registered capability provider. Instances handed out by
// the registry are copies; the registry owns the canonical state.
type Provider struct {
	ID           string
	Name         string
	Capabilities []string
	Endpoint     string
	Health       HealthState
	LastSeen     time.Time
}

// clone returns a deep copy so callers never share the registry's slices.
func (p *Provider) clone() Provider {
	cp := *p
	cp.Capabilities = append([]string(nil), p.Capabilities...)
	return cp
}

// HasCapability reports whether the provider declares the given tag.
func (p *Provider) HasCapability(tag string) bool {
	for _, c := range p.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Filter narrows List results. The zero value matches every provider.
type Filter struct {
	Capability string
}

// Registry is the process-wide provider catalog. All mutations are
// serialized; reads return point-in-time copies so in-flight Ask/Who calls
// never observe a mutation mid-flight.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
	catalog   store.Store // optional write-through persistence
	logger    *slog.Logger
}

// New creates an empty Registry. The catalog store may be nil, in which
// case the registry is purely in-memory.
func New(catalog store.Store, logger *slog.Logger) *Registry {
	return &Registry{
		providers: make(map[string]*Provider),
		catalog:   catalog,
		logger:    logger,
	}
}

// Load populates the registry from the persisted catalog. Health starts at
// UNKNOWN for every restored provider.
func (r *Registry) Load(ctx context.Context) error {
	if r.catalog == nil {
		return nil
	}

	recs, err := r.catalog.ListProviders(ctx)
	if err != nil {
		return fmt.Errorf("loading provider catalog: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		r.providers[rec.ID] = &Provider{
			ID:           rec.ID,
			Name:         rec.Name,
			Capabilities: append([]string(nil), rec.Capabilities...),
			Endpoint:     rec.Endpoint,
			Health:       HealthUnknown,
			LastSeen:     rec.UpdatedAt,
		}
	}
	r.logger.Info("provider catalog loaded", "providers", len(r.providers))
	return nil
}

// Register adds a provider to the catalog.
// Returns ErrDuplicateProvider if a provider with the same ID exists; the
// existing provider is left unmodified.
func (r *Registry) Register(ctx context.Context, p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[p.ID]; exists {
		return ErrDuplicateProvider
	}

	if p.Health == "" {
		p.Health = HealthUnknown
	}
	now := time.Now()
	p.LastSeen = now

	if r.catalog != nil {
		rec := &store.ProviderRecord{
			ID:           p.ID,
			Name:         p.Name,
			Capabilities: append([]string(nil), p.Capabilities...),
			Endpoint:     p.Endpoint,
			RegisteredAt: now,
			UpdatedAt:    now,
		}
		if err := r.catalog.SaveProvider(ctx, rec); err != nil {
			if errors.Is(err, store.ErrDuplicateProvider) {
				return ErrDuplicateProvider
			}
			return fmt.Errorf("persisting provider: %w", err)
		}
	}

	stored := p.clone()
	r.providers[p.ID] = &stored
	r.logger.Info("provider registered",
		"provider_id", p.ID,
		"name", p.Name,
		"capabilities", p.Capabilities,
		"total_providers", len(r.providers),
	)
	return nil
}

// Deregister removes a provider from the catalog.
// Returns ErrProviderNotFound if the id is absent; a repeated call after a
// successful one therefore reports not-found without side effects.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.providers[id]
	if !exists {
		return ErrProviderNotFound
	}

	if r.catalog != nil {
		if err := r.catalog.DeleteProvider(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("removing persisted provider: %w", err)
		}
	}

	delete(r.providers, id)
	r.logger.Info("provider deregistered",
		"provider_id", id,
		"name", p.Name,
		"total_providers", len(r.providers),
	)
	return nil
}

// UpdateHealth sets the advisory health state for a provider.
// Returns ErrProviderNotFound if the id is absent.
func (r *Registry) UpdateHealth(ctx context.Context, id string, state HealthState) error {
	if _, err := ParseHealthState(string(state)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.providers[id]
	if !exists {
		return ErrProviderNotFound
	}

	prev := p.Health
	p.Health = state
	p.LastSeen = time.Now()
	if prev != state {
		r.logger.Info("provider health updated",
			"provider_id", id,
			"from", prev,
			"to", state,
		)
	}
	return nil
}

// Get returns a copy of the provider with the given id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return Provider{}, false
	}
	return p.clone(), true
}

// List returns a point-in-time snapshot of providers matching the filter.
// The returned slice and its elements are copies; mutating them never
// touches registry state.
func (r *Registry) List(filter Filter) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if filter.Capability != "" && !p.HasCapability(filter.Capability) {
			continue
		}
		snapshot = append(snapshot, p.clone())
	}
	return snapshot
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Teardown deregisters every provider from the in-memory catalog at
// shutdown. Persisted records are kept for the next start.
func (r *Registry) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.providers)
	r.providers = make(map[string]*Provider)
	r.logger.Info("registry torn down", "providers_removed", n)
}
