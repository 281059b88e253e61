// Package registry holds the set of known backend endpoints and their
// live status. It is the only place endpoint weight can be altered at
// runtime; health state is mutated through the endpoints themselves.
package registry

import (
	"sync"

	"convoproxy/pkg/log"
	"convoproxy/pkg/models"
)

// Registry is an insertion-ordered endpoint pool keyed by identifier.
// Listing returns snapshots, so concurrent mutation never corrupts an
// in-progress selection.
type Registry struct {
	mu         sync.RWMutex
	order      []string
	endpoints  map[string]*models.Endpoint
	generation uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		endpoints: make(map[string]*models.Endpoint),
	}
}

// Add registers a new endpoint. It fails with ErrDuplicateEndpoint if
// the identifier is already present.
func (r *Registry) Add(ep *models.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.endpoints[ep.ID]; exists {
		return ErrDuplicateEndpoint
	}

	r.endpoints[ep.ID] = ep
	r.order = append(r.order, ep.ID)
	r.generation++

	log.Info().
		Str("endpoint", ep.ID).
		Str("address", ep.Address).
		Int("weight", ep.Weight()).
		Msg("Endpoint registered")
	return nil
}

// Remove deletes an endpoint by identifier. Removing an absent
// identifier is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.endpoints[id]; !exists {
		return
	}

	delete(r.endpoints, id)
	for i, known := range r.order {
		if known == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.generation++

	log.Info().Str("endpoint", id).Msg("Endpoint removed")
}

// Get returns the live endpoint record for an identifier.
func (r *Registry) Get(id string) (*models.Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[id]
	return ep, ok
}

// SetWeight updates an endpoint's weight. Registry mutation is the only
// runtime path that may change weights.
func (r *Registry) SetWeight(id string, weight int) error {
	r.mu.RLock()
	ep, ok := r.endpoints[id]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownEndpoint
	}
	ep.SetWeight(weight)
	return nil
}

// List returns the endpoints in insertion order. The returned slice is
// a copy; the pointed-to endpoints are the live records.
func (r *Registry) List() []*models.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Endpoint, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.endpoints[id])
	}
	return out
}

// ListByStatus returns the endpoints currently in the given status, in
// insertion order.
func (r *Registry) ListByStatus(status models.Status) []*models.Endpoint {
	all := r.List()
	out := make([]*models.Endpoint, 0, len(all))
	for _, ep := range all {
		if ep.Status() == status {
			out = append(out, ep)
		}
	}
	return out
}

// Eligible returns the endpoints whose status permits selection
// (anything but DOWN), in insertion order.
func (r *Registry) Eligible() []*models.Endpoint {
	all := r.List()
	out := make([]*models.Endpoint, 0, len(all))
	for _, ep := range all {
		if ep.Status().Eligible() {
			out = append(out, ep)
		}
	}
	return out
}

// Views returns immutable snapshots of every endpoint in insertion
// order, for the status API.
func (r *Registry) Views() []models.EndpointView {
	all := r.List()
	out := make([]models.EndpointView, 0, len(all))
	for _, ep := range all {
		out = append(out, ep.View())
	}
	return out
}

// Generation increments on every add or remove. Strategies that keep
// positional state across calls (the round-robin cursor) reset when it
// changes.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}
