package balancer

import (
	"sync"

	"convoproxy/pkg/models"
	"convoproxy/pkg/registry"
)

// Selector applies eligibility filtering, optional route-key affinity
// and the configured strategy to produce one routing decision per
// request.
//
// Eligible means status != DOWN. When nothing is eligible and
// fallback-to-any is enabled, the whole pool becomes the candidate
// set; a DOWN endpoint is never returned otherwise.
type Selector struct {
	registry      *registry.Registry
	strategy      Strategy
	fallbackToAny bool

	mu       sync.Mutex
	lastGen  uint64
	affinity *ring
}

// NewSelector creates a selector over the registry.
func NewSelector(reg *registry.Registry, strategy Strategy, fallbackToAny bool) *Selector {
	return &Selector{
		registry:      reg,
		strategy:      strategy,
		fallbackToAny: fallbackToAny,
	}
}

// Strategy returns the active strategy.
func (s *Selector) Strategy() Strategy {
	return s.strategy
}

// Pick returns exactly one endpoint for a request, or
// ErrNoEligibleEndpoint when the candidate set is empty. Endpoints in
// the exclude set (already failed during this dispatch) are skipped.
// A non-empty routeKey pins the request to its ring owner while that
// endpoint remains a candidate.
func (s *Selector) Pick(routeKey string, exclude map[string]struct{}) (*models.Endpoint, models.RoutingDecision, error) {
	s.refresh()

	candidates := s.candidates(exclude)
	if len(candidates) == 0 {
		return nil, models.RoutingDecision{}, ErrNoEligibleEndpoint
	}

	if routeKey != "" {
		if ep := s.pinned(routeKey, candidates); ep != nil {
			return ep, models.RoutingDecision{
				EndpointID: ep.ID,
				Strategy:   "affinity",
				Trace:      "route key pinned to ring owner",
			}, nil
		}
	}

	ep, err := s.strategy.Select(candidates)
	if err != nil {
		return nil, models.RoutingDecision{}, err
	}
	return ep, models.RoutingDecision{
		EndpointID: ep.ID,
		Strategy:   s.strategy.Name(),
	}, nil
}

// candidates returns the eligible pool minus exclusions, falling back
// to the full pool when configured and nothing is eligible.
func (s *Selector) candidates(exclude map[string]struct{}) []*models.Endpoint {
	eligible := without(s.registry.Eligible(), exclude)
	if len(eligible) > 0 || !s.fallbackToAny {
		return eligible
	}
	return without(s.registry.List(), exclude)
}

// pinned resolves the ring owner for a key if it is currently a
// candidate; otherwise affinity yields to the strategy for this
// request.
func (s *Selector) pinned(routeKey string, candidates []*models.Endpoint) *models.Endpoint {
	s.mu.Lock()
	owner := s.affinity.owner(routeKey)
	s.mu.Unlock()

	for _, ep := range candidates {
		if ep.ID == owner {
			return ep
		}
	}
	return nil
}

// refresh rebuilds pool-derived state after membership changes:
// positional strategy cursors reset and the affinity ring is rebuilt.
func (s *Selector) refresh() {
	gen := s.registry.Generation()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.affinity != nil && gen == s.lastGen {
		return
	}

	ids := make([]string, 0, s.registry.Len())
	for _, ep := range s.registry.List() {
		ids = append(ids, ep.ID)
	}
	s.affinity = newRing(ids)
	s.lastGen = gen

	if r, ok := s.strategy.(resettable); ok {
		r.Reset()
	}
}

func without(endpoints []*models.Endpoint, exclude map[string]struct{}) []*models.Endpoint {
	if len(exclude) == 0 {
		return endpoints
	}
	out := make([]*models.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if _, skip := exclude[ep.ID]; !skip {
			out = append(out, ep)
		}
	}
	return out
}
