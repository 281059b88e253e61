// Package balancer contains the routing decision core: selection
// strategies over the eligible endpoint set and the dispatcher that
// executes requests with timeout and failover.
//
// Three strategies are implemented:
//   - RoundRobin:       equal-capacity endpoints, even rotation
//   - WeightedRandom:   heterogeneous endpoints, probability by weight
//   - LeastConnections: endpoints with uneven request cost
package balancer

import (
	"math/rand"
	"sort"
	"sync"

	"convoproxy/pkg/models"
)

// Strategy names accepted in configuration.
const (
	StrategyRoundRobin       = "round_robin"
	StrategyWeightedRandom   = "weighted_random"
	StrategyLeastConnections = "least_connections"
)

// Strategy selects one endpoint from the eligible candidate set.
// Candidates arrive in registry insertion order. Implementations must
// be goroutine-safe; Select is called on every request.
type Strategy interface {
	Select(candidates []*models.Endpoint) (*models.Endpoint, error)
	Name() string
}

// resettable is implemented by strategies that keep positional state
// across calls; the selector resets them when the pool changes.
type resettable interface {
	Reset()
}

// NewStrategy resolves a configured strategy name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case StrategyRoundRobin, "":
		return &RoundRobin{}, nil
	case StrategyWeightedRandom:
		return &WeightedRandom{}, nil
	case StrategyLeastConnections:
		return &LeastConnections{}, nil
	default:
		return nil, ErrNoStrategy
	}
}

// RoundRobin cycles through the candidates in insertion order. The
// cursor persists across calls and wraps modulo the candidate count;
// it resets to the start whenever the pool membership changes.
type RoundRobin struct {
	mu     sync.Mutex
	cursor uint64
}

// Select returns the next endpoint in rotation.
func (r *RoundRobin) Select(candidates []*models.Endpoint) (*models.Endpoint, error) {
	if len(candidates) == 0 {
		return nil, ErrNoEligibleEndpoint
	}
	r.mu.Lock()
	idx := r.cursor % uint64(len(candidates))
	r.cursor++
	r.mu.Unlock()
	return candidates[idx], nil
}

// Reset rewinds the cursor after a pool change.
func (r *RoundRobin) Reset() {
	r.mu.Lock()
	r.cursor = 0
	r.mu.Unlock()
}

func (r *RoundRobin) Name() string {
	return StrategyRoundRobin
}

// WeightedRandom selects with probability proportional to weight.
// Weight zero excludes an endpoint even when it is healthy.
type WeightedRandom struct{}

// Select draws one endpoint from the weighted distribution.
func (w *WeightedRandom) Select(candidates []*models.Endpoint) (*models.Endpoint, error) {
	if len(candidates) == 0 {
		return nil, ErrNoEligibleEndpoint
	}

	weights := make([]int, len(candidates))
	total := 0
	for i, ep := range candidates {
		weights[i] = ep.Weight()
		total += weights[i]
	}
	if total == 0 {
		return nil, ErrNoEligibleEndpoint
	}

	draw := rand.Intn(total)
	for i, ep := range candidates {
		draw -= weights[i]
		if draw < 0 {
			return ep, nil
		}
	}
	// Unreachable while weights sum to total.
	return candidates[len(candidates)-1], nil
}

func (w *WeightedRandom) Name() string {
	return StrategyWeightedRandom
}

// LeastConnections picks the candidate with the smallest in-flight
// count. Ties are broken by rotating round-robin over the tied set,
// with the tied set ordered by endpoint identifier so behavior stays
// reproducible.
type LeastConnections struct {
	mu     sync.Mutex
	cursor uint64
}

// Select returns the least-loaded endpoint.
func (l *LeastConnections) Select(candidates []*models.Endpoint) (*models.Endpoint, error) {
	if len(candidates) == 0 {
		return nil, ErrNoEligibleEndpoint
	}

	min := candidates[0].InFlight()
	for _, ep := range candidates[1:] {
		if n := ep.InFlight(); n < min {
			min = n
		}
	}

	ties := make([]*models.Endpoint, 0, len(candidates))
	for _, ep := range candidates {
		if ep.InFlight() == min {
			ties = append(ties, ep)
		}
	}
	sort.Slice(ties, func(i, j int) bool { return ties[i].ID < ties[j].ID })

	if len(ties) == 1 {
		return ties[0], nil
	}
	l.mu.Lock()
	idx := l.cursor % uint64(len(ties))
	l.cursor++
	l.mu.Unlock()
	return ties[idx], nil
}

// Reset rewinds the tie-break cursor after a pool change.
func (l *LeastConnections) Reset() {
	l.mu.Lock()
	l.cursor = 0
	l.mu.Unlock()
}

func (l *LeastConnections) Name() string {
	return StrategyLeastConnections
}
