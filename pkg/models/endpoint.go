package models

import (
	"sync"
	"sync/atomic"
	"time"
)

// Status is the health state of an endpoint.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusDown
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusDown:
		return "down"
	default:
		return "unknown"
	}
}

// Eligible reports whether an endpoint in this status may be selected.
func (s Status) Eligible() bool {
	return s != StatusDown
}

// Endpoint is one backend instance of the conversation platform.
// It is the single source of truth for its own health state: all
// mutation goes through the methods below, guarded by a per-endpoint
// lock so unrelated endpoints never contend with each other.
type Endpoint struct {
	ID      string
	Address string

	inFlight atomic.Int64

	mu          sync.Mutex
	weight      int
	status      Status
	consecFails int
	lastChecked time.Time
}

// NewEndpoint creates an endpoint in HEALTHY state. Weights below zero
// are clamped to zero.
func NewEndpoint(id, address string, weight int) *Endpoint {
	if weight < 0 {
		weight = 0
	}
	return &Endpoint{
		ID:      id,
		Address: address,
		weight:  weight,
		status:  StatusHealthy,
	}
}

// Status returns the current health status.
func (e *Endpoint) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Weight returns the endpoint's relative capacity.
func (e *Endpoint) Weight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.weight
}

// SetWeight updates the endpoint's weight. Only the registry calls this.
func (e *Endpoint) SetWeight(w int) {
	if w < 0 {
		w = 0
	}
	e.mu.Lock()
	e.weight = w
	e.mu.Unlock()
}

// ConsecFails returns the consecutive failure count.
func (e *Endpoint) ConsecFails() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecFails
}

// InFlight returns the number of requests currently dispatched to this
// endpoint and not yet completed.
func (e *Endpoint) InFlight() int64 {
	return e.inFlight.Load()
}

// BeginRequest increments the in-flight counter.
func (e *Endpoint) BeginRequest() {
	e.inFlight.Add(1)
}

// EndRequest decrements the in-flight counter. Callers pair it with
// BeginRequest via defer so timeouts and cancellations still release.
func (e *Endpoint) EndRequest() {
	e.inFlight.Add(-1)
}

// Transition is a single synchronized health update. The transition
// function receives the current status and consecutive-failure count
// and returns the new ones; it runs under the endpoint lock and must
// not perform I/O. The returned values are the applied state.
func (e *Endpoint) Transition(fn func(cur Status, fails int) (Status, int)) (Status, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status, e.consecFails = fn(e.status, e.consecFails)
	e.lastChecked = time.Now()
	return e.status, e.consecFails
}

// View returns an immutable copy of the endpoint's observable state.
func (e *Endpoint) View() EndpointView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EndpointView{
		ID:          e.ID,
		Address:     e.Address,
		Weight:      e.weight,
		Status:      e.status.String(),
		ConsecFails: e.consecFails,
		LastChecked: e.lastChecked,
		InFlight:    e.inFlight.Load(),
	}
}

// EndpointView is a point-in-time snapshot of one endpoint, safe to
// hand out across API boundaries.
type EndpointView struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	Weight      int       `json:"weight"`
	Status      string    `json:"status"`
	ConsecFails int       `json:"consecutive_failures"`
	LastChecked time.Time `json:"last_checked"`
	InFlight    int64     `json:"in_flight"`
}
