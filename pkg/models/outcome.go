package models

import "time"

// OutcomeClass classifies the result of one dispatch attempt.
type OutcomeClass string

const (
	OutcomeSuccess           OutcomeClass = "success"
	OutcomeTimeout           OutcomeClass = "timeout"
	OutcomeConnectionRefused OutcomeClass = "connection_refused"
	OutcomeUpstreamError     OutcomeClass = "upstream_error"
)

// Failure reports whether the class counts against the endpoint's
// health. Probe and dispatch failures count identically.
func (c OutcomeClass) Failure() bool {
	return c != OutcomeSuccess
}

// RequestOutcome is the result of one dispatch attempt. It feeds the
// metrics window and the health monitor's passive path; it is never
// persisted beyond the aggregation window.
type RequestOutcome struct {
	RequestID  string
	EndpointID string
	Class      OutcomeClass
	Status     int // upstream HTTP status, 0 if none received
	Latency    time.Duration
	At         time.Time
}

// RoutingDecision records which endpoint was chosen for one request
// and why, for observability. Created per request and discarded once
// the request completes.
type RoutingDecision struct {
	EndpointID string `json:"endpoint_id"`
	Strategy   string `json:"strategy"`
	Trace      string `json:"trace,omitempty"`
}
