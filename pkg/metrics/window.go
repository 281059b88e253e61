// Package metrics aggregates per-endpoint dispatch outcomes over a
// sliding window and exposes them to the status API and Prometheus.
// Recording is fire-and-forget: the request path never blocks on
// aggregation.
package metrics

import (
	"sort"
	"sync"
	"time"

	"convoproxy/pkg/log"
	"convoproxy/pkg/models"
)

const (
	defaultWindow = 60 * time.Second
	recordBuffer  = 1024
)

// EndpointStats is a read-only snapshot of one endpoint's window.
type EndpointStats struct {
	Success   int64   `json:"success"`
	Failure   int64   `json:"failure"`
	P50Millis float64 `json:"p50_ms"`
	P95Millis float64 `json:"p95_ms"`
	P99Millis float64 `json:"p99_ms"`
}

type sample struct {
	at      time.Time
	failure bool
	latency time.Duration
}

type series struct {
	samples []sample
}

// Collector keeps a sliding window of request outcomes per endpoint.
type Collector struct {
	window time.Duration
	events *Events

	ch     chan models.RequestOutcome
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.RWMutex
	byTarget map[string]*series

	now func() time.Time
}

// NewCollector creates a collector. A nil events sink disables
// Prometheus exposition (used in tests).
func NewCollector(window time.Duration, events *Events) *Collector {
	if window <= 0 {
		window = defaultWindow
	}
	return &Collector{
		window:   window,
		events:   events,
		ch:       make(chan models.RequestOutcome, recordBuffer),
		stopCh:   make(chan struct{}),
		byTarget: make(map[string]*series),
		now:      time.Now,
	}
}

// Start begins consuming recorded outcomes.
func (c *Collector) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop drains pending outcomes and terminates the consumer.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// Record submits one outcome. It never blocks: if the buffer is full
// the outcome is dropped and counted only in the log.
func (c *Collector) Record(outcome models.RequestOutcome) {
	select {
	case c.ch <- outcome:
	default:
		log.Debug().Str("endpoint", outcome.EndpointID).Msg("Metrics buffer full, outcome dropped")
	}
}

func (c *Collector) run() {
	defer c.wg.Done()
	for {
		select {
		case outcome := <-c.ch:
			c.apply(outcome)
		case <-c.stopCh:
			for {
				select {
				case outcome := <-c.ch:
					c.apply(outcome)
				default:
					return
				}
			}
		}
	}
}

// apply folds one outcome into the window and the Prometheus series.
func (c *Collector) apply(outcome models.RequestOutcome) {
	at := outcome.At
	if at.IsZero() {
		at = c.now()
	}

	c.mu.Lock()
	ser, ok := c.byTarget[outcome.EndpointID]
	if !ok {
		ser = &series{}
		c.byTarget[outcome.EndpointID] = ser
	}
	ser.samples = append(ser.samples, sample{
		at:      at,
		failure: outcome.Class.Failure(),
		latency: outcome.Latency,
	})
	ser.prune(c.now().Add(-c.window))
	c.mu.Unlock()

	if c.events != nil {
		c.events.Observe(outcome)
	}
}

// prune drops samples older than the cutoff.
func (s *series) prune(cutoff time.Time) {
	firstLive := 0
	for firstLive < len(s.samples) && s.samples[firstLive].at.Before(cutoff) {
		firstLive++
	}
	if firstLive > 0 {
		s.samples = append(s.samples[:0], s.samples[firstLive:]...)
	}
}

// Snapshot returns per-endpoint window stats. The result is a copy and
// safe to hand out.
func (c *Collector) Snapshot() map[string]EndpointStats {
	cutoff := c.now().Add(-c.window)

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]EndpointStats, len(c.byTarget))
	for id, ser := range c.byTarget {
		ser.prune(cutoff)
		if len(ser.samples) == 0 {
			continue
		}

		var stats EndpointStats
		latencies := make([]float64, 0, len(ser.samples))
		for _, smp := range ser.samples {
			if smp.failure {
				stats.Failure++
			} else {
				stats.Success++
			}
			latencies = append(latencies, float64(smp.latency)/float64(time.Millisecond))
		}
		sort.Float64s(latencies)
		stats.P50Millis = percentile(latencies, 0.50)
		stats.P95Millis = percentile(latencies, 0.95)
		stats.P99Millis = percentile(latencies, 0.99)
		out[id] = stats
	}
	return out
}

// Forget drops an endpoint's window, used when it leaves the registry.
func (c *Collector) Forget(id string) {
	c.mu.Lock()
	delete(c.byTarget, id)
	c.mu.Unlock()
}

// percentile reads the p-th percentile from sorted values using the
// nearest-rank method.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
