// Package health maintains per-endpoint status through periodic active
// probing and passive feedback from dispatch outcomes. All status
// mutation funnels through the endpoint's synchronized transition
// path; probes never hold a lock while performing network I/O.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"convoproxy/pkg/log"
	"convoproxy/pkg/models"
	"convoproxy/pkg/registry"
)

const (
	defaultProbeInterval = 10 * time.Second
	defaultProbeTimeout  = 5 * time.Second
	defaultProbePath     = "/healthz"
)

// StatusListener is notified after every status change, outside any
// endpoint lock. Used to keep observability gauges current.
type StatusListener func(id string, status models.Status)

// Monitor drives the health state machine for every registered
// endpoint.
type Monitor struct {
	registry   *registry.Registry
	client     *http.Client
	interval   time.Duration
	timeout    time.Duration
	probePath  string
	thresholds Thresholds
	listener   StatusListener

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Options configure a Monitor. Zero values fall back to defaults.
type Options struct {
	Interval   time.Duration
	Timeout    time.Duration
	ProbePath  string
	Thresholds Thresholds
	Listener   StatusListener
}

// NewMonitor creates a monitor over the given registry.
func NewMonitor(reg *registry.Registry, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = defaultProbeInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultProbeTimeout
	}
	if opts.ProbePath == "" {
		opts.ProbePath = defaultProbePath
	}
	if opts.Thresholds.DegradeAfter <= 0 {
		opts.Thresholds.DegradeAfter = DefaultThresholds.DegradeAfter
	}
	if opts.Thresholds.DownAfter <= 0 {
		opts.Thresholds.DownAfter = DefaultThresholds.DownAfter
	}

	return &Monitor{
		registry:   reg,
		client:     &http.Client{Timeout: opts.Timeout},
		interval:   opts.Interval,
		timeout:    opts.Timeout,
		probePath:  opts.ProbePath,
		thresholds: opts.Thresholds,
		listener:   opts.Listener,
		stopCh:     make(chan struct{}),
	}
}

// Start performs an initial probe pass synchronously, then begins the
// background probe loop.
func (m *Monitor) Start() {
	m.probeAll()

	m.wg.Add(1)
	go m.probeLoop()

	log.Info().
		Int("endpoint_count", m.registry.Len()).
		Dur("interval", m.interval).
		Msg("Health monitor started")
}

// Stop terminates the probe loop and waits for it to finish.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	log.Info().Msg("Health monitor stopped")
}

// Thresholds returns the configured demotion thresholds.
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

// RecordSuccess applies passive success feedback from a dispatch
// outcome.
func (m *Monitor) RecordSuccess(ep *models.Endpoint) {
	m.apply(ep, true)
}

// RecordFailure applies passive failure feedback from a dispatch
// outcome. Dispatch failures count identically to probe failures.
func (m *Monitor) RecordFailure(ep *models.Endpoint) {
	m.apply(ep, false)
}

// apply runs one step of the state machine and reports transitions.
func (m *Monitor) apply(ep *models.Endpoint, success bool) {
	var prev models.Status
	status, fails := ep.Transition(func(cur models.Status, f int) (models.Status, int) {
		prev = cur
		return next(cur, f, success, m.thresholds)
	})

	if status == prev {
		return
	}

	evt := log.Info()
	if status == models.StatusDown {
		evt = log.Warn()
	}
	evt.
		Str("endpoint", ep.ID).
		Str("from", prev.String()).
		Str("to", status.String()).
		Int("consecutive_failures", fails).
		Msg("Endpoint status changed")

	if m.listener != nil {
		m.listener(ep.ID, status)
	}
}

// probeLoop runs periodic probe passes until stopped. Probing is
// independent of traffic.
func (m *Monitor) probeLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probeAll()
		}
	}
}

// probeAll probes every registered endpoint concurrently.
func (m *Monitor) probeAll() {
	var wg sync.WaitGroup
	for _, ep := range m.registry.List() {
		wg.Add(1)
		go func(ep *models.Endpoint) {
			defer wg.Done()
			m.probe(ep)
		}(ep)
	}
	wg.Wait()
}

// probe performs one liveness request and feeds the result into the
// state machine. The probe outcome is computed first and applied as an
// atomic update afterwards; probe failures never surface to inbound
// callers.
func (m *Monitor) probe(ep *models.Endpoint) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	err := m.check(ctx, ep.Address)
	if err != nil {
		log.Debug().Str("endpoint", ep.ID).Err(err).Msg("Probe failed")
	}
	m.apply(ep, err == nil)
}

// check issues the liveness request. Timeouts, connection errors and
// non-2xx responses all count as failures.
func (m *Monitor) check(ctx context.Context, address string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address+m.probePath, nil)
	if err != nil {
		return err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close probe response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}
