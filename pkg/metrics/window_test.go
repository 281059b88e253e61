package metrics

import (
	"strings"
	"testing"
	"time"

	"convoproxy/pkg/models"
	"convoproxy/pkg/registry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
)

// CollectorTestSuite tests the sliding-window collector
type CollectorTestSuite struct {
	suite.Suite
	collector *Collector
	clock     time.Time
}

// SetupTest runs before each test
func (s *CollectorTestSuite) SetupTest() {
	s.collector = NewCollector(60*time.Second, nil)
	s.clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.collector.now = func() time.Time { return s.clock }
}

func (s *CollectorTestSuite) outcome(id string, class models.OutcomeClass, latency time.Duration) models.RequestOutcome {
	return models.RequestOutcome{
		EndpointID: id,
		Class:      class,
		Latency:    latency,
		At:         s.clock,
	}
}

// TestCountsSuccessAndFailure tests basic aggregation
func (s *CollectorTestSuite) TestCountsSuccessAndFailure() {
	s.collector.apply(s.outcome("cw-1", models.OutcomeSuccess, 10*time.Millisecond))
	s.collector.apply(s.outcome("cw-1", models.OutcomeSuccess, 20*time.Millisecond))
	s.collector.apply(s.outcome("cw-1", models.OutcomeTimeout, 500*time.Millisecond))
	s.collector.apply(s.outcome("cw-2", models.OutcomeUpstreamError, 5*time.Millisecond))

	snap := s.collector.Snapshot()
	s.Equal(int64(2), snap["cw-1"].Success)
	s.Equal(int64(1), snap["cw-1"].Failure)
	s.Equal(int64(1), snap["cw-2"].Failure)
}

// TestWindowExpiry tests that old samples fall out of the window
func (s *CollectorTestSuite) TestWindowExpiry() {
	s.collector.apply(s.outcome("cw-1", models.OutcomeSuccess, 10*time.Millisecond))

	s.clock = s.clock.Add(30 * time.Second)
	s.collector.apply(s.outcome("cw-1", models.OutcomeSuccess, 10*time.Millisecond))

	snap := s.collector.Snapshot()
	s.Equal(int64(2), snap["cw-1"].Success)

	// Advance past the window for the first sample only
	s.clock = s.clock.Add(45 * time.Second)
	snap = s.collector.Snapshot()
	s.Equal(int64(1), snap["cw-1"].Success)

	// And past the window entirely
	s.clock = s.clock.Add(60 * time.Second)
	snap = s.collector.Snapshot()
	s.NotContains(snap, "cw-1")
}

// TestLatencyPercentiles tests the percentile computation
func (s *CollectorTestSuite) TestLatencyPercentiles() {
	for i := 1; i <= 100; i++ {
		s.collector.apply(s.outcome("cw-1", models.OutcomeSuccess, time.Duration(i)*time.Millisecond))
	}

	snap := s.collector.Snapshot()
	s.InDelta(50, snap["cw-1"].P50Millis, 1)
	s.InDelta(95, snap["cw-1"].P95Millis, 1)
	s.InDelta(99, snap["cw-1"].P99Millis, 1)
}

// TestForget tests dropping a departed endpoint
func (s *CollectorTestSuite) TestForget() {
	s.collector.apply(s.outcome("cw-1", models.OutcomeSuccess, time.Millisecond))
	s.collector.Forget("cw-1")
	s.NotContains(s.collector.Snapshot(), "cw-1")
}

// TestRecordIsNonBlocking tests the fire-and-forget contract
func (s *CollectorTestSuite) TestRecordIsNonBlocking() {
	// The consumer is not running, so the buffer fills; Record must
	// still return promptly for every call.
	done := make(chan struct{})
	go func() {
		for i := 0; i < recordBuffer*2; i++ {
			s.collector.Record(s.outcome("cw-1", models.OutcomeSuccess, time.Millisecond))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.Fail("Record blocked on a full buffer")
	}
}

// TestStartStopConsumesRecords tests the background consumer
func (s *CollectorTestSuite) TestStartStopConsumesRecords() {
	collector := NewCollector(60*time.Second, nil)
	collector.Start()

	for i := 0; i < 10; i++ {
		collector.Record(models.RequestOutcome{
			EndpointID: "cw-1",
			Class:      models.OutcomeSuccess,
			Latency:    time.Millisecond,
			At:         time.Now(),
		})
	}
	collector.Stop()

	snap := collector.Snapshot()
	s.Equal(int64(10), snap["cw-1"].Success)
}

// TestCollectorTestSuite runs the test suite
func TestCollectorTestSuite(t *testing.T) {
	suite.Run(t, new(CollectorTestSuite))
}

// PrometheusTestSuite tests the Prometheus exposition
type PrometheusTestSuite struct {
	suite.Suite
	promReg *prometheus.Registry
}

// SetupTest runs before each test
func (s *PrometheusTestSuite) SetupTest() {
	s.promReg = prometheus.NewRegistry()
}

// TestEventsObserve tests the outcome counter series
func (s *PrometheusTestSuite) TestEventsObserve() {
	events := NewEvents(s.promReg)

	events.Observe(models.RequestOutcome{EndpointID: "cw-1", Class: models.OutcomeSuccess, Latency: 10 * time.Millisecond})
	events.Observe(models.RequestOutcome{EndpointID: "cw-1", Class: models.OutcomeTimeout, Latency: time.Second})

	expected := `
		# HELP convoproxy_requests_total Dispatch attempts by endpoint and outcome class.
		# TYPE convoproxy_requests_total counter
		convoproxy_requests_total{endpoint="cw-1",result="success"} 1
		convoproxy_requests_total{endpoint="cw-1",result="timeout"} 1
	`
	s.NoError(testutil.CollectAndCompare(events.requestsTotal, strings.NewReader(expected)))
}

// TestPoolCollector tests pool gauges read from the registry
func (s *PrometheusTestSuite) TestPoolCollector() {
	pool := registry.New()
	ep := models.NewEndpoint("cw-1", "http://cw-1:3000", 3)
	s.Require().NoError(pool.Add(ep))
	ep.Transition(func(models.Status, int) (models.Status, int) {
		return models.StatusDegraded, 0
	})
	ep.BeginRequest()

	collector := NewPoolCollector(s.promReg, pool)

	s.InDelta(1, testutil.ToFloat64(forGauge(collector, "convoproxy_endpoint_status")), 0.01)

	expected := `
		# HELP convoproxy_endpoint_weight Configured endpoint weight.
		# TYPE convoproxy_endpoint_weight gauge
		convoproxy_endpoint_weight{endpoint="cw-1"} 3
	`
	s.NoError(testutil.CollectAndCompare(collector, strings.NewReader(expected), "convoproxy_endpoint_weight"))

	ep.EndRequest()
}

// forGauge narrows a multi-series collector to one metric name for
// testutil.ToFloat64.
func forGauge(c prometheus.Collector, name string) prometheus.Collector {
	return collectorFilter{inner: c, name: name}
}

type collectorFilter struct {
	inner prometheus.Collector
	name  string
}

func (f collectorFilter) Describe(ch chan<- *prometheus.Desc) {
	f.inner.Describe(ch)
}

func (f collectorFilter) Collect(ch chan<- prometheus.Metric) {
	inner := make(chan prometheus.Metric, 16)
	go func() {
		f.inner.Collect(inner)
		close(inner)
	}()
	for m := range inner {
		if strings.Contains(m.Desc().String(), f.name) {
			ch <- m
		}
	}
}

// TestPrometheusTestSuite runs the test suite
func TestPrometheusTestSuite(t *testing.T) {
	suite.Run(t, new(PrometheusTestSuite))
}
