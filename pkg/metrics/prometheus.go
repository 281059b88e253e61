package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"convoproxy/pkg/models"
	"convoproxy/pkg/registry"
)

// Events exposes dispatch outcomes as Prometheus series.
type Events struct {
	requestsTotal *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewEvents registers the outcome series with the given registerer.
func NewEvents(reg prometheus.Registerer) *Events {
	e := &Events{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoproxy",
			Name:      "requests_total",
			Help:      "Dispatch attempts by endpoint and outcome class.",
		}, []string{"endpoint", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "convoproxy",
			Name:      "request_duration_seconds",
			Help:      "Dispatch attempt latency by endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
	reg.MustRegister(e.requestsTotal, e.duration)
	return e
}

// Observe folds one outcome into the Prometheus series.
func (e *Events) Observe(outcome models.RequestOutcome) {
	e.requestsTotal.WithLabelValues(outcome.EndpointID, string(outcome.Class)).Inc()
	e.duration.WithLabelValues(outcome.EndpointID).Observe(outcome.Latency.Seconds())
}

// PoolCollector exposes live pool state (status, weight, in-flight) as
// gauges, reading the registry on every scrape.
type PoolCollector struct {
	registry *registry.Registry

	statusDesc   *prometheus.Desc
	inFlightDesc *prometheus.Desc
	weightDesc   *prometheus.Desc
}

// NewPoolCollector creates and registers the pool collector.
func NewPoolCollector(reg prometheus.Registerer, pool *registry.Registry) *PoolCollector {
	c := &PoolCollector{
		registry: pool,
		statusDesc: prometheus.NewDesc(
			"convoproxy_endpoint_status",
			"Endpoint health status (0 down, 1 degraded, 2 healthy).",
			[]string{"endpoint"}, nil,
		),
		inFlightDesc: prometheus.NewDesc(
			"convoproxy_endpoint_in_flight",
			"Requests currently dispatched to the endpoint.",
			[]string{"endpoint"}, nil,
		),
		weightDesc: prometheus.NewDesc(
			"convoproxy_endpoint_weight",
			"Configured endpoint weight.",
			[]string{"endpoint"}, nil,
		),
	}
	reg.MustRegister(c)
	return c
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.statusDesc
	ch <- c.inFlightDesc
	ch <- c.weightDesc
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, view := range c.registry.Views() {
		ch <- prometheus.MustNewConstMetric(
			c.statusDesc, prometheus.GaugeValue, statusValue(view.Status), view.ID)
		ch <- prometheus.MustNewConstMetric(
			c.inFlightDesc, prometheus.GaugeValue, float64(view.InFlight), view.ID)
		ch <- prometheus.MustNewConstMetric(
			c.weightDesc, prometheus.GaugeValue, float64(view.Weight), view.ID)
	}
}

func statusValue(status string) float64 {
	switch status {
	case models.StatusHealthy.String():
		return 2
	case models.StatusDegraded.String():
		return 1
	default:
		return 0
	}
}
