package balancer

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"convoproxy/pkg/health"
	"convoproxy/pkg/log"
	"convoproxy/pkg/metrics"
	"convoproxy/pkg/models"
)

const (
	defaultDispatchTimeout = 15 * time.Second
	defaultMaxRetries      = 2
)

// Request is one inbound call, opaque to the balancer core apart from
// the optional route key used for conversation affinity.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
	RouteKey string
}

// Result carries the upstream response back to the service boundary.
// The upstream status is preserved verbatim, including application
// errors.
type Result struct {
	EndpointID string
	Decision   models.RoutingDecision
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Dispatcher executes requests against selected endpoints with
// per-attempt timeout and failover across endpoints on transient
// failures.
type Dispatcher struct {
	selector   *Selector
	monitor    *health.Monitor
	collector  *metrics.Collector
	client     *retryablehttp.Client
	timeout    time.Duration
	maxRetries int
}

// DispatcherOptions configure a Dispatcher. Zero values fall back to
// defaults.
type DispatcherOptions struct {
	Timeout time.Duration
	// MaxRetries is the number of additional attempts against
	// different endpoints after a transient failure.
	MaxRetries int
	// InPlaceRetries is passed to the retryable client: retries
	// against the same endpoint before it counts as failed.
	InPlaceRetries int
	RetryWaitMin   time.Duration
	RetryWaitMax   time.Duration
}

// NewDispatcher creates a dispatcher over the given selector.
func NewDispatcher(selector *Selector, monitor *health.Monitor, collector *metrics.Collector, opts DispatcherOptions) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDispatchTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 100 * time.Millisecond
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = time.Second
	}

	return &Dispatcher{
		selector:   selector,
		monitor:    monitor,
		collector:  collector,
		client:     newUpstreamClient(opts.InPlaceRetries, opts.RetryWaitMin, opts.RetryWaitMax),
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
	}
}

// Dispatch executes one request. Transient failures (timeout,
// connection refused) fail over to a different endpoint up to the
// retry budget; an upstream response is returned as-is with no retry.
// Exhausting retries, or an empty eligible set, yields
// KindPoolExhausted.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	requestID := uuid.NewString()
	exclude := make(map[string]struct{})
	var lastErr *DispatchError

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		ep, decision, err := d.selector.Pick(req.RouteKey, exclude)
		if err != nil {
			// Nothing left to try; no network call is made.
			return nil, &DispatchError{Kind: KindPoolExhausted, Err: err}
		}

		result, dispErr := d.attempt(ctx, requestID, ep, req)
		if dispErr == nil {
			result.Decision = decision
			result.Attempts = attempt + 1
			return result, nil
		}

		lastErr = dispErr
		if !dispErr.Kind.Transient() {
			return nil, dispErr
		}

		exclude[ep.ID] = struct{}{}
		log.Warn().
			Str("request_id", requestID).
			Str("endpoint", ep.ID).
			Str("kind", dispErr.Kind.String()).
			Int("attempt", attempt+1).
			Msg("Dispatch attempt failed, failing over")
	}

	return nil, &DispatchError{Kind: KindPoolExhausted, Err: lastErr}
}

// attempt executes one call against one endpoint, records the outcome
// and applies passive health feedback. The in-flight counter is
// released on every path, including timeout and cancellation.
func (d *Dispatcher) attempt(ctx context.Context, requestID string, ep *models.Endpoint, req *Request) (*Result, *DispatchError) {
	ep.BeginRequest()
	defer ep.EndRequest()

	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	resp, err := d.send(attemptCtx, ep, req)
	if err != nil {
		kind := classify(err)
		d.report(requestID, ep, kind.OutcomeClass(), 0, time.Since(start))
		return nil, &DispatchError{Kind: kind, EndpointID: ep.ID, Err: err}
	}

	body, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	if closeErr := resp.Body.Close(); closeErr != nil {
		log.Warn().Err(closeErr).Str("endpoint", ep.ID).Msg("Failed to close upstream response body")
	}
	if err != nil {
		kind := classify(err)
		d.report(requestID, ep, kind.OutcomeClass(), resp.StatusCode, latency)
		return nil, &DispatchError{Kind: kind, EndpointID: ep.ID, Err: err}
	}

	class := models.OutcomeSuccess
	if resp.StatusCode >= http.StatusInternalServerError {
		class = models.OutcomeUpstreamError
	}
	d.report(requestID, ep, class, resp.StatusCode, latency)

	return &Result{
		EndpointID: ep.ID,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// send issues the upstream call, forwarding method, path, query and
// body against the endpoint's base address.
func (d *Dispatcher) send(ctx context.Context, ep *models.Endpoint, req *Request) (*http.Response, error) {
	url := ep.Address + req.Path
	if req.RawQuery != "" {
		url += "?" + req.RawQuery
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	upstream, err := retryablehttp.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, err
	}
	for name, values := range req.Header {
		for _, v := range values {
			upstream.Header.Add(name, v)
		}
	}

	return d.client.Do(upstream)
}

// report feeds one attempt outcome to metrics (fire-and-forget) and to
// the health monitor's passive path.
func (d *Dispatcher) report(requestID string, ep *models.Endpoint, class models.OutcomeClass, status int, latency time.Duration) {
	if d.collector != nil {
		d.collector.Record(models.RequestOutcome{
			RequestID:  requestID,
			EndpointID: ep.ID,
			Class:      class,
			Status:     status,
			Latency:    latency,
			At:         time.Now(),
		})
	}
	if d.monitor != nil {
		if class.Failure() {
			d.monitor.RecordFailure(ep)
		} else {
			d.monitor.RecordSuccess(ep)
		}
	}
}

// newUpstreamClient builds the retryable HTTP client used for upstream
// calls. The retry policy never replays a request once any response
// was received, so upstream error responses are forwarded instead of
// retried; only connection-level failures are retried in place.
func newUpstreamClient(retryMax int, waitMin, waitMax time.Duration) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = waitMin
	client.RetryWaitMax = waitMax
	client.Logger = nil
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if resp != nil {
			return false, nil
		}
		return err != nil, nil
	}
	return client
}
