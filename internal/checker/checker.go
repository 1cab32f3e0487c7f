package checker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/connectivity-monitor/internal/config"
	"github.com/connectivity-monitor/internal/endpoints"
	"github.com/connectivity-monitor/internal/history"
	"github.com/connectivity-monitor/internal/metrics"
	"github.com/connectivity-monitor/internal/state"
	"github.com/connectivity-monitor/internal/stats"
	"github.com/connectivity-monitor/internal/types"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// AllEndpointsFailed is the error reported when no endpoint answered
const AllEndpointsFailed = "All connectivity endpoints failed"

const (
	probeKey     = "probe"
	maxBodyBytes = 64 << 10
)

// ErrClosed is returned when the checker was closed while a probe was running
var ErrClosed = errors.New("checker closed")

// Checker probes the endpoint lists and records outcomes. At most one probe
// runs at a time; concurrent callers share the running probe's outcome.
type Checker struct {
	config    config.CheckerConfig
	registry  *endpoints.Registry
	fallback  endpoints.FallbackPolicy
	tracker   *state.Tracker
	history   *history.History
	metrics   *metrics.Collector
	transport *http.Transport
	client    *http.Client

	group    singleflight.Group
	inFlight atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewChecker(cfg config.CheckerConfig, registry *endpoints.Registry, fallback endpoints.FallbackPolicy,
	tracker *state.Tracker, hist *history.History, metricsCollector *metrics.Collector) (*Checker, error) {

	if fallback == nil {
		fallback = endpoints.Never()
	}

	// Every probe dials fresh so a stale pooled connection cannot hide an outage
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		DisableKeepAlives:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if err := configureProxy(transport, cfg.ProxyURL); err != nil {
		return nil, err
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // captive portals answer with redirects
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Checker{
		config:    cfg,
		registry:  registry,
		fallback:  fallback,
		tracker:   tracker,
		history:   hist,
		metrics:   metricsCollector,
		transport: transport,
		client:    client,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Probe runs one connectivity probe, or joins the one already in flight and
// returns its outcome. The network round is not tied to ctx; ctx only bounds
// how long this caller waits.
func (c *Checker) Probe(ctx context.Context) (types.ProbeOutcome, error) {
	// only the caller that started the round runs fn; the result send
	// orders the write before the read below
	leader := false
	ch := c.group.DoChan(probeKey, func() (interface{}, error) {
		leader = true
		return c.probe()
	})

	select {
	case res := <-ch:
		if res.Shared && !leader {
			c.metrics.RecordProbeJoined()
			log.Debug("Joined the check already in flight")
		}
		if res.Err != nil {
			return types.ProbeOutcome{}, res.Err
		}
		return res.Val.(types.ProbeOutcome), nil
	case <-ctx.Done():
		return types.ProbeOutcome{}, ctx.Err()
	}
}

// IsChecking reports whether a probe is in flight
func (c *Checker) IsChecking() bool {
	return c.inFlight.Load()
}

// Close aborts any running probe and releases idle connections
func (c *Checker) Close() {
	c.cancel()
	c.transport.CloseIdleConnections()
}

func (c *Checker) probe() (types.ProbeOutcome, error) {
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)

	c.tracker.BeginCheck()
	start := time.Now()

	hit, ok := c.tryList(c.registry.Primary())
	usedFallback := false
	if !ok && c.fallback() {
		if fallbackList := c.registry.Fallback(); len(fallbackList) > 0 {
			log.Info("Primary endpoints failed, trying fallback endpoints")
			hit, ok = c.tryList(fallbackList)
			usedFallback = ok
		}
	}

	if c.ctx.Err() != nil {
		c.tracker.CancelCheck()
		return types.ProbeOutcome{}, ErrClosed
	}

	elapsed := time.Since(start)
	outcome := types.ProbeOutcome{
		Online:       ok,
		Timestamp:    time.Now(),
		DurationMs:   elapsed.Milliseconds(),
		UsedFallback: usedFallback,
	}
	if ok {
		rt := hit.latency.Milliseconds()
		name := hit.endpoint
		outcome.ResponseTimeMs = &rt
		outcome.EndpointName = &name
		c.metrics.RecordResponseTime(hit.latency.Seconds())
	} else {
		msg := AllEndpointsFailed
		outcome.Error = &msg
	}

	c.record(outcome, elapsed)
	return outcome, nil
}

func (c *Checker) record(outcome types.ProbeOutcome, elapsed time.Duration) {
	// history first so subscribers woken by the state change see the new record
	counters := c.history.Append(outcome)
	c.tracker.Complete(outcome)

	c.metrics.RecordProbe(outcome.Online, elapsed.Seconds())
	c.metrics.SetOnline(outcome.Online)
	c.metrics.SetUptimePercent(stats.UptimePercent(counters.TotalChecks, counters.SuccessfulChecks))
	c.metrics.SetHistoryRecords(c.history.Len())

	fields := log.Fields{
		"online":      outcome.Online,
		"duration_ms": outcome.DurationMs,
		"total":       counters.TotalChecks,
		"successful":  counters.SuccessfulChecks,
	}
	if outcome.Online {
		fields["endpoint"] = *outcome.EndpointName
		fields["response_ms"] = *outcome.ResponseTimeMs
		log.WithFields(fields).Debug("Probe complete")
	} else {
		log.WithFields(fields).Warn(AllEndpointsFailed)
	}
}

type endpointHit struct {
	endpoint string
	latency  time.Duration
}

// tryList attempts each endpoint strictly in order and stops at the first success
func (c *Checker) tryList(list []types.Endpoint) (endpointHit, bool) {
	for _, ep := range list {
		if c.ctx.Err() != nil {
			return endpointHit{}, false
		}

		latency, err := c.checkEndpoint(ep)
		c.metrics.RecordEndpointAttempt(ep.Name, err == nil)
		if err != nil {
			log.WithFields(log.Fields{
				"endpoint": ep.Name,
				"url":      ep.URL,
			}).Debugf("Endpoint check failed: %v", err)
			continue
		}
		return endpointHit{endpoint: ep.Name, latency: latency}, true
	}
	return endpointHit{}, false
}

// checkEndpoint issues one GET bounded by the endpoint's timeout and returns
// the time until response headers arrived.
func (c *Checker) checkEndpoint(ep types.Endpoint) (time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(c.ctx, ep.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ep.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("timed out after %v", ep.Timeout())
		}
		return 0, fmt.Errorf("request: %w", err)
	}
	latency := time.Since(start)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if !ep.Accepts(resp.StatusCode) {
		return 0, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return latency, nil
}
