package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	// Probe metrics
	probesTotal      *prometheus.CounterVec
	probesJoined     prometheus.Counter
	endpointAttempts *prometheus.CounterVec
	responseTime     prometheus.Histogram
	probeDuration    prometheus.Histogram

	// Connectivity state
	online         prometheus.Gauge
	uptimePercent  prometheus.Gauge
	historyRecords prometheus.Gauge
	interfaceDown  prometheus.Counter

	// Export metrics
	exportsTotal *prometheus.CounterVec

	// API metrics
	apiRequests      *prometheus.CounterVec
	apiDuration      *prometheus.HistogramVec
	websocketClients prometheus.Gauge
}

// NewCollector registers all metrics on reg (prometheus.DefaultRegisterer in production)
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		probesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Total number of completed connectivity probes",
			},
			[]string{"result"},
		),
		probesJoined: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_joined_total",
				Help:      "Probe requests that joined an already running probe",
			},
		),
		endpointAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "endpoint_attempts_total",
				Help:      "Requests issued to individual connectivity endpoints",
			},
			[]string{"endpoint", "result"},
		),
		responseTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_time_seconds",
				Help:      "Response time of the endpoint that answered a successful probe",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		probeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Wall time of a whole probe including failed endpoints",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		online: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "online",
				Help:      "1 when the host currently has internet access",
			},
		),
		uptimePercent: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "uptime_percent",
				Help:      "Share of successful probes since start",
			},
		),
		historyRecords: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "history_records",
				Help:      "Probe records held in the history window",
			},
		),
		interfaceDown: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interface_down_total",
				Help:      "Times the host reported no usable network interface",
			},
		),
		exportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exports_total",
				Help:      "Snapshot exports to the configured sink",
			},
			[]string{"status"},
		),
		apiRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		apiDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		websocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_clients",
				Help:      "Connected websocket subscribers",
			},
		),
	}

	return c
}

func (c *Collector) RecordProbe(online bool, durationSeconds float64) {
	if online {
		c.probesTotal.WithLabelValues("online").Inc()
	} else {
		c.probesTotal.WithLabelValues("offline").Inc()
	}
	c.probeDuration.Observe(durationSeconds)
}

func (c *Collector) RecordProbeJoined() {
	c.probesJoined.Inc()
}

func (c *Collector) RecordEndpointAttempt(endpoint string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.endpointAttempts.WithLabelValues(endpoint, result).Inc()
}

func (c *Collector) RecordResponseTime(seconds float64) {
	c.responseTime.Observe(seconds)
}

func (c *Collector) SetOnline(online bool) {
	if online {
		c.online.Set(1)
	} else {
		c.online.Set(0)
	}
}

func (c *Collector) SetUptimePercent(percent int64) {
	c.uptimePercent.Set(float64(percent))
}

func (c *Collector) SetHistoryRecords(count int) {
	c.historyRecords.Set(float64(count))
}

func (c *Collector) RecordInterfaceDown() {
	c.interfaceDown.Inc()
}

func (c *Collector) RecordExport(err error) {
	if err != nil {
		c.exportsTotal.WithLabelValues("error").Inc()
		return
	}
	c.exportsTotal.WithLabelValues("ok").Inc()
}

func (c *Collector) RecordAPIRequest(method, endpoint, status string) {
	c.apiRequests.WithLabelValues(method, endpoint, status).Inc()
}

func (c *Collector) RecordAPIDuration(method, endpoint string, seconds float64) {
	c.apiDuration.WithLabelValues(method, endpoint).Observe(seconds)
}

func (c *Collector) WebsocketConnected() {
	c.websocketClients.Inc()
}

func (c *Collector) WebsocketDisconnected() {
	c.websocketClients.Dec()
}
