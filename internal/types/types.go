package types

import "time"

// Endpoint is a fixed connectivity check target
type Endpoint struct {
	Name                string `json:"name"`
	URL                 string `json:"url"`
	AcceptedStatusCodes []int  `json:"accepted_status_codes,omitempty"` // empty: any response counts
	TimeoutMs           int    `json:"timeout_ms"`
}

// Timeout returns the per-attempt deadline
func (e Endpoint) Timeout() time.Duration {
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

// Accepts reports whether a response with the given status code proves reachability
func (e Endpoint) Accepts(statusCode int) bool {
	if len(e.AcceptedStatusCodes) == 0 {
		return true
	}
	for _, code := range e.AcceptedStatusCodes {
		if code == statusCode {
			return true
		}
	}
	return false
}

// ProbeOutcome is the result of one probe across the endpoint lists
type ProbeOutcome struct {
	Online         bool      `json:"online"`
	Timestamp      time.Time `json:"timestamp"`
	ResponseTimeMs *int64    `json:"response_time_ms"` // nil when offline
	EndpointName   *string   `json:"endpoint_name"`    // nil when offline
	Error          *string   `json:"error"`
	DurationMs     int64     `json:"duration_ms"`
	UsedFallback   bool      `json:"used_fallback,omitempty"`
}

// State sources
const (
	SourceProbe     = "probe"
	SourceInterface = "interface"
)

// ConnectivityState is the process-wide view of connectivity
type ConnectivityState struct {
	Online             bool      `json:"online"`
	LastCheckedAt      time.Time `json:"last_checked_at"`
	LastResponseTimeMs *int64    `json:"response_time_ms"`
	CurrentEndpoint    *string   `json:"current_endpoint"`
	LastError          *string   `json:"error"`
	Checking           bool      `json:"checking"`
	Source             string    `json:"source,omitempty"`
}

// Counters are the monotonic lifetime totals kept alongside the history window
type Counters struct {
	TotalChecks       int64 `json:"total_checks"`
	SuccessfulChecks  int64 `json:"successful_checks"`
	MinResponseTimeMs int64 `json:"min_response_time_ms"`
	MaxResponseTimeMs int64 `json:"max_response_time_ms"`
}

// Stats holds derived connectivity statistics
type Stats struct {
	TotalChecks           int64 `json:"total_checks"`
	SuccessfulChecks      int64 `json:"successful_checks"`
	UptimePercent         int64 `json:"uptime_percent"`
	SuccessRate           int64 `json:"success_rate"`
	AverageResponseTimeMs int64 `json:"average_response_time_ms"`
	MinResponseTimeMs     int64 `json:"min_response_time_ms"`
	MaxResponseTimeMs     int64 `json:"max_response_time_ms"`
	HistorySize           int   `json:"history_size"`
}

// Snapshot is a point-in-time view published to consumers and export sinks
type Snapshot struct {
	State   ConnectivityState `json:"state"`
	Stats   Stats             `json:"stats"`
	Recent  []ProbeOutcome    `json:"recent"`
	Updated time.Time         `json:"updated"`
}
