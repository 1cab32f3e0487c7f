// Package stats derives connectivity statistics from the history window and
// lifetime counters. Nothing here is cached; every value is recomputed on read.
package stats

import (
	"math"

	"github.com/connectivity-monitor/internal/types"
)

// Compute builds the full statistics view
func Compute(records []types.ProbeOutcome, counters types.Counters) types.Stats {
	uptime := UptimePercent(counters.TotalChecks, counters.SuccessfulChecks)
	return types.Stats{
		TotalChecks:           counters.TotalChecks,
		SuccessfulChecks:      counters.SuccessfulChecks,
		UptimePercent:         uptime,
		SuccessRate:           uptime,
		AverageResponseTimeMs: AverageResponseTime(records),
		MinResponseTimeMs:     counters.MinResponseTimeMs,
		MaxResponseTimeMs:     counters.MaxResponseTimeMs,
		HistorySize:           len(records),
	}
}

// UptimePercent is round(100 * successful / total), 0 when nothing was checked.
// The success rate is the same metric.
func UptimePercent(total, successful int64) int64 {
	if total <= 0 {
		return 0
	}
	return int64(math.Round(100 * float64(successful) / float64(total)))
}

// AverageResponseTime is the rounded mean response time of the successful
// records in the window, 0 when there are none.
func AverageResponseTime(records []types.ProbeOutcome) int64 {
	var sum, n int64
	for _, r := range records {
		if !r.Online || r.ResponseTimeMs == nil {
			continue
		}
		sum += *r.ResponseTimeMs
		n++
	}
	if n == 0 {
		return 0
	}
	return int64(math.Round(float64(sum) / float64(n)))
}
