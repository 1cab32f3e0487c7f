package history

import (
	"sync"

	"github.com/connectivity-monitor/internal/types"
)

// DefaultCapacity is the number of probe records kept in the window
const DefaultCapacity = 100

// History is a fixed-size circular buffer of probe outcomes plus the
// lifetime counters that must survive eviction.
type History struct {
	mu       sync.RWMutex
	records  []types.ProbeOutcome
	start    int // index of the oldest record
	size     int
	counters types.Counters
}

// New creates a history window holding at most capacity records
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{
		records: make([]types.ProbeOutcome, capacity),
	}
}

// Append stores an outcome, evicting the oldest record when full, and
// updates the lifetime counters. It returns the updated counters.
func (h *History) Append(outcome types.ProbeOutcome) types.Counters {
	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := len(h.records)
	if h.size < capacity {
		h.records[(h.start+h.size)%capacity] = outcome
		h.size++
	} else {
		h.records[h.start] = outcome
		h.start = (h.start + 1) % capacity
	}

	h.counters.TotalChecks++
	if outcome.Online {
		h.counters.SuccessfulChecks++
		if outcome.ResponseTimeMs != nil {
			rt := *outcome.ResponseTimeMs
			if h.counters.SuccessfulChecks == 1 || rt < h.counters.MinResponseTimeMs {
				h.counters.MinResponseTimeMs = rt
			}
			if h.counters.SuccessfulChecks == 1 || rt > h.counters.MaxResponseTimeMs {
				h.counters.MaxResponseTimeMs = rt
			}
		}
	}
	return h.counters
}

// Len returns the number of records currently held
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Capacity returns the window size
func (h *History) Capacity() int {
	return len(h.records)
}

// Counters returns the lifetime counters
func (h *History) Counters() types.Counters {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.counters
}

// Records returns the window oldest first
func (h *History) Records() []types.ProbeOutcome {
	records, _ := h.View()
	return records
}

// View returns the window (oldest first) and the counters from the same instant
func (h *History) View() ([]types.ProbeOutcome, types.Counters) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]types.ProbeOutcome, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.records[(h.start+i)%len(h.records)]
	}
	return out, h.counters
}

// Recent returns up to n records, most recent first. n <= 0 returns all.
func (h *History) Recent(n int) []types.ProbeOutcome {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > h.size {
		n = h.size
	}
	out := make([]types.ProbeOutcome, n)
	for i := 0; i < n; i++ {
		idx := (h.start + h.size - 1 - i) % len(h.records)
		out[i] = h.records[idx]
	}
	return out
}
