// Package state holds the single connectivity state record.
//
// The mutators (BeginCheck, Complete, CancelCheck, MarkInterfaceDown) are
// exported for the checker and for the monitor's interface-down handler, which
// live in other packages. Nothing else may call them: readers take a Reader,
// which exposes only Current and Subscribe.
package state

import (
	"sync"

	"github.com/google/uuid"

	"github.com/connectivity-monitor/internal/types"
)

// Reader is the read-only view of a Tracker
type Reader interface {
	Current() types.ConnectivityState
	Subscribe() (string, <-chan types.ConnectivityState, func())
}

var _ Reader = (*Tracker)(nil)

// Tracker owns the connectivity state. Only the checker and the interface
// watcher mutate it; everyone else reads or subscribes.
type Tracker struct {
	mu          sync.RWMutex
	state       types.ConnectivityState
	subscribers map[string]chan types.ConnectivityState
}

// NewTracker creates a tracker in the initial offline, never-checked state
func NewTracker() *Tracker {
	return &Tracker{
		subscribers: make(map[string]chan types.ConnectivityState),
	}
}

// Current returns a copy of the current state
func (t *Tracker) Current() types.ConnectivityState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// BeginCheck marks a probe as in flight and clears the last error
func (t *Tracker) BeginCheck() {
	t.update(func(s *types.ConnectivityState) {
		s.Checking = true
		s.LastError = nil
	})
}

// Complete applies a finished probe outcome and clears the in-flight flag.
// CurrentEndpoint keeps the last endpoint that answered when the probe failed.
func (t *Tracker) Complete(outcome types.ProbeOutcome) {
	t.update(func(s *types.ConnectivityState) {
		s.Online = outcome.Online
		s.LastCheckedAt = outcome.Timestamp
		s.LastResponseTimeMs = outcome.ResponseTimeMs
		s.LastError = outcome.Error
		if outcome.Online {
			s.CurrentEndpoint = outcome.EndpointName
		}
		s.Checking = false
		s.Source = types.SourceProbe
	})
}

// CancelCheck clears the in-flight flag of a probe that was abandoned
// without an outcome
func (t *Tracker) CancelCheck() {
	t.update(func(s *types.ConnectivityState) {
		s.Checking = false
	})
}

// MarkInterfaceDown forces the offline state after the host reported that no
// network interface is up. It does not count as a probe.
func (t *Tracker) MarkInterfaceDown(reason string) {
	t.update(func(s *types.ConnectivityState) {
		s.Online = false
		s.LastResponseTimeMs = nil
		s.LastError = &reason
		s.Source = types.SourceInterface
	})
}

// Subscribe registers for state changes. The channel holds at most the
// latest undelivered state; slow readers skip intermediate states.
func (t *Tracker) Subscribe() (string, <-chan types.ConnectivityState, func()) {
	id := uuid.New().String()
	ch := make(chan types.ConnectivityState, 1)

	t.mu.Lock()
	t.subscribers[id] = ch
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if sub, ok := t.subscribers[id]; ok {
				delete(t.subscribers, id)
				close(sub)
			}
		})
	}
	return id, ch, cancel
}

// SubscriberCount returns the number of active subscriptions
func (t *Tracker) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscribers)
}

func (t *Tracker) update(mutate func(*types.ConnectivityState)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	mutate(&t.state)
	current := t.state
	for _, ch := range t.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- current:
		default:
		}
	}
}
