package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/connectivity-monitor/internal/types"
)

// Prober runs one connectivity probe
type Prober interface {
	Probe(ctx context.Context) (types.ProbeOutcome, error)
}

// Scheduler drives periodic probes: one immediately on Start, then one per
// interval. Overlapping ticks are absorbed by the prober.
type Scheduler struct {
	prober   Prober
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(prober Prober, interval time.Duration) *Scheduler {
	return &Scheduler{
		prober:   prober,
		interval: interval,
	}
}

// Start launches the probe loop. It returns an error if the loop is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("scheduler interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(loopCtx, s.done)
	log.WithField("interval", s.interval.String()).Info("Probe scheduler started")
	return nil
}

// Stop cancels the loop and waits for it to exit. Safe to call when not running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info("Probe scheduler stopped")
}

// Running reports whether the loop is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	outcome, err := s.prober.Probe(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warnf("Scheduled probe failed: %v", err)
		}
		return
	}
	log.WithFields(log.Fields{
		"online":      outcome.Online,
		"duration_ms": outcome.DurationMs,
	}).Debug("Scheduled probe finished")
}
