// Package monitor wires the connectivity components into one service object.
// Consumers read state, statistics and history through it, and every probe,
// scheduled or manual, goes through Probe.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/connectivity-monitor/internal/checker"
	"github.com/connectivity-monitor/internal/config"
	"github.com/connectivity-monitor/internal/endpoints"
	"github.com/connectivity-monitor/internal/history"
	"github.com/connectivity-monitor/internal/metrics"
	"github.com/connectivity-monitor/internal/netwatch"
	"github.com/connectivity-monitor/internal/scheduler"
	"github.com/connectivity-monitor/internal/snapshot"
	"github.com/connectivity-monitor/internal/state"
	"github.com/connectivity-monitor/internal/stats"
	"github.com/connectivity-monitor/internal/storage"
	"github.com/connectivity-monitor/internal/types"
)

type Service struct {
	config    *config.Config
	registry  *endpoints.Registry
	tracker   *state.Tracker // written by the checker and interfaceDown only
	view      state.Reader
	history   *history.History
	checker   *checker.Checker
	scheduler *scheduler.Scheduler
	watcher   *netwatch.Watcher
	snapshots *snapshot.Manager
	metrics   *metrics.Collector

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

func New(cfg *config.Config, registry *endpoints.Registry, sink storage.Sink, metricsCollector *metrics.Collector) (*Service, error) {
	policy, err := endpoints.PolicyFromMode(cfg.Checker.Fallback, cfg.API.Addr, cfg.API.TLSEnabled())
	if err != nil {
		return nil, err
	}

	s := &Service{
		config:    cfg,
		registry:  registry,
		history:   history.New(cfg.History.MaxRecords),
		snapshots: snapshot.NewManager(sink, cfg.Storage.PersistIntervalSeconds, metricsCollector),
		metrics:   metricsCollector,
	}
	s.tracker = state.NewTracker()
	s.view = s.tracker

	s.checker, err = checker.NewChecker(cfg.Checker, registry, policy, s.tracker, s.history, metricsCollector)
	if err != nil {
		s.snapshots.Close()
		return nil, fmt.Errorf("create checker: %w", err)
	}

	s.scheduler = scheduler.New(s, time.Duration(cfg.Scheduler.IntervalSeconds)*time.Second)

	if cfg.Netwatch.Enabled {
		s.watcher = netwatch.New(time.Duration(cfg.Netwatch.IntervalSeconds)*time.Second, netwatch.Handlers{
			OnDown: s.interfaceDown,
			OnUp:   s.interfaceUp,
		})
	}

	return s, nil
}

// Start launches the snapshot publisher, the scheduler and the interface watcher
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("monitor already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	_, updates, unsubscribe := s.view.Subscribe()
	s.wg.Add(1)
	go s.publish(updates, unsubscribe)

	if err := s.scheduler.Start(s.ctx); err != nil {
		s.cancel()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if s.watcher != nil {
		s.watcher.Start()
	}

	s.started = true
	log.WithFields(log.Fields{
		"interval_seconds": s.config.Scheduler.IntervalSeconds,
		"fallback":         s.config.Checker.Fallback,
		"primary":          len(s.registry.Primary()),
	}).Info("Connectivity monitor started")
	return nil
}

// Stop halts every background task, aborts an in-flight probe and flushes
// the final snapshot to the sink
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		s.checker.Close()
		return s.snapshots.Close()
	}
	s.started = false
	s.mu.Unlock()

	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.cancel()
	s.checker.Close()
	s.scheduler.Stop()
	s.wg.Wait()

	s.snapshots.Update(s.buildSnapshot())
	log.Info("Connectivity monitor stopped")
	return s.snapshots.Close()
}

// Probe runs a probe or joins the one in flight
func (s *Service) Probe(ctx context.Context) (types.ProbeOutcome, error) {
	return s.checker.Probe(ctx)
}

// ManualCheck is a user-triggered probe; it shares the scheduler's guard
func (s *Service) ManualCheck(ctx context.Context) (types.ProbeOutcome, error) {
	log.Info("Manual connectivity check requested")
	return s.Probe(ctx)
}

func (s *Service) Status() types.ConnectivityState {
	return s.view.Current()
}

func (s *Service) Stats() types.Stats {
	records, counters := s.history.View()
	return stats.Compute(records, counters)
}

// RecentHistory returns up to n records, newest first; n <= 0 returns all
func (s *Service) RecentHistory(n int) []types.ProbeOutcome {
	return s.history.Recent(n)
}

func (s *Service) HistoryCapacity() int {
	return s.history.Capacity()
}

func (s *Service) Endpoints() (primary, fallback []types.Endpoint) {
	return s.registry.Primary(), s.registry.Fallback()
}

// Subscribe registers for connectivity state changes
func (s *Service) Subscribe() (string, <-chan types.ConnectivityState, func()) {
	return s.view.Subscribe()
}

// Snapshot returns the last published snapshot
func (s *Service) Snapshot() *types.Snapshot {
	return s.snapshots.Get()
}

func (s *Service) buildSnapshot() *types.Snapshot {
	records, counters := s.history.View()
	recent := make([]types.ProbeOutcome, len(records))
	for i := range records {
		recent[i] = records[len(records)-1-i]
	}
	return &types.Snapshot{
		State:   s.view.Current(),
		Stats:   stats.Compute(records, counters),
		Recent:  recent,
		Updated: time.Now(),
	}
}

func (s *Service) publish(updates <-chan types.ConnectivityState, unsubscribe func()) {
	defer s.wg.Done()
	defer unsubscribe()

	for {
		select {
		case <-s.ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			s.snapshots.Update(s.buildSnapshot())
		}
	}
}

func (s *Service) interfaceDown(reason string) {
	s.tracker.MarkInterfaceDown(reason)
	s.metrics.RecordInterfaceDown()
	s.metrics.SetOnline(false)
}

func (s *Service) interfaceUp() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Probe(ctx); err != nil && ctx.Err() == nil {
			log.Warnf("Probe after interface recovery failed: %v", err)
		}
	}()
}
