package snapshot

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connectivity-monitor/internal/metrics"
	"github.com/connectivity-monitor/internal/types"
)

type recordingSink struct {
	mu     sync.Mutex
	saved  []*types.Snapshot
	err    error
	delay  time.Duration
	closed bool
}

func (s *recordingSink) Save(snapshot *types.Snapshot) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snapshot)
	return s.err
}

func (s *recordingSink) totals() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.saved))
	for i, snap := range s.saved {
		out[i] = snap.Stats.TotalChecks
	}
	return out
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func newCollector() *metrics.Collector {
	return metrics.NewCollector("test", prometheus.NewRegistry())
}

func TestManagerStartsEmpty(t *testing.T) {
	m := NewManager(&recordingSink{}, 0, newCollector())
	defer m.Close()

	snap := m.Get()
	require.NotNil(t, snap)
	assert.False(t, snap.State.Online)
	assert.Empty(t, snap.Recent)
}

func TestManagerUpdateExports(t *testing.T) {
	sink := &recordingSink{}
	m := NewManager(sink, 0, newCollector())

	m.Update(&types.Snapshot{State: types.ConnectivityState{Online: true}})
	assert.True(t, m.Get().State.Online)
	assert.False(t, m.Get().Updated.IsZero())

	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close())
	assert.Equal(t, 2, sink.count(), "close writes a final snapshot")
	assert.True(t, sink.closed)

	// second close is a no-op
	require.NoError(t, m.Close())
	assert.Equal(t, 2, sink.count())
}

func TestManagerPeriodicExport(t *testing.T) {
	sink := &recordingSink{}
	m := NewManager(sink, 1, newCollector())
	defer m.Close()

	assert.Eventually(t, func() bool { return sink.count() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestManagerExportFailureKeepsSnapshot(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	m := NewManager(sink, 0, newCollector())
	defer m.Close()

	m.Update(&types.Snapshot{Stats: types.Stats{TotalChecks: 3}})
	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(3), m.Get().Stats.TotalChecks)
}

func TestManagerExportsInPublishOrder(t *testing.T) {
	for round := 0; round < 20; round++ {
		sink := &recordingSink{delay: time.Millisecond}
		m := NewManager(sink, 0, newCollector())

		for i := int64(1); i <= 20; i++ {
			m.Update(&types.Snapshot{Stats: types.Stats{TotalChecks: i}})
		}

		require.Eventually(t, func() bool {
			totals := sink.totals()
			return len(totals) > 0 && totals[len(totals)-1] == 20
		}, 2*time.Second, 2*time.Millisecond, "round %d", round)

		totals := sink.totals()
		for i := 1; i < len(totals); i++ {
			require.LessOrEqual(t, totals[i-1], totals[i], "round %d exported %v", round, totals)
		}

		require.NoError(t, m.Close())
		totals = sink.totals()
		assert.Equal(t, int64(20), totals[len(totals)-1])
	}
}

func TestManagerPeriodicExportNeverRegresses(t *testing.T) {
	sink := &recordingSink{}
	m := NewManager(sink, 1, newCollector())

	m.Update(&types.Snapshot{Stats: types.Stats{TotalChecks: 1}})
	m.Update(&types.Snapshot{Stats: types.Stats{TotalChecks: 2}})

	// wait for at least one tick after the updates
	assert.Eventually(t, func() bool { return len(sink.totals()) >= 2 }, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, m.Close())

	totals := sink.totals()
	for i := 1; i < len(totals); i++ {
		assert.LessOrEqual(t, totals[i-1], totals[i], "exported %v", totals)
	}
	assert.Equal(t, int64(2), totals[len(totals)-1])
}
