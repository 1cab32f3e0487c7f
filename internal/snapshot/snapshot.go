package snapshot

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/connectivity-monitor/internal/metrics"
	"github.com/connectivity-monitor/internal/storage"
	"github.com/connectivity-monitor/internal/types"
)

// Manager publishes the latest connectivity snapshot for lock-free reads and
// exports it to a storage sink. A single exporter goroutine writes to the
// sink, so exports reach it in publish order.
type Manager struct {
	current  atomic.Value // stores published
	sink     storage.Sink
	metrics  *metrics.Collector
	updateMu sync.Mutex
	seq      uint64

	// holds at most the newest snapshot not yet exported
	exports chan published

	persistInterval time.Duration
	stopPersist     chan struct{}
	persistDone     chan struct{}
	closeOnce       sync.Once
}

type published struct {
	snapshot *types.Snapshot
	seq      uint64
}

func NewManager(sink storage.Sink, persistIntervalSeconds int, metricsCollector *metrics.Collector) *Manager {
	m := &Manager{
		sink:            sink,
		metrics:         metricsCollector,
		exports:         make(chan published, 1),
		persistInterval: time.Duration(persistIntervalSeconds) * time.Second,
		stopPersist:     make(chan struct{}),
		persistDone:     make(chan struct{}),
	}

	m.current.Store(published{snapshot: &types.Snapshot{
		Recent:  []types.ProbeOutcome{},
		Updated: time.Now(),
	}})

	go m.exportLoop()

	return m
}

// Update atomically swaps the current snapshot and queues it for export.
// A queued snapshot that was not exported yet is replaced.
func (m *Manager) Update(snapshot *types.Snapshot) {
	if snapshot.Updated.IsZero() {
		snapshot.Updated = time.Now()
	}

	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	m.seq++
	p := published{snapshot: snapshot, seq: m.seq}
	m.current.Store(p)
	select {
	case <-m.exports:
	default:
	}
	m.exports <- p

	log.WithFields(log.Fields{
		"online": snapshot.State.Online,
		"total":  snapshot.Stats.TotalChecks,
	}).Debug("Snapshot updated")
}

// Get returns the current snapshot (atomic read)
func (m *Manager) Get() *types.Snapshot {
	return m.current.Load().(published).snapshot
}

func (m *Manager) persist(snapshot *types.Snapshot) {
	err := m.sink.Save(snapshot)
	m.metrics.RecordExport(err)
	if err != nil {
		log.Errorf("Failed to export snapshot: %v", err)
		return
	}
	log.Debugf("Snapshot exported: %d recent probes", len(snapshot.Recent))
}

// exportLoop is the only writer to the sink until Close. It never writes a
// snapshot older than one it already exported.
func (m *Manager) exportLoop() {
	defer close(m.persistDone)

	var lastSeq uint64
	export := func(p published) {
		if p.seq < lastSeq {
			return
		}
		lastSeq = p.seq
		m.persist(p.snapshot)
	}

	var tick <-chan time.Time
	if m.persistInterval > 0 {
		ticker := time.NewTicker(m.persistInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case p := <-m.exports:
			export(p)
		case <-tick:
			export(m.current.Load().(published))
		case <-m.stopPersist:
			return
		}
	}
}

// Close stops background exports, writes the newest snapshot and closes the sink
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stopPersist)
		<-m.persistDone

		m.persist(m.Get())
		err = m.sink.Close()
	})
	return err
}
