package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connectivity-monitor/internal/config"
	"github.com/connectivity-monitor/internal/endpoints"
	"github.com/connectivity-monitor/internal/metrics"
	"github.com/connectivity-monitor/internal/netwatch"
	"github.com/connectivity-monitor/internal/storage"
	"github.com/connectivity-monitor/internal/types"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Scheduler.IntervalSeconds = 3600
	cfg.Checker.Fallback = "never"
	cfg.Netwatch.Enabled = false
	cfg.Storage.PersistIntervalSeconds = 0
	return cfg
}

func newService(t *testing.T, cfg *config.Config, sink storage.Sink, urls ...string) *Service {
	t.Helper()

	primary := make([]types.Endpoint, 0, len(urls))
	for i, u := range urls {
		primary = append(primary, types.Endpoint{
			Name:                "Endpoint " + string(rune('A'+i)),
			URL:                 u,
			AcceptedStatusCodes: []int{204},
			TimeoutMs:           1000,
		})
	}
	registry, err := endpoints.New(primary, nil)
	require.NoError(t, err)

	if sink == nil {
		sink = storage.NopSink{}
	}
	svc, err := New(cfg, registry, sink, metrics.NewCollector("test", prometheus.NewRegistry()))
	require.NoError(t, err)
	return svc
}

func serve(t *testing.T, status *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestServiceInitialState(t *testing.T) {
	svc := newService(t, testConfig(), nil, "http://127.0.0.1:1/generate_204")
	defer svc.Stop()

	st := svc.Status()
	assert.False(t, st.Online)
	assert.False(t, st.Checking)
	assert.True(t, st.LastCheckedAt.IsZero())

	stats := svc.Stats()
	assert.Equal(t, int64(0), stats.TotalChecks)
	assert.Equal(t, int64(0), stats.UptimePercent)
	assert.Empty(t, svc.RecentHistory(0))
}

func TestServiceStartProbesImmediately(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	srv := serve(t, &status)

	svc := newService(t, testConfig(), nil, srv.URL)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return svc.Stats().TotalChecks == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, svc.Status().Online)
	assert.Equal(t, int64(100), svc.Stats().UptimePercent)

	assert.Eventually(t, func() bool {
		return svc.Snapshot().Stats.TotalChecks == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Error(t, svc.Start(context.Background()))
}

func TestServiceManualChecksAccumulate(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	srv := serve(t, &status)

	svc := newService(t, testConfig(), nil, srv.URL)
	defer svc.Stop()

	ctx := context.Background()
	_, err := svc.ManualCheck(ctx)
	require.NoError(t, err)

	status.Store(http.StatusServiceUnavailable)
	outcome, err := svc.ManualCheck(ctx)
	require.NoError(t, err)
	assert.False(t, outcome.Online)

	status.Store(http.StatusNoContent)
	_, err = svc.ManualCheck(ctx)
	require.NoError(t, err)

	stats := svc.Stats()
	assert.Equal(t, int64(3), stats.TotalChecks)
	assert.Equal(t, int64(2), stats.SuccessfulChecks)
	assert.Equal(t, int64(67), stats.UptimePercent)
	assert.Equal(t, stats.UptimePercent, stats.SuccessRate)

	recent := svc.RecentHistory(2)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].Online)
	assert.False(t, recent[1].Online)

	// the failed probe kept the last endpoint that answered
	require.NotNil(t, svc.Status().CurrentEndpoint)
	assert.Equal(t, "Endpoint A", *svc.Status().CurrentEndpoint)
}

func TestServiceInterfaceDown(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	srv := serve(t, &status)

	svc := newService(t, testConfig(), nil, srv.URL)
	defer svc.Stop()

	_, err := svc.Probe(context.Background())
	require.NoError(t, err)
	require.True(t, svc.Status().Online)

	svc.interfaceDown(netwatch.NoInterfaceReason)

	st := svc.Status()
	assert.False(t, st.Online)
	assert.Equal(t, types.SourceInterface, st.Source)
	assert.Equal(t, netwatch.NoInterfaceReason, *st.LastError)
	assert.Equal(t, int64(1), svc.Stats().TotalChecks, "interface events are not probes")
}

func TestServiceInterfaceUpTriggersProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	srv := serve(t, &status)

	svc := newService(t, testConfig(), nil, srv.URL)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	require.Eventually(t, func() bool { return svc.Stats().TotalChecks == 1 }, 2*time.Second, 10*time.Millisecond)

	svc.interfaceUp()
	assert.Eventually(t, func() bool { return svc.Stats().TotalChecks == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestServiceExportsOnStop(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	srv := serve(t, &status)

	path := filepath.Join(t.TempDir(), "status.json")
	sink, err := storage.NewFileStorage(path)
	require.NoError(t, err)

	svc := newService(t, testConfig(), sink, srv.URL)
	require.NoError(t, svc.Start(context.Background()))
	require.Eventually(t, func() bool { return svc.Stats().TotalChecks == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, svc.Stop())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap types.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, int64(1), snap.Stats.TotalChecks)
	assert.True(t, snap.State.Online)
	assert.Len(t, snap.Recent, 1)
}

func TestServiceEndpoints(t *testing.T) {
	svc := newService(t, testConfig(), nil, "https://example.com/a", "https://example.com/b")
	defer svc.Stop()

	primary, fallback := svc.Endpoints()
	assert.Len(t, primary, 2)
	assert.Empty(t, fallback)
	assert.Equal(t, 100, svc.HistoryCapacity())
}
