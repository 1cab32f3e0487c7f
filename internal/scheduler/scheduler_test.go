package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connectivity-monitor/internal/types"
)

type countingProber struct {
	calls atomic.Int32
	block chan struct{}
}

func (p *countingProber) Probe(ctx context.Context) (types.ProbeOutcome, error) {
	p.calls.Add(1)
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return types.ProbeOutcome{}, ctx.Err()
		}
	}
	return types.ProbeOutcome{Online: true, Timestamp: time.Now()}, nil
}

func TestSchedulerProbesImmediately(t *testing.T) {
	prober := &countingProber{}
	s := New(prober, time.Hour)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return prober.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerTicks(t *testing.T) {
	prober := &countingProber{}
	s := New(prober, 20*time.Millisecond)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return prober.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	settled := prober.calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, prober.calls.Load(), "no probes after Stop")
}

func TestSchedulerStopInterruptsBlockedProbe(t *testing.T) {
	prober := &countingProber{block: make(chan struct{})}
	s := New(prober, time.Hour)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return prober.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	assert.False(t, s.Running())
}

func TestSchedulerStartTwice(t *testing.T) {
	s := New(&countingProber{}, time.Hour)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Error(t, s.Start(context.Background()))
	assert.True(t, s.Running())
}

func TestSchedulerRejectsZeroInterval(t *testing.T) {
	s := New(&countingProber{}, 0)
	assert.Error(t, s.Start(context.Background()))

	// stopping a scheduler that never ran is a no-op
	s.Stop()
}
