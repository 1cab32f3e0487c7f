package netwatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/assert"
)

var (
	loopback = psnet.InterfaceStat{Name: "lo", Flags: []string{"up", "loopback"}}
	ethUp    = psnet.InterfaceStat{Name: "eth0", Flags: []string{"up", "broadcast", "multicast"}}
	ethDown  = psnet.InterfaceStat{Name: "eth0", Flags: []string{"broadcast", "multicast"}}
)

type scriptedLister struct {
	mu    sync.Mutex
	steps [][]psnet.InterfaceStat
	err   error
}

func (s *scriptedLister) list(context.Context) ([]psnet.InterfaceStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if len(s.steps) == 1 {
		return s.steps[0], nil
	}
	next := s.steps[0]
	s.steps = s.steps[1:]
	return next, nil
}

type recorder struct {
	mu    sync.Mutex
	downs []string
	ups   int
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnDown: func(reason string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.downs = append(r.downs, reason)
		},
		OnUp: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ups++
		},
	}
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.downs), r.ups
}

func TestHasUsableInterface(t *testing.T) {
	assert.False(t, HasUsableInterface(nil))
	assert.False(t, HasUsableInterface([]psnet.InterfaceStat{loopback}))
	assert.False(t, HasUsableInterface([]psnet.InterfaceStat{loopback, ethDown}))
	assert.True(t, HasUsableInterface([]psnet.InterfaceStat{loopback, ethUp}))
}

func TestPollTransitions(t *testing.T) {
	lister := &scriptedLister{steps: [][]psnet.InterfaceStat{
		{loopback, ethUp},
		{loopback, ethDown},
		{loopback, ethDown},
		{loopback, ethUp},
		{loopback, ethUp},
	}}
	rec := &recorder{}
	w := NewWithLister(time.Hour, rec.handlers(), lister.list)

	ctx := context.Background()
	w.Poll(ctx) // up at start: nothing to report
	downs, ups := rec.counts()
	assert.Equal(t, 0, downs)
	assert.Equal(t, 0, ups)

	w.Poll(ctx)
	w.Poll(ctx)
	downs, _ = rec.counts()
	assert.Equal(t, 1, downs, "down reported once per transition")
	assert.Equal(t, NoInterfaceReason, rec.downs[0])

	w.Poll(ctx)
	w.Poll(ctx)
	_, ups = rec.counts()
	assert.Equal(t, 1, ups)
}

func TestPollReportsDownAtStartup(t *testing.T) {
	lister := &scriptedLister{steps: [][]psnet.InterfaceStat{{loopback}}}
	rec := &recorder{}
	w := NewWithLister(time.Hour, rec.handlers(), lister.list)

	w.Poll(context.Background())
	downs, ups := rec.counts()
	assert.Equal(t, 1, downs)
	assert.Equal(t, 0, ups)
}

func TestPollIgnoresListingErrors(t *testing.T) {
	lister := &scriptedLister{err: errors.New("permission denied")}
	rec := &recorder{}
	w := NewWithLister(time.Hour, rec.handlers(), lister.list)

	w.Poll(context.Background())
	downs, ups := rec.counts()
	assert.Equal(t, 0, downs)
	assert.Equal(t, 0, ups)
}

func TestStartStop(t *testing.T) {
	lister := &scriptedLister{steps: [][]psnet.InterfaceStat{{loopback}}}
	rec := &recorder{}
	w := NewWithLister(10*time.Millisecond, rec.handlers(), lister.list)

	w.Start()
	assert.Eventually(t, func() bool {
		downs, _ := rec.counts()
		return downs == 1
	}, time.Second, 5*time.Millisecond)
	w.Stop()
	w.Stop()
}
