package netwatch

import (
	"context"
	"sync"
	"time"

	psnet "github.com/shirou/gopsutil/v4/net"
	log "github.com/sirupsen/logrus"
)

// NoInterfaceReason is reported when the host has no usable interface
const NoInterfaceReason = "No network interface available"

// Lister returns the host's network interfaces
type Lister func(ctx context.Context) ([]psnet.InterfaceStat, error)

// Handlers receive interface transitions. OnDown fires when the last usable
// interface disappears, OnUp when one returns afterwards.
type Handlers struct {
	OnDown func(reason string)
	OnUp   func()
}

// Watcher polls the host's interfaces and reports transitions between
// "some non-loopback interface is up" and "none is"
type Watcher struct {
	list     Lister
	interval time.Duration
	handlers Handlers

	mu       sync.Mutex
	known    bool
	usable   bool
	stopChan chan struct{}
	done     chan struct{}
}

func New(interval time.Duration, handlers Handlers) *Watcher {
	return NewWithLister(interval, handlers, func(ctx context.Context) ([]psnet.InterfaceStat, error) {
		return psnet.InterfacesWithContext(ctx)
	})
}

func NewWithLister(interval time.Duration, handlers Handlers, list Lister) *Watcher {
	return &Watcher{
		list:     list,
		interval: interval,
		handlers: handlers,
	}
}

// HasUsableInterface reports whether any interface is up and not loopback
func HasUsableInterface(interfaces []psnet.InterfaceStat) bool {
	for _, iface := range interfaces {
		up, loopback := false, false
		for _, flag := range iface.Flags {
			switch flag {
			case "up":
				up = true
			case "loopback":
				loopback = true
			}
		}
		if up && !loopback {
			return true
		}
	}
	return false
}

// Start polls once immediately, then on every interval until Stop
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.stopChan != nil {
		w.mu.Unlock()
		return
	}
	w.stopChan = make(chan struct{})
	w.done = make(chan struct{})
	stopChan, done := w.stopChan, w.done
	w.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.Poll(context.Background())
		for {
			select {
			case <-stopChan:
				return
			case <-ticker.C:
				w.Poll(context.Background())
			}
		}
	}()
	log.WithField("interval", w.interval.String()).Info("Network interface watcher started")
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	stopChan, done := w.stopChan, w.done
	w.stopChan, w.done = nil, nil
	w.mu.Unlock()

	if stopChan == nil {
		return
	}
	close(stopChan)
	<-done
	log.Info("Network interface watcher stopped")
}

// Poll inspects the interfaces once and fires a handler on a transition.
// Listing errors leave the last known state untouched.
func (w *Watcher) Poll(ctx context.Context) {
	interfaces, err := w.list(ctx)
	if err != nil {
		log.Warnf("Unable to list network interfaces: %v", err)
		return
	}
	usable := HasUsableInterface(interfaces)

	w.mu.Lock()
	wasKnown, wasUsable := w.known, w.usable
	w.known, w.usable = true, usable
	w.mu.Unlock()

	switch {
	case !usable && (!wasKnown || wasUsable):
		log.Warn(NoInterfaceReason)
		if w.handlers.OnDown != nil {
			w.handlers.OnDown(NoInterfaceReason)
		}
	case usable && wasKnown && !wasUsable:
		log.Info("Network interface available again")
		if w.handlers.OnUp != nil {
			w.handlers.OnUp()
		}
	}
}
