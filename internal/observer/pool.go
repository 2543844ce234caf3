package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type pooled struct {
	observer *Observer
	cancel   context.CancelFunc
	lastUsed time.Time
}

// Pool keeps one observer per key, such as one per open patient view.
type Pool struct {
	mu        sync.Mutex
	observers map[string]*pooled
	factory   func(key string) *Observer
	now       func() time.Time
}

func NewPool(factory func(key string) *Observer) *Pool {
	return &Pool{observers: make(map[string]*pooled), factory: factory, now: time.Now}
}

// Acquire returns the observer for key, creating it on first use. Observers
// with a poll interval start polling in the background.
func (p *Pool) Acquire(key string) *Observer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.observers[key]; ok {
		existing.lastUsed = p.now()
		return existing.observer
	}
	o := p.factory(key)
	ctx, cancel := context.WithCancel(context.Background())
	if o.Interval() > 0 {
		go o.Run(ctx)
	}
	p.observers[key] = &pooled{observer: o, cancel: cancel, lastUsed: p.now()}
	return o
}

// Teardown stops and forgets the observer for key.
func (p *Pool) Teardown(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	existing, ok := p.observers[key]
	if !ok {
		return false
	}
	existing.cancel()
	delete(p.observers, key)
	return true
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.observers)
}

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, existing := range p.observers {
		existing.cancel()
		delete(p.observers, key)
	}
}

// Sweep tears down observers not acquired within idle and returns how many
// were removed.
func (p *Pool) Sweep(idle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.now().Add(-idle)
	removed := 0
	for key, existing := range p.observers {
		if existing.lastUsed.After(cutoff) {
			continue
		}
		existing.cancel()
		delete(p.observers, key)
		removed++
	}
	return removed
}

// RunSweeper calls Sweep every half idle period until ctx is cancelled. A
// non-positive idle disables sweeping.
func (p *Pool) RunSweeper(ctx context.Context, idle time.Duration) {
	if idle <= 0 {
		return
	}
	every := idle / 2
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := p.Sweep(idle); removed > 0 {
				logrus.WithField("removed", removed).Debug("observer: swept idle views")
			}
		}
	}
}
