package events

import (
	"context"
	"sync"
	"time"
)

// Latch remembers the latest observed event and lets callers block until a
// matching one arrives.
type Latch struct {
	mu     sync.Mutex
	last   *Event
	signal chan struct{}
}

func NewLatch() *Latch {
	return &Latch{signal: make(chan struct{})}
}

// Observe records evt and wakes every waiter. It has the Callback shape.
func (l *Latch) Observe(evt Event) {
	l.mu.Lock()
	e := evt
	l.last = &e
	close(l.signal)
	l.signal = make(chan struct{})
	l.mu.Unlock()
}

func (l *Latch) Last() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return Event{}, false
	}
	return *l.last, true
}

// Reset forgets the last event.
func (l *Latch) Reset() {
	l.mu.Lock()
	l.last = nil
	l.mu.Unlock()
}

// Wait blocks until the latest event satisfies match, timeout elapses or
// ctx is done. A nil match accepts any event.
func (l *Latch) Wait(ctx context.Context, timeout time.Duration, match func(Event) bool) (Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		l.mu.Lock()
		if l.last != nil && (match == nil || match(*l.last)) {
			evt := *l.last
			l.mu.Unlock()
			return evt, true
		}
		signal := l.signal
		l.mu.Unlock()

		select {
		case <-signal:
		case <-timer.C:
			return Event{}, false
		case <-ctx.Done():
			return Event{}, false
		}
	}
}
