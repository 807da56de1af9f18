package events

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/zeusync/hubsync/internal/core/observability/log"
)

// Handle identifies a registered callback.
type Handle string

// Callback receives events on the listener goroutine; it should return
// quickly.
type Callback func(Event)

type registration struct {
	id    Handle
	types map[EventType]struct{}
	cb    Callback
}

func (r *registration) wants(t EventType) bool {
	if len(r.types) == 0 {
		return true
	}
	_, ok := r.types[t]
	return ok
}

// dispatcher fans events out to callbacks in registration order. A callback
// registered with no types receives everything.
type dispatcher struct {
	mu     sync.RWMutex
	regs   []*registration
	logger log.Log
}

func newDispatcher(logger log.Log) *dispatcher {
	return &dispatcher{logger: logger}
}

func (d *dispatcher) add(types []EventType, cb Callback) Handle {
	r := &registration{id: Handle(uuid.NewString()), cb: cb}
	if len(types) > 0 {
		r.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			r.types[t] = struct{}{}
		}
	}

	d.mu.Lock()
	d.regs = append(d.regs, r)
	d.mu.Unlock()
	return r.id
}

func (d *dispatcher) remove(h Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.regs {
		if r.id == h {
			d.regs = slices.Delete(d.regs, i, i+1)
			return true
		}
	}
	return false
}

func (d *dispatcher) clear() {
	d.mu.Lock()
	d.regs = nil
	d.mu.Unlock()
}

func (d *dispatcher) len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.regs)
}

// union returns the sorted set of types any callback wants, nil when some
// callback wants every type.
func (d *dispatcher) union() []EventType {
	d.mu.RLock()
	defer d.mu.RUnlock()

	set := make(map[EventType]struct{})
	for _, r := range d.regs {
		if len(r.types) == 0 {
			return nil
		}
		for t := range r.types {
			set[t] = struct{}{}
		}
	}
	out := make([]EventType, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// dispatch delivers evt and returns how many callbacks received it. A
// panicking callback is logged and does not affect the others.
func (d *dispatcher) dispatch(evt Event) int {
	d.mu.RLock()
	targets := make([]*registration, 0, len(d.regs))
	for _, r := range d.regs {
		if r.wants(evt.Type) {
			targets = append(targets, r)
		}
	}
	d.mu.RUnlock()

	for _, r := range targets {
		d.invoke(r, evt)
	}
	return len(targets)
}

func (d *dispatcher) invoke(r *registration, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("event callback panicked",
				log.String("handle", string(r.id)),
				log.String("event", string(evt.Type)),
				log.String("panic", fmt.Sprint(rec)))
		}
	}()
	r.cb(evt)
}

func sameTypes(a, b []EventType) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
