package network

import (
	"strings"
	"sync"
)

// TrackerEventType names the kinds of events a block tracker emits.
// Types with a leading underscore are internal to a tracker's own
// lifecycle and are never relayed across the tracker proxy.
type TrackerEventType string

const (
	// TrackerLatest announces every new head the tracker sees
	TrackerLatest TrackerEventType = "latest"
	// TrackerSync announces a head change with the previous head attached
	TrackerSync TrackerEventType = "sync"
	// TrackerError reports a failed poll; polling continues
	TrackerError TrackerEventType = "error"
	// TrackerStarted marks the start of a tracker's polling loop (internal)
	TrackerStarted TrackerEventType = "_started"
	// TrackerEnded marks the end of a tracker's polling loop (internal)
	TrackerEnded TrackerEventType = "_ended"
)

// internal reports whether an event type belongs to the internal category
// that must not cross the proxy boundary.
func (t TrackerEventType) internal() bool {
	return strings.HasPrefix(string(t), "_")
}

// TrackerEvent is one head-tracking notification.
type TrackerEvent struct {
	Type       TrackerEventType
	Number     uint64 // head number, set for latest and sync
	PrevNumber uint64 // previous head, set for sync
	Err        error  // set for error events
}

// TrackerListener receives tracker events.
type TrackerListener func(TrackerEvent)

// Tracker is the liveness-tracking capability a connection exposes. A
// tracker is lazy: it performs no I/O until its first listener is added,
// and stops when its last listener is removed. AddListener returns a
// function that removes the listener.
type Tracker interface {
	AddListener(fn TrackerListener) func()
}

// BlockTrackerProxy is a stable Tracker handle whose underlying tracker
// can be swapped when the network changes. External listeners register on
// the proxy itself and keep receiving events across swaps, re-sourced from
// each new target; internal event types are filtered out of the relay.
//
// The proxy attaches a single forwarding listener to the current target,
// and only while external listeners exist, so the target's laziness is
// preserved through the indirection.
type BlockTrackerProxy struct {
	mu        sync.Mutex
	target    Tracker
	detach    func()
	listeners map[int]TrackerListener
	nextID    int
}

// NewBlockTrackerProxy creates a proxy forwarding from the given initial target.
func NewBlockTrackerProxy(target Tracker) *BlockTrackerProxy {
	return &BlockTrackerProxy{
		target:    target,
		listeners: make(map[int]TrackerListener),
	}
}

// AddListener registers an external listener on the proxy. The first
// listener attaches the proxy to its current target, starting the
// target's tracking loop.
func (p *BlockTrackerProxy) AddListener(fn TrackerListener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	if len(p.listeners) == 1 {
		p.attachLocked()
	}
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		if len(p.listeners) == 0 {
			p.detachLocked()
		}
		p.mu.Unlock()
	}
}

// SetTarget atomically replaces the underlying tracker. Existing external
// listeners keep receiving events, now sourced from the new target.
func (p *BlockTrackerProxy) SetTarget(target Tracker) {
	p.mu.Lock()
	attached := p.detach != nil
	p.detachLocked()
	p.target = target
	if attached || len(p.listeners) > 0 {
		p.attachLocked()
	}
	p.mu.Unlock()
}

// attachLocked hooks the forwarding listener onto the current target.
func (p *BlockTrackerProxy) attachLocked() {
	if p.target == nil {
		return
	}
	p.detach = p.target.AddListener(p.relay)
}

func (p *BlockTrackerProxy) detachLocked() {
	if p.detach != nil {
		p.detach()
		p.detach = nil
	}
}

// relay forwards one event from the current target to every external
// listener, dropping internal event types.
func (p *BlockTrackerProxy) relay(event TrackerEvent) {
	if event.Type.internal() {
		return
	}

	p.mu.Lock()
	fns := make([]TrackerListener, 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}
