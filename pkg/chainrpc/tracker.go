package chainrpc

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/emberwallet/network-go/pkg/network"
)

// PollingBlockTracker watches an endpoint's head by polling
// eth_blockNumber through the connection's own dispatcher. It implements
// network.Tracker.
//
// The tracker is lazy: the polling loop starts when the first listener is
// added and stops when the last one is removed. A tracker swapped out of
// the controller's proxy loses its only listener and therefore stops,
// which is why superseded connections need no explicit teardown.
type PollingBlockTracker struct {
	dispatcher network.Dispatcher
	interval   time.Duration
	log        *logrus.Logger

	mu        sync.Mutex
	listeners map[int]network.TrackerListener
	nextID    int
	cancel    context.CancelFunc
	current   uint64
	seenHead  bool
}

// NewPollingBlockTracker creates a tracker polling through the given
// dispatcher at the given interval. No I/O happens until the first
// listener is added.
func NewPollingBlockTracker(dispatcher network.Dispatcher, interval time.Duration, log *logrus.Logger) *PollingBlockTracker {
	return &PollingBlockTracker{
		dispatcher: dispatcher,
		interval:   interval,
		log:        log,
		listeners:  make(map[int]network.TrackerListener),
	}
}

// AddListener registers a listener and returns a function that removes
// it. The first listener starts the polling loop.
func (t *PollingBlockTracker) AddListener(fn network.TrackerListener) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	if len(t.listeners) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		go t.loop(ctx)
	}
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		if len(t.listeners) == 0 && t.cancel != nil {
			t.cancel()
			t.cancel = nil
		}
		t.mu.Unlock()
	}
}

// CurrentBlock returns the last head the tracker saw, zero before the
// first successful poll.
func (t *PollingBlockTracker) CurrentBlock() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// loop polls immediately, then on every tick, until the context is
// cancelled. Poll failures are reported as error events and polling
// continues.
func (t *PollingBlockTracker) loop(ctx context.Context) {
	t.emit(network.TrackerEvent{Type: network.TrackerStarted})
	defer t.emit(network.TrackerEvent{Type: network.TrackerEnded})

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.poll(ctx)
		}
	}
}

func (t *PollingBlockTracker) poll(ctx context.Context) {
	var head hexutil.Uint64
	if err := t.dispatcher.Dispatch(ctx, &head, "eth_blockNumber"); err != nil {
		if ctx.Err() != nil {
			return
		}
		t.log.WithField("error", err).Debug("Head poll failed")
		t.emit(network.TrackerEvent{Type: network.TrackerError, Err: err})
		return
	}

	t.mu.Lock()
	prev := t.current
	first := !t.seenHead
	changed := first || uint64(head) != prev
	if changed {
		t.current = uint64(head)
		t.seenHead = true
	}
	t.mu.Unlock()

	if !changed {
		return
	}

	t.log.WithField("head", uint64(head)).Debug("New head")
	t.emit(network.TrackerEvent{Type: network.TrackerLatest, Number: uint64(head)})
	if !first {
		t.emit(network.TrackerEvent{
			Type:       network.TrackerSync,
			Number:     uint64(head),
			PrevNumber: prev,
		})
	}
}

// emit delivers one event to a snapshot of the listener set, outside the
// tracker lock.
func (t *PollingBlockTracker) emit(event network.TrackerEvent) {
	t.mu.Lock()
	fns := make([]network.TrackerListener, 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}
