package network

import (
	"context"
	"sync"
)

// Dispatcher is the request capability a connection exposes: it forwards a
// JSON-RPC method call to its endpoint and decodes the result into result.
type Dispatcher interface {
	Dispatch(ctx context.Context, result interface{}, method string, params ...interface{}) error
}

// ProviderProxy is a stable Dispatcher handle whose underlying target can
// be swapped when the network changes. Consumers acquire the proxy once at
// startup and never need to re-acquire it; SetTarget retargets every
// subsequent call.
//
// A dispatch in flight when a swap happens completes against whichever
// target it captured.
type ProviderProxy struct {
	mu     sync.RWMutex
	target Dispatcher
}

// NewProviderProxy creates a proxy forwarding to the given initial target.
func NewProviderProxy(target Dispatcher) *ProviderProxy {
	return &ProviderProxy{target: target}
}

// Dispatch forwards the call to the current target. The target reference
// is captured under the read lock but the call itself runs outside it, so
// a slow endpoint never blocks a swap.
func (p *ProviderProxy) Dispatch(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	p.mu.RLock()
	target := p.target
	p.mu.RUnlock()

	return target.Dispatch(ctx, result, method, params...)
}

// SetTarget atomically replaces the underlying dispatcher.
func (p *ProviderProxy) SetTarget(target Dispatcher) {
	p.mu.Lock()
	p.target = target
	p.mu.Unlock()
}

// hasTarget reports whether a dispatcher has been installed yet.
func (p *ProviderProxy) hasTarget() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.target != nil
}
