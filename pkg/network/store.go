package network

import (
	"sync"
)

// Slot names one independently observable piece of controller state.
type Slot string

const (
	// SlotProvider is the active provider configuration
	SlotProvider Slot = "provider"
	// SlotPreviousProvider is the single retained previous configuration
	SlotPreviousProvider Slot = "previousProvider"
	// SlotStatus is the liveness status of the active network
	SlotStatus Slot = "status"
	// SlotDetails is the detected capabilities of the active network
	SlotDetails Slot = "details"
)

// Snapshot is a composed read of all store slots, suitable for persistence
// or UI binding.
type Snapshot struct {
	Provider         ProviderConfig `json:"provider"`
	PreviousProvider ProviderConfig `json:"previousProvider"`
	Status           NetworkStatus  `json:"status"`
	Details          NetworkDetails `json:"details"`
}

// Change describes one store mutation: which slot changed and the full
// snapshot after the write.
type Change struct {
	Slot     Slot
	Snapshot Snapshot
}

// Store holds the controller's observable state: the active provider
// config, the previous-config history slot, the network status and the
// detected network details. Writes replace a slot wholesale, never merge,
// and carry no validation; callers validate before writing.
//
// The controller is the single writer. Readers and watchers may be anyone.
type Store struct {
	mu       sync.RWMutex
	provider ProviderConfig
	previous ProviderConfig
	status   NetworkStatus
	details  NetworkDetails

	watchMu   sync.Mutex
	watchers  map[int]func(Change)
	nextWatch int
}

// NewStore creates a store with the given initial provider config and a
// loading status.
func NewStore(initial ProviderConfig) *Store {
	return &Store{
		provider: initial,
		status:   NetworkStatus{Status: StatusLoading},
		watchers: make(map[int]func(Change)),
	}
}

// GetProvider returns the active provider configuration.
func (s *Store) GetProvider() ProviderConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// SetProvider replaces the active provider configuration.
func (s *Store) SetProvider(cfg ProviderConfig) {
	s.mu.Lock()
	s.provider = cfg
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(Change{Slot: SlotProvider, Snapshot: snap})
}

// GetPreviousProvider returns the single retained previous configuration.
func (s *Store) GetPreviousProvider() ProviderConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previous
}

// SetPreviousProvider overwrites the history slot.
func (s *Store) SetPreviousProvider(cfg ProviderConfig) {
	s.mu.Lock()
	s.previous = cfg
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(Change{Slot: SlotPreviousProvider, Snapshot: snap})
}

// GetStatus returns the current network status.
func (s *Store) GetStatus() NetworkStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus replaces the network status.
func (s *Store) SetStatus(status NetworkStatus) {
	s.mu.Lock()
	s.status = status
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(Change{Slot: SlotStatus, Snapshot: snap})
}

// GetDetails returns the detected network details.
func (s *Store) GetDetails() NetworkDetails {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.details
}

// SetDetails replaces the detected network details.
func (s *Store) SetDetails(details NetworkDetails) {
	s.mu.Lock()
	s.details = details
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(Change{Slot: SlotDetails, Snapshot: snap})
}

// Snapshot returns a consistent read of all slots.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Provider:         s.provider,
		PreviousProvider: s.previous,
		Status:           s.status,
		Details:          s.details,
	}
}

// Watch registers a callback invoked synchronously, in the mutating call,
// after every write. The returned function cancels the registration.
// Callbacks run outside the write lock, so they may read the store but
// must not assume no further write has happened since the change.
func (s *Store) Watch(fn func(Change)) func() {
	s.watchMu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Store) notify(change Change) {
	s.watchMu.Lock()
	fns := make([]func(Change), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}
