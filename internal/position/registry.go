package position

import "sync"

// Registry is the shared map of open positions, keyed by asset address.
// Sniper loops insert on entry, monitors remove on exit; status queries read
// concurrently. All per-key operations are atomic.
type Registry struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{positions: make(map[string]*Position)}
}

// Insert registers an open position. Returns false if a position for the
// address is already tracked.
func (r *Registry) Insert(pos *Position) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.positions[pos.Address]; exists {
		return false
	}
	r.positions[pos.Address] = pos
	return true
}

// Remove deletes a position by asset address and returns it, or nil if it was
// not tracked.
func (r *Registry) Remove(address string) *Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos := r.positions[address]
	delete(r.positions, address)
	return pos
}

// Get returns the tracked position for an address, or nil.
func (r *Registry) Get(address string) *Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.positions[address]
}

// Open returns snapshots of all tracked positions.
func (r *Registry) Open() []View {
	r.mu.RLock()
	tracked := make([]*Position, 0, len(r.positions))
	for _, p := range r.positions {
		tracked = append(tracked, p)
	}
	r.mu.RUnlock()

	views := make([]View, 0, len(tracked))
	for _, p := range tracked {
		views = append(views, p.Snapshot())
	}
	return views
}

// Len returns the number of tracked positions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions)
}

// RecentSet tracks asset addresses a trade has already been attempted for, to
// prevent immediate re-signaling on the same asset. Entries never expire.
type RecentSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewRecentSet creates an empty set.
func NewRecentSet() *RecentSet {
	return &RecentSet{seen: make(map[string]struct{})}
}

// Mark records an address as attempted.
func (s *RecentSet) Mark(address string) {
	s.mu.Lock()
	s.seen[address] = struct{}{}
	s.mu.Unlock()
}

// Contains reports whether the address has been attempted before.
func (s *RecentSet) Contains(address string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[address]
	return ok
}

// Seed loads persisted addresses, typically at boot.
func (s *RecentSet) Seed(addresses []string) {
	s.mu.Lock()
	for _, a := range addresses {
		s.seen[a] = struct{}{}
	}
	s.mu.Unlock()
}

// Len returns the number of tracked addresses.
func (s *RecentSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
