// Package admission bounds concurrent synthesis per profile. Profiles with
// a declared capacity hand out counting permits; acquisition never blocks,
// it either admits or tells the caller to retry later.
package admission

import (
	"sync"
	"sync/atomic"
)

type slot struct {
	capacity int32
	inflight atomic.Int32
}

// Gate tracks one permit counter per constrained profile. Profiles without
// a declared capacity always admit.
type Gate struct {
	slots map[string]*slot
}

// NewGate builds a gate from profile capacities. A capacity <= 0 means the
// profile is unconstrained.
func NewGate(capacities map[string]int) *Gate {
	g := &Gate{slots: make(map[string]*slot, len(capacities))}
	for profile, capacity := range capacities {
		if capacity > 0 {
			g.slots[profile] = &slot{capacity: int32(capacity)}
		}
	}
	return g
}

// TryAcquire attempts to take a permit for the profile without blocking.
// On success the returned release function gives the permit back; it is
// safe to call more than once, only the first call counts. On failure the
// caller must surface a busy/retry-later outcome.
func (g *Gate) TryAcquire(profile string) (release func(), ok bool) {
	s, constrained := g.slots[profile]
	if !constrained {
		return func() {}, true
	}

	for {
		cur := s.inflight.Load()
		if cur >= s.capacity {
			return nil, false
		}
		if s.inflight.CompareAndSwap(cur, cur+1) {
			break
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.inflight.Add(-1) })
	}, true
}

// InFlight reports the number of held permits for a profile.
func (g *Gate) InFlight(profile string) int {
	s, constrained := g.slots[profile]
	if !constrained {
		return 0
	}
	return int(s.inflight.Load())
}

// Constrained reports whether the profile has a bounded capacity.
func (g *Gate) Constrained(profile string) bool {
	_, ok := g.slots[profile]
	return ok
}
