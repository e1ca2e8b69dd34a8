// Package golden guards the frozen engine invocation contract. Each profile
// has a golden contract: the set of control parameters proven to produce
// stable output. Surfaces are validated against the contract before every
// engine invocation and identified by a short deterministic fingerprint.
package golden

import "sort"

// Profile names a synthesis configuration with its own contract and
// resource policy.
type Profile string

const (
	ProfileStreaming Profile = "streaming"
	ProfileOffline   Profile = "offline"
)

// Valid reports whether p is a known profile.
func (p Profile) Valid() bool {
	return p == ProfileStreaming || p == ProfileOffline
}

// Surface is the full parameter set for one engine invocation. Control
// entries carry the values the contract pins down; payload entries carry
// data (tensors, text, sample buffers, token budgets) whose content is
// irrelevant to the contract; hooks are required callables whose identity
// is never compared, only their presence.
type Surface struct {
	controls map[string]any
	payload  map[string]any
	hooks    map[string]bool
}

func NewSurface() *Surface {
	return &Surface{
		controls: make(map[string]any),
		payload:  make(map[string]any),
		hooks:    make(map[string]bool),
	}
}

// Set records a control entry. Nested configuration is passed as
// map[string]any.
func (s *Surface) Set(key string, value any) *Surface {
	s.controls[key] = value
	return s
}

// SetPayload records a data-carrying entry, excluded from validation value
// checks and from the fingerprint.
func (s *Surface) SetPayload(key string, value any) *Surface {
	s.payload[key] = value
	return s
}

// SetHook marks a required callable as supplied.
func (s *Surface) SetHook(key string) *Surface {
	s.hooks[key] = true
	return s
}

// Control returns a control entry.
func (s *Surface) Control(key string) (any, bool) {
	v, ok := s.controls[key]
	return v, ok
}

// Payload returns a payload entry.
func (s *Surface) Payload(key string) (any, bool) {
	v, ok := s.payload[key]
	return v, ok
}

// HasHook reports whether the named callable was supplied.
func (s *Surface) HasHook(key string) bool {
	return s.hooks[key]
}

// Controls returns a shallow copy of the control entries, for callers
// that serialize the surface toward an engine.
func (s *Surface) Controls() map[string]any {
	out := make(map[string]any, len(s.controls))
	for k, v := range s.controls {
		out[k] = v
	}
	return out
}

func (s *Surface) controlKeys() []string {
	keys := make([]string, 0, len(s.controls))
	for k := range s.controls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Surface) payloadKeys() []string {
	keys := make([]string, 0, len(s.payload))
	for k := range s.payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
