// Package zbus is a minimal state-and-event bus standing in for the
// firmware's zbus channels. Each named channel
// holds a boolean "set" state plus an edge flag consumed once per
// tick, which is exactly what schedule.Context.StateIsSet and
// schedule.Context.EventFired need: STATE_SET validity reads the
// level, ON_EVENT periodicity reads the edge.
package zbus

import "sync"

// Bus is a process-wide set of named boolean channels.
type Bus struct {
	mu      sync.Mutex
	state   map[string]bool
	fired   map[string]bool // set since the last ConsumeEdges call
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{state: make(map[string]bool), fired: make(map[string]bool)}
}

// Set updates a channel's level. Transitioning from false to true also
// raises its edge flag for the next ConsumeEdges call.
func (b *Bus) Set(key string, value bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if value && !b.state[key] {
		b.fired[key] = true
	}
	b.state[key] = value
}

// IsSet reports a channel's current level, for STATE_SET validity.
func (b *Bus) IsSet(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state[key]
}

// Fired reports whether key transitioned to set since the last
// ConsumeEdges, for ON_EVENT periodicity. It does not itself clear the
// flag — the runner tick calls ConsumeEdges once per tick so every
// row sees a consistent snapshot.
func (b *Bus) Fired(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fired[key]
}

// ConsumeEdges clears every raised edge flag. Call once per runner
// tick, after all rows have been evaluated against the current
// snapshot.
func (b *Bus) ConsumeEdges() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.fired {
		delete(b.fired, k)
	}
}
