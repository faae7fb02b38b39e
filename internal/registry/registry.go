// Package registry holds the single active application channel.
package registry

import (
	"sync"

	"github.com/tinywideclouds/go-sdk-bridge/pkg/bridge"
)

// Registry is a single slot: the most recent Attach wins.
type Registry struct {
	mu         sync.RWMutex
	ch         bridge.Channel
	generation uint64
}

func New() *Registry {
	return &Registry{}
}

// Attach makes ch the active channel and returns its detach function.
// Detaching after a newer Attach leaves the newer channel in place.
func (r *Registry) Attach(ch bridge.Channel) (detach func()) {
	r.mu.Lock()
	r.generation++
	gen := r.generation
	r.ch = ch
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.generation == gen {
				r.ch = nil
			}
		})
	}
}

// Current returns the active channel, if any.
func (r *Registry) Current() (bridge.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ch, r.ch != nil
}
