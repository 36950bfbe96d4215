package kernel

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"garden-of-memory/pkg/garden"
)

// CapabilityRegistry is the default in-memory capability registry.
//
// Workers are held in registration order per capability so selection
// strategies see a stable candidate list.
type CapabilityRegistry struct {
	mu      sync.RWMutex
	workers map[string][]garden.TaskHandler
}

// NewCapabilityRegistry creates an empty capability registry.
func NewCapabilityRegistry() *CapabilityRegistry {
	return &CapabilityRegistry{
		workers: make(map[string][]garden.TaskHandler),
	}
}

// compile-time interface guard
var _ garden.CapabilityRegistry = (*CapabilityRegistry)(nil)

// Register adds a worker under a capability name.
func (r *CapabilityRegistry) Register(capability string, handler garden.TaskHandler) error {
	if capability == "" {
		return fmt.Errorf("register capability: empty name")
	}
	if handler == nil {
		return fmt.Errorf("register capability %s: nil handler", capability)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.workers[capability] {
		if existing.Name() == handler.Name() {
			return fmt.Errorf("register capability %s: worker %s already registered", capability, handler.Name())
		}
	}
	r.workers[capability] = append(r.workers[capability], handler)

	return nil
}

// Deregister removes a worker from a capability. Unknown pairs are a no-op.
func (r *CapabilityRegistry) Deregister(capability string, handler garden.TaskHandler) error {
	if capability == "" {
		return fmt.Errorf("deregister capability: empty name")
	}
	if handler == nil {
		return fmt.Errorf("deregister capability %s: nil handler", capability)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered := r.workers[capability]
	for index, existing := range registered {
		if existing.Name() != handler.Name() {
			continue
		}
		registered = append(registered[:index], registered[index+1:]...)
		if len(registered) == 0 {
			delete(r.workers, capability)
		} else {
			r.workers[capability] = registered
		}

		return nil
	}

	return nil
}

// Find returns the workers advertising a capability in registration order.
// Absence yields an empty slice, never an error.
func (r *CapabilityRegistry) Find(capability string) []garden.TaskHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]garden.TaskHandler(nil), r.workers[capability]...)
}

// Capabilities returns the advertised capability names, sorted.
func (r *CapabilityRegistry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// NewRoundRobin returns a selection strategy rotating through candidates.
//
// Rotation state is shared across capabilities; distribution is approximate
// when candidate lists change between dispatches.
func NewRoundRobin() garden.SelectionStrategy {
	var counter atomic.Uint64

	return func(_ string, candidates []garden.TaskHandler) garden.TaskHandler {
		next := counter.Add(1) - 1

		return candidates[next%uint64(len(candidates))]
	}
}
