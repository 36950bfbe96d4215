package garden

// ServiceCapabilities is the canonical service registry key for the capability registry.
const ServiceCapabilities = "garden.capabilities"

// CapabilityRegistry maps capability names to the workers that advertise them.
//
// Implementations must be concurrency-safe; registration and lookups happen
// from independent goroutines.
type CapabilityRegistry interface {
	// Register adds a worker under a capability name.
	//
	// Multiple workers may register the same capability; registration order
	// is preserved for selection.
	Register(capability string, handler TaskHandler) error
	// Deregister removes a previously registered worker from a capability.
	//
	// Deregistering a worker that is not registered is a no-op.
	Deregister(capability string, handler TaskHandler) error
	// Find returns the workers advertising a capability in registration order.
	//
	// An unknown capability yields an empty slice; absence is a normal
	// queryable state, never an error.
	Find(capability string) []TaskHandler
	// Capabilities returns the currently advertised capability names, sorted.
	Capabilities() []string
}

// SelectionStrategy picks one worker among the candidates for a capability.
//
// Candidates are never empty; the dispatcher handles the unavailable case
// before selection.
type SelectionStrategy func(capability string, candidates []TaskHandler) TaskHandler

// FirstRegistered is the default selection strategy.
func FirstRegistered(capability string, candidates []TaskHandler) TaskHandler {
	return candidates[0]
}
