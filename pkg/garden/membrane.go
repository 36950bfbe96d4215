package garden

import (
	"context"
	"fmt"
)

// Task is one unit of work handed to a membrane through its boundary.
type Task struct {
	// ID is a stable identifier for this task instance.
	ID string
	// Capability names the capability the task requires.
	Capability string
	// Input carries the task parameters.
	Input map[string]any
	// RunID identifies the owning workflow run when the task is orchestrated.
	RunID string
	// Step names the owning workflow step when the task is orchestrated.
	Step string
}

// TaskResult is the successful outcome of one task.
type TaskResult struct {
	// Output carries named result values, addressable from workflow bindings.
	Output map[string]any
	// WorkerID names the worker that produced the result. The dispatcher
	// sets it after selection; handlers leave it empty.
	WorkerID string
}

// TaskHandler executes tasks for the capabilities it registered under.
//
// Handle runs outside every substrate lock; implementations may block on
// external calls. Errors and panics are caught at the dispatch boundary and
// converted to failure outcomes, so a misbehaving handler cannot unwind the
// orchestrator.
type TaskHandler interface {
	// Name returns a stable worker identifier.
	Name() string
	// Handle executes one task.
	Handle(ctx context.Context, task Task) (TaskResult, error)
}

// MembraneHandler couples a declared capability with an event subscription.
type MembraneHandler struct {
	// Capability declares what the handler does and which events it may observe.
	Capability Capability
	// Subscription configures buffering and delivery for the handler.
	Subscription SubscriptionSpec
	// Handler receives matching events.
	Handler EventHandler
}

// MembraneSpec declares a membrane's capabilities and event wiring.
type MembraneSpec struct {
	// Handlers lists event-driven capabilities wired at registration.
	Handlers []MembraneHandler
	// AdditionalCapabilities lists task-only capabilities with no event wiring.
	AdditionalCapabilities []Capability
}

// Capabilities returns all declared capabilities, handler-backed first.
func (s MembraneSpec) Capabilities() []Capability {
	capabilities := make([]Capability, 0, len(s.Handlers)+len(s.AdditionalCapabilities))
	for _, handler := range s.Handlers {
		capabilities = append(capabilities, handler.Capability)
	}
	capabilities = append(capabilities, s.AdditionalCapabilities...)

	return capabilities
}

// Validate checks structural spec invariants.
func (s MembraneSpec) Validate() error {
	seen := make(map[string]struct{}, len(s.Handlers)+len(s.AdditionalCapabilities))
	for _, handler := range s.Handlers {
		if handler.Capability.Name == "" {
			return fmt.Errorf("validate membrane spec: handler with empty capability name")
		}
		if handler.Handler == nil {
			return fmt.Errorf("validate membrane spec: capability %s has nil handler", handler.Capability.Name)
		}
		if _, duplicate := seen[handler.Capability.Name]; duplicate {
			return fmt.Errorf("validate membrane spec: duplicate capability %s", handler.Capability.Name)
		}
		seen[handler.Capability.Name] = struct{}{}
	}
	for _, capability := range s.AdditionalCapabilities {
		if capability.Name == "" {
			return fmt.Errorf("validate membrane spec: capability with empty name")
		}
		if _, duplicate := seen[capability.Name]; duplicate {
			return fmt.Errorf("validate membrane spec: duplicate capability %s", capability.Name)
		}
		seen[capability.Name] = struct{}{}
	}

	return nil
}

// MembraneRuntime provides kernel facilities to membranes during registration.
type MembraneRuntime interface {
	// Services exposes the service registry for dependency lookup.
	Services() ServiceRegistry
	// Subscribe registers an asynchronous event handler owned by the membrane.
	//
	// The subscription filter must be allowed by one of the membrane's
	// declared capability interests.
	Subscribe(ctx context.Context, spec SubscriptionSpec, handler EventHandler) (Subscription, error)
}

// Membrane is the lifecycle-aware worker contract.
//
// Membranes interact with the substrate only through the services handed to
// them at registration; they never receive direct store access. Handle must
// be concurrency-safe: tasks and event handlers can run at the same time.
type Membrane interface {
	TaskHandler
	// Spec returns declarative capability and event wiring metadata.
	Spec() MembraneSpec
	// OnStart is called when the kernel begins runtime execution.
	OnStart(ctx context.Context) error
	// OnShutdown is called during orderly shutdown.
	OnShutdown(ctx context.Context) error
}

// MembraneRegistrar is implemented by membranes that resolve dependencies or
// register event handlers beyond their declared spec at registration time.
type MembraneRegistrar interface {
	// OnRegister is called once when the membrane is registered.
	OnRegister(ctx context.Context, runtime MembraneRuntime) error
}

// Source feeds externally originated proposals into the substrate.
//
// Sources own ingestion transport concerns and interact with the store only
// through the proposer handed to Start.
type Source interface {
	// Name returns a stable source identifier.
	Name() string
	// Start begins proposing. It should return only after context
	// cancellation, input exhaustion, or fatal error.
	Start(ctx context.Context, proposer Proposer) error
	// Shutdown stops external resources that are not tied to Start context alone.
	Shutdown(ctx context.Context) error
}

// ServiceDispatcher is the canonical service registry key for the task dispatcher.
const ServiceDispatcher = "garden.dispatcher"

// TaskDispatcher routes tasks to registered workers with boundary isolation.
type TaskDispatcher interface {
	// Dispatch resolves one capable worker and executes the task.
	//
	// err wraps ErrCapabilityUnavailable when no worker advertises the
	// capability and ErrWorkerFailure when the selected worker errors,
	// panics, or times out. Both are expected failure outcomes for callers
	// to absorb, not faults.
	Dispatch(ctx context.Context, task Task) (TaskResult, error)
}
