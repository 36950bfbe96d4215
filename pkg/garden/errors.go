package garden

import "errors"

var (
	// ErrInvalidEvent indicates that an event does not satisfy envelope invariants.
	ErrInvalidEvent = errors.New("garden: invalid event")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("garden: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("garden: subscription closed")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("garden: event dropped due to backpressure")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("garden: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("garden: service not found")
	// ErrMembraneAlreadyRegistered indicates duplicate membrane registration.
	ErrMembraneAlreadyRegistered = errors.New("garden: membrane already registered")
	// ErrSourceAlreadyRegistered indicates duplicate source registration.
	ErrSourceAlreadyRegistered = errors.New("garden: source already registered")
	// ErrConstraintViolation indicates a proposal that violates a store invariant.
	ErrConstraintViolation = errors.New("garden: constraint violation")
	// ErrCapabilityUnavailable indicates that no registered worker advertises a capability.
	ErrCapabilityUnavailable = errors.New("garden: capability unavailable")
	// ErrWorkerFailure indicates a worker error, panic, or timeout caught at the task boundary.
	ErrWorkerFailure = errors.New("garden: worker failure")
	// ErrFragmentNotFound indicates a fragment lookup miss.
	ErrFragmentNotFound = errors.New("garden: fragment not found")
	// ErrCheckpointCorrupt indicates a checkpoint document that fails structural validation.
	ErrCheckpointCorrupt = errors.New("garden: checkpoint corrupt")
	// ErrWorkflowAlreadyDefined indicates duplicate workflow registration in a catalog.
	ErrWorkflowAlreadyDefined = errors.New("garden: workflow already defined")
	// ErrWorkflowNotFound indicates a workflow catalog lookup miss.
	ErrWorkflowNotFound = errors.New("garden: workflow not found")
	// ErrRunNotFound indicates a workflow run lookup miss.
	ErrRunNotFound = errors.New("garden: run not found")
)
