package garden

import (
	"fmt"
	"time"
)

// Topic identifies one event stream on the bus.
type Topic string

const (
	// TopicFragmentCreated is emitted after an insert-fragment proposal commits.
	TopicFragmentCreated Topic = "fragment.created"
	// TopicEdgeCreated is emitted after an insert-edge proposal commits.
	TopicEdgeCreated Topic = "edge.created"
	// TopicFragmentAmended is emitted after an amend-fragment proposal commits.
	TopicFragmentAmended Topic = "fragment.amended"
	// TopicTaskRequested is emitted when a task is handed to a worker.
	TopicTaskRequested Topic = "task.requested"
	// TopicTaskCompleted is emitted when a worker finishes a task successfully.
	TopicTaskCompleted Topic = "task.completed"
	// TopicTaskFailed is emitted when a task ends in a failure outcome.
	TopicTaskFailed Topic = "task.failed"
	// TopicWorkflowFinished is emitted once per run when a workflow reaches a
	// terminal state.
	TopicWorkflowFinished Topic = "workflow.finished"
)

// Event is the neutral envelope that the substrate publishes and membranes consume.
//
// Fragment, Edge, Amendment, Task, and Workflow are optional payload branches
// selected by Topic. Store-change events are published strictly after their
// transaction commits; consumers observe committed state only.
type Event struct {
	// ID is a stable identifier for this event instance.
	ID string
	// Topic selects which payload branch is expected.
	Topic Topic
	// OccurredAt is the publication timestamp.
	OccurredAt time.Time
	// Origin names the worker or component that caused the event.
	Origin string
	// SequenceNo carries the ledger sequence for store-change topics.
	SequenceNo uint64
	// Fragment carries the committed fragment for fragment.created and the
	// post-amendment snapshot for fragment.amended.
	Fragment *Fragment
	// Edge carries the committed edge for edge.created.
	Edge *RefinementEdge
	// Amendment carries the applied change set for fragment.amended.
	Amendment *Amendment
	// Task carries lifecycle context for task.* topics.
	Task *TaskActivity
	// Workflow carries the terminal summary for workflow.finished.
	Workflow *WorkflowActivity
	// Metadata stores optional publisher-provided key/value context.
	Metadata map[string]string
}

// TaskActivity carries task lifecycle context for task.* topics.
type TaskActivity struct {
	// Task is the dispatched task as handed to the worker.
	Task Task
	// WorkerID names the worker selected for the task, when one was resolved.
	WorkerID string
	// FailureReason carries the failure cause for task.failed.
	FailureReason string
}

// WorkflowActivity carries the terminal run summary for workflow.finished.
type WorkflowActivity struct {
	// RunID identifies the finished run.
	RunID string
	// Workflow names the workflow specification.
	Workflow string
	// State is the terminal run state.
	State RunState
	// Reason carries context for failed and partially failed runs.
	Reason string
}

// Validate checks event envelope and payload coherence.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Topic == "" {
		return fmt.Errorf("%w: missing topic", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}

	return validatePayloadByTopic(e)
}

// validatePayloadByTopic enforces payload branch requirements for each topic.
func validatePayloadByTopic(e *Event) error {
	switch e.Topic {
	case TopicFragmentCreated:
		if e.Fragment == nil {
			return fmt.Errorf("%w: fragment.created requires fragment payload", ErrInvalidEvent)
		}
	case TopicEdgeCreated:
		if e.Edge == nil {
			return fmt.Errorf("%w: edge.created requires edge payload", ErrInvalidEvent)
		}
	case TopicFragmentAmended:
		if e.Fragment == nil || e.Amendment == nil {
			return fmt.Errorf("%w: fragment.amended requires fragment and amendment payloads", ErrInvalidEvent)
		}
	case TopicTaskRequested, TopicTaskCompleted, TopicTaskFailed:
		if e.Task == nil {
			return fmt.Errorf("%w: task event requires task payload", ErrInvalidEvent)
		}
	case TopicWorkflowFinished:
		if e.Workflow == nil {
			return fmt.Errorf("%w: workflow.finished requires workflow payload", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unsupported topic %q", ErrInvalidEvent, e.Topic)
	}

	return nil
}

// AspectOf returns the aspect the event's store payload belongs to.
//
// Task and workflow events carry no aspect; ok is false for those.
func (e *Event) AspectOf() (Aspect, bool) {
	if e == nil {
		return "", false
	}
	if e.Fragment != nil {
		return e.Fragment.Aspect, true
	}
	if e.Edge != nil {
		return e.Edge.Aspect, true
	}

	return "", false
}
