package garden

import (
	"fmt"
	"strings"
	"time"
)

// FailurePolicy selects how a run reacts to a failed step.
type FailurePolicy string

const (
	// FailurePolicyAbort stops the run at the failed step; later steps are skipped.
	FailurePolicyAbort FailurePolicy = "abort"
	// FailurePolicyContinue records the failure and proceeds to the next step.
	FailurePolicyContinue FailurePolicy = "continue"
)

// Validate checks that the policy is known. An empty policy is valid and
// normalizes to abort.
func (p FailurePolicy) Validate() error {
	switch p {
	case "", FailurePolicyAbort, FailurePolicyContinue:
		return nil
	default:
		return fmt.Errorf("validate failure policy: unknown policy %q", string(p))
	}
}

// StepSpec declares one sequential workflow step.
type StepSpec struct {
	// Name identifies the step inside its workflow, unique per workflow.
	Name string
	// Capability names the capability the step's task requires.
	Capability string
	// Input carries literal task parameters.
	Input map[string]any
	// Bindings maps input keys to prior step outputs as "step.outputKey".
	// Bound values overwrite literal inputs under the same key.
	Bindings map[string]string
	// OnFailure selects the failure policy; empty means abort.
	OnFailure FailurePolicy
}

// WorkflowSpec declares a named sequence of capability-addressed steps.
type WorkflowSpec struct {
	Name  string
	Steps []StepSpec
}

// Validate checks structural workflow invariants: unique step names,
// non-empty capabilities, bindings referencing earlier steps only.
func (s WorkflowSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("validate workflow: missing name")
	}

	seen := make(map[string]struct{}, len(s.Steps))
	for index, step := range s.Steps {
		if step.Name == "" {
			return fmt.Errorf("validate workflow %s: step %d has no name", s.Name, index)
		}
		if _, duplicate := seen[step.Name]; duplicate {
			return fmt.Errorf("validate workflow %s: duplicate step %s", s.Name, step.Name)
		}
		if step.Capability == "" {
			return fmt.Errorf("validate workflow %s: step %s has no capability", s.Name, step.Name)
		}
		if err := step.OnFailure.Validate(); err != nil {
			return fmt.Errorf("validate workflow %s: step %s: %w", s.Name, step.Name, err)
		}
		for key, reference := range step.Bindings {
			sourceStep, _, err := SplitBinding(reference)
			if err != nil {
				return fmt.Errorf("validate workflow %s: step %s binding %s: %w", s.Name, step.Name, key, err)
			}
			if _, earlier := seen[sourceStep]; !earlier {
				return fmt.Errorf("validate workflow %s: step %s binding %s references %s which is not an earlier step", s.Name, step.Name, key, sourceStep)
			}
		}
		seen[step.Name] = struct{}{}
	}

	return nil
}

// SplitBinding splits a "step.outputKey" binding reference into its parts.
func SplitBinding(reference string) (step string, outputKey string, err error) {
	step, outputKey, found := strings.Cut(reference, ".")
	if !found || step == "" || outputKey == "" {
		return "", "", fmt.Errorf("split binding: malformed reference %q", reference)
	}

	return step, outputKey, nil
}

// RunState is the lifecycle state of one workflow run.
type RunState string

const (
	// RunStatePending marks a run that has not started executing steps.
	RunStatePending RunState = "pending"
	// RunStateRunning marks a run with a step in flight or steps remaining.
	RunStateRunning RunState = "running"
	// RunStateCompleted marks a run whose steps all succeeded.
	RunStateCompleted RunState = "completed"
	// RunStateFailed marks a run stopped by an aborting failure or cancellation.
	RunStateFailed RunState = "failed"
	// RunStatePartiallyFailed marks a finished run with continue-policy failures.
	RunStatePartiallyFailed RunState = "partially_failed"
)

// RunReasonCancelled is the run failure reason recorded for cancellations.
const RunReasonCancelled = "cancelled"

// StepState is the terminal disposition of one step within a run.
type StepState string

const (
	// StepStateCompleted marks a successfully dispatched and handled step.
	StepStateCompleted StepState = "completed"
	// StepStateFailed marks a step whose task ended in a failure outcome.
	StepStateFailed StepState = "failed"
	// StepStateSkipped marks a step never dispatched because the run stopped first.
	StepStateSkipped StepState = "skipped"
)

// StepOutcome records the terminal disposition of one step.
type StepOutcome struct {
	// Name is the step name from the workflow spec.
	Name string
	// Capability is the capability the step addressed.
	Capability string
	// WorkerID names the worker that handled the step, when one was selected.
	WorkerID string
	// State is the terminal step state.
	State StepState
	// Output carries the task result for completed steps.
	Output map[string]any
	// FailureReason carries the failure cause for failed steps.
	FailureReason string
	// StartedAt is the dispatch time; zero for skipped steps.
	StartedAt time.Time
	// FinishedAt is the decision time; zero for skipped steps.
	FinishedAt time.Time
}

// RunResult is the terminal summary of one workflow run.
type RunResult struct {
	// RunID identifies the run.
	RunID string
	// Workflow names the executed workflow spec.
	Workflow string
	// State is the terminal run state.
	State RunState
	// Reason carries context for failed and partially failed runs.
	Reason string
	// Steps records one outcome per declared step, in declaration order.
	Steps []StepOutcome
	// StartedAt is when the run left pending.
	StartedAt time.Time
	// FinishedAt is when the run reached its terminal state.
	FinishedAt time.Time
}
