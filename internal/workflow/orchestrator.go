// Package workflow executes declarative multi-step routines over the task
// dispatcher.
//
// A workflow is a named sequence of capability-addressed steps. The
// orchestrator runs steps strictly in declaration order, feeds prior step
// outputs into later inputs through bindings, and reduces every run to one
// terminal RunResult. Cancellation is cooperative: it is honored between
// steps, so a step already handed to a worker always runs to its own outcome.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"garden-of-memory/pkg/garden"
)

// orchestratorOrigin marks events emitted by the orchestrator itself.
const orchestratorOrigin = "garden.orchestrator"

// Orchestrator executes workflow specifications as sequential runs.
type Orchestrator struct {
	dispatcher garden.TaskDispatcher
	events     garden.EventSink
	logger     *slog.Logger
	newID      func() string
	clock      func() time.Time

	mu   sync.Mutex
	runs map[string]*Run
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// withClock replaces the time source for tests.
func withClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

// withIDGenerator replaces the run and task identifier source for tests.
func withIDGenerator(generate func() string) Option {
	return func(o *Orchestrator) {
		o.newID = generate
	}
}

// NewOrchestrator creates an orchestrator over a task dispatcher. The event
// sink receives one workflow.finished event per run and may be nil.
func NewOrchestrator(dispatcher garden.TaskDispatcher, events garden.EventSink, options ...Option) *Orchestrator {
	orchestrator := &Orchestrator{
		dispatcher: dispatcher,
		events:     events,
		logger:     slog.Default(),
		newID:      uuid.NewString,
		clock:      time.Now,
		runs:       make(map[string]*Run),
	}
	for _, option := range options {
		option(orchestrator)
	}

	return orchestrator
}

// Run is a handle to one in-flight or finished workflow run.
type Run struct {
	id       string
	workflow string

	cancelOnce sync.Once
	cancelled  chan struct{}

	done   chan struct{}
	result garden.RunResult
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Workflow returns the name of the workflow the run executes.
func (r *Run) Workflow() string { return r.workflow }

// Cancel requests cooperative cancellation. The step currently in flight
// finishes; steps not yet dispatched are skipped and the run ends failed with
// the cancelled reason. Cancelling a finished run has no effect.
func (r *Run) Cancel() {
	r.cancelOnce.Do(func() { close(r.cancelled) })
}

// Wait blocks until the run reaches a terminal state or ctx is done.
func (r *Run) Wait(ctx context.Context) (garden.RunResult, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return garden.RunResult{}, fmt.Errorf("wait for run %s: %w", r.id, ctx.Err())
	}
}

// Start validates the specification and launches its run in a new goroutine.
// The returned handle observes and cancels the run.
func (o *Orchestrator) Start(ctx context.Context, spec garden.WorkflowSpec) (*Run, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("start workflow %s: %w", spec.Name, err)
	}

	run := &Run{
		id:        o.newID(),
		workflow:  spec.Name,
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}

	o.mu.Lock()
	o.runs[run.id] = run
	o.mu.Unlock()

	go o.execute(ctx, spec, run)

	return run, nil
}

// Execute starts the workflow and blocks until its terminal result.
func (o *Orchestrator) Execute(ctx context.Context, spec garden.WorkflowSpec) (garden.RunResult, error) {
	run, err := o.Start(ctx, spec)
	if err != nil {
		return garden.RunResult{}, err
	}

	return run.Wait(ctx)
}

// Cancel requests cancellation of a tracked run by identifier. Finished runs
// are no longer tracked and report ErrRunNotFound.
func (o *Orchestrator) Cancel(runID string) error {
	o.mu.Lock()
	run, tracked := o.runs[runID]
	o.mu.Unlock()

	if !tracked {
		return fmt.Errorf("cancel run %s: %w", runID, garden.ErrRunNotFound)
	}
	run.Cancel()

	return nil
}

// execute drives one run to its terminal state and closes the handle.
func (o *Orchestrator) execute(ctx context.Context, spec garden.WorkflowSpec, run *Run) {
	result := garden.RunResult{
		RunID:     run.id,
		Workflow:  spec.Name,
		State:     garden.RunStateRunning,
		StartedAt: o.clock().UTC(),
		Steps:     make([]garden.StepOutcome, 0, len(spec.Steps)),
	}
	outputs := make(map[string]map[string]any, len(spec.Steps))

	var (
		cancelled   bool
		abortReason string
		failedSteps []string
	)

	for _, step := range spec.Steps {
		if !cancelled && abortReason == "" {
			select {
			case <-run.cancelled:
				cancelled = true
			case <-ctx.Done():
				cancelled = true
			default:
			}
		}
		if cancelled || abortReason != "" {
			result.Steps = append(result.Steps, garden.StepOutcome{
				Name:       step.Name,
				Capability: step.Capability,
				State:      garden.StepStateSkipped,
			})

			continue
		}

		outcome := o.runStep(ctx, run, step, outputs)
		result.Steps = append(result.Steps, outcome)

		switch outcome.State {
		case garden.StepStateCompleted:
			outputs[step.Name] = outcome.Output
		case garden.StepStateFailed:
			failedSteps = append(failedSteps, step.Name)
			if step.OnFailure != garden.FailurePolicyContinue {
				abortReason = fmt.Sprintf("step %s: %s", step.Name, outcome.FailureReason)
			}
		}
	}

	switch {
	case cancelled:
		result.State = garden.RunStateFailed
		result.Reason = garden.RunReasonCancelled
	case abortReason != "":
		result.State = garden.RunStateFailed
		result.Reason = abortReason
	case len(failedSteps) > 0:
		result.State = garden.RunStatePartiallyFailed
		result.Reason = fmt.Sprintf("steps failed: %s", strings.Join(failedSteps, ", "))
	default:
		result.State = garden.RunStateCompleted
	}
	result.FinishedAt = o.clock().UTC()

	o.publishFinished(ctx, result)

	o.mu.Lock()
	delete(o.runs, run.id)
	o.mu.Unlock()

	run.result = result
	close(run.done)
}

// runStep resolves the step input and dispatches its task. Binding
// resolution failures are step failures like any worker failure.
func (o *Orchestrator) runStep(
	ctx context.Context,
	run *Run,
	step garden.StepSpec,
	outputs map[string]map[string]any,
) garden.StepOutcome {
	outcome := garden.StepOutcome{
		Name:       step.Name,
		Capability: step.Capability,
		StartedAt:  o.clock().UTC(),
	}

	input, err := resolveInput(step, outputs)
	if err != nil {
		outcome.State = garden.StepStateFailed
		outcome.FailureReason = err.Error()
		outcome.FinishedAt = o.clock().UTC()

		return outcome
	}

	result, err := o.dispatcher.Dispatch(ctx, garden.Task{
		ID:         o.newID(),
		Capability: step.Capability,
		Input:      input,
		RunID:      run.id,
		Step:       step.Name,
	})
	outcome.FinishedAt = o.clock().UTC()
	if err != nil {
		outcome.State = garden.StepStateFailed
		outcome.FailureReason = err.Error()

		return outcome
	}

	outcome.State = garden.StepStateCompleted
	outcome.Output = result.Output
	outcome.WorkerID = result.WorkerID

	return outcome
}

// resolveInput merges literal step inputs with bound prior outputs. Bound
// values overwrite literals under the same key.
func resolveInput(step garden.StepSpec, outputs map[string]map[string]any) (map[string]any, error) {
	if len(step.Input) == 0 && len(step.Bindings) == 0 {
		return nil, nil
	}

	input := make(map[string]any, len(step.Input)+len(step.Bindings))
	for key, value := range step.Input {
		input[key] = value
	}
	for key, reference := range step.Bindings {
		sourceStep, outputKey, err := garden.SplitBinding(reference)
		if err != nil {
			return nil, fmt.Errorf("resolve step %s input %s: %w", step.Name, key, err)
		}
		produced, ran := outputs[sourceStep]
		if !ran {
			return nil, fmt.Errorf("resolve step %s input %s: step %s produced no output", step.Name, key, sourceStep)
		}
		value, present := produced[outputKey]
		if !present {
			return nil, fmt.Errorf("resolve step %s input %s: step %s has no output %s", step.Name, key, sourceStep, outputKey)
		}
		input[key] = value
	}

	return input, nil
}

// publishFinished emits the terminal workflow.finished event. Delivery is
// best effort and survives run context cancellation.
func (o *Orchestrator) publishFinished(ctx context.Context, result garden.RunResult) {
	if o.events == nil {
		return
	}

	event := &garden.Event{
		ID:         o.newID(),
		Topic:      garden.TopicWorkflowFinished,
		OccurredAt: o.clock().UTC(),
		Origin:     orchestratorOrigin,
		Workflow: &garden.WorkflowActivity{
			RunID:    result.RunID,
			Workflow: result.Workflow,
			State:    result.State,
			Reason:   result.Reason,
		},
	}
	if err := o.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		o.logger.Warn("workflow finished event dropped",
			"run_id", result.RunID,
			"workflow", result.Workflow,
			"error", err,
		)
	}
}
