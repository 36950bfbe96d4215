package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"garden-of-memory/pkg/garden"
)

// dispatcherOrigin marks task lifecycle events emitted before a worker is selected.
const dispatcherOrigin = "garden.dispatcher"

// Dispatcher routes tasks to capability workers and publishes their lifecycle.
//
// Worker errors, panics, and timeouts surface as ErrWorkerFailure; a missing
// capability surfaces as ErrCapabilityUnavailable. Neither crashes the
// caller, and both produce a task.failed event for observers.
type Dispatcher struct {
	registry    garden.CapabilityRegistry
	strategy    garden.SelectionStrategy
	events      garden.EventSink
	taskTimeout time.Duration
	reportAsync func(context.Context, string, error)
	newID       func() string
	clock       func() time.Time
}

// NewDispatcher creates a dispatcher over a capability registry.
func NewDispatcher(
	registry garden.CapabilityRegistry,
	strategy garden.SelectionStrategy,
	events garden.EventSink,
	taskTimeout time.Duration,
	reportAsync func(context.Context, string, error),
) *Dispatcher {
	if strategy == nil {
		strategy = garden.FirstRegistered
	}

	return &Dispatcher{
		registry:    registry,
		strategy:    strategy,
		events:      events,
		taskTimeout: taskTimeout,
		reportAsync: reportAsync,
		newID:       uuid.NewString,
		clock:       time.Now,
	}
}

// compile-time interface guard
var _ garden.TaskDispatcher = (*Dispatcher)(nil)

// Dispatch resolves one capable worker and executes the task.
func (d *Dispatcher) Dispatch(ctx context.Context, task garden.Task) (garden.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return garden.TaskResult{}, fmt.Errorf("dispatch task: %w", err)
	}
	if task.Capability == "" {
		return garden.TaskResult{}, fmt.Errorf("dispatch task: empty capability")
	}
	if task.ID == "" {
		task.ID = d.newID()
	}

	d.publishTaskEvent(ctx, garden.TopicTaskRequested, dispatcherOrigin, task, "", "")

	candidates := d.registry.Find(task.Capability)
	if len(candidates) == 0 {
		err := fmt.Errorf("dispatch task %s: %w: %s", task.ID, garden.ErrCapabilityUnavailable, task.Capability)
		d.publishTaskEvent(ctx, garden.TopicTaskFailed, dispatcherOrigin, task, "", err.Error())

		return garden.TaskResult{}, err
	}
	worker := d.strategy(task.Capability, candidates)

	taskCtx := ctx
	cancel := func() {}
	if d.taskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, d.taskTimeout)
	}
	defer cancel()

	var result garden.TaskResult
	scope := fmt.Sprintf("worker %s capability %s", worker.Name(), task.Capability)
	err := runSafely(scope, func() error {
		handled, handleErr := worker.Handle(taskCtx, task)
		if handleErr != nil {
			return handleErr
		}
		result = handled

		return nil
	})
	if err != nil {
		failure := fmt.Errorf("dispatch task %s: %w: %v", task.ID, garden.ErrWorkerFailure, err)
		d.publishTaskEvent(ctx, garden.TopicTaskFailed, worker.Name(), task, worker.Name(), failure.Error())

		return garden.TaskResult{}, failure
	}
	result.WorkerID = worker.Name()

	d.publishTaskEvent(ctx, garden.TopicTaskCompleted, worker.Name(), task, worker.Name(), "")

	return result, nil
}

// publishTaskEvent emits one task lifecycle event. Delivery is best effort;
// task execution outcome never depends on observers.
func (d *Dispatcher) publishTaskEvent(
	ctx context.Context,
	topic garden.Topic,
	origin string,
	task garden.Task,
	workerID string,
	failureReason string,
) {
	if d.events == nil {
		return
	}

	event := &garden.Event{
		ID:         d.newID(),
		Topic:      topic,
		OccurredAt: d.clock().UTC(),
		Origin:     origin,
		Task: &garden.TaskActivity{
			Task:          task,
			WorkerID:      workerID,
			FailureReason: failureReason,
		},
	}
	if err := d.events.Publish(ctx, event); err != nil && d.reportAsync != nil {
		d.reportAsync(ctx, fmt.Sprintf("task event %s", topic), err)
	}
}
