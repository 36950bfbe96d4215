package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"garden-of-memory/pkg/garden"
)

// Runner executes a configured list of workflows as a garden source.
//
// Runs execute sequentially in configuration order. The source is finite: it
// returns once every configured workflow reaches a terminal state, so a
// garden driven only by workflows drains and shuts down on its own.
type Runner struct {
	catalog      *Catalog
	orchestrator *Orchestrator
	workflows    []string
	logger       *slog.Logger
}

// NewRunner creates a runner over a catalog and orchestrator. workflows
// names the catalog entries to execute, in order.
func NewRunner(catalog *Catalog, orchestrator *Orchestrator, workflows []string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		catalog:      catalog,
		orchestrator: orchestrator,
		workflows:    append([]string(nil), workflows...),
		logger:       logger,
	}
}

// compile-time interface guard
var _ garden.Source = (*Runner)(nil)

// Name implements garden.Source.
func (r *Runner) Name() string { return "workflow-runner" }

// Start executes the configured workflows in order. The proposer is unused:
// workflow steps reach the substrate through membrane capabilities, never
// through direct proposals.
//
// A workflow that ends failed or partially failed is an outcome to record,
// not a source fault; the runner logs it and moves on. Context cancellation
// stops the in-flight run between steps and ends the source.
func (r *Runner) Start(ctx context.Context, _ garden.Proposer) error {
	for _, name := range r.workflows {
		if err := ctx.Err(); err != nil {
			return err
		}

		spec, err := r.catalog.Get(name)
		if err != nil {
			return fmt.Errorf("run workflow: %w", err)
		}

		run, err := r.orchestrator.Start(ctx, spec)
		if err != nil {
			return fmt.Errorf("run workflow %s: %w", name, err)
		}

		// Wait on a fresh context so the run goroutine always finishes
		// before the source returns.
		result, err := run.Wait(context.Background())
		if err != nil {
			return fmt.Errorf("run workflow %s: %w", name, err)
		}
		if ctx.Err() != nil && result.Reason == garden.RunReasonCancelled {
			return ctx.Err()
		}

		r.logger.Info("workflow finished",
			"workflow", result.Workflow,
			"run_id", result.RunID,
			"state", string(result.State),
			"reason", result.Reason,
		)
	}

	return nil
}

// Shutdown implements garden.Source. The runner holds no external resources.
func (r *Runner) Shutdown(context.Context) error { return nil }
