// Package recall serves read-only memory queries as dispatchable tasks.
//
// The recall membrane is the retrieval surface of the garden: workflows ask it
// for similarity recall, refinement chains, store summaries, and transaction
// history without ever touching the store directly.
package recall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"garden-of-memory/pkg/garden"
)

const (
	// CapabilityRecall serves keyword similarity recall over committed fragments.
	CapabilityRecall = "memory-recall"
	// CapabilityChain serves the refinement ancestry of one fragment.
	CapabilityChain = "memory-chain"
	// CapabilityStats serves store and synchronization summaries.
	CapabilityStats = "memory-stats"
	// CapabilityHistory serves recent transaction log records.
	CapabilityHistory = "memory-history"

	defaultRecallLimit  = 5
	defaultHistoryLimit = 20
)

// Option mutates recall membrane configuration.
type Option func(*Membrane)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(membrane *Membrane) {
		if logger != nil {
			membrane.logger = logger
		}
	}
}

// WithRecallLimit sets the default match count when tasks omit a limit.
func WithRecallLimit(limit int) Option {
	return func(membrane *Membrane) {
		if limit > 0 {
			membrane.recallLimit = limit
		}
	}
}

// WithHistoryLimit sets the default record count when tasks omit a limit.
func WithHistoryLimit(limit int) Option {
	return func(membrane *Membrane) {
		if limit > 0 {
			membrane.historyLimit = limit
		}
	}
}

// Membrane answers memory retrieval tasks from committed store state.
type Membrane struct {
	logger       *slog.Logger
	query        garden.QueryService
	ledger       garden.TransactionLog
	recallLimit  int
	historyLimit int
}

// New creates a recall membrane.
func New(options ...Option) *Membrane {
	membrane := &Membrane{
		logger:       slog.Default(),
		recallLimit:  defaultRecallLimit,
		historyLimit: defaultHistoryLimit,
	}
	for _, option := range options {
		option(membrane)
	}

	return membrane
}

// Name returns the stable membrane identifier.
func (m *Membrane) Name() string {
	return "recall"
}

// Spec declares the retrieval capabilities this membrane advertises.
func (m *Membrane) Spec() garden.MembraneSpec {
	return garden.MembraneSpec{
		AdditionalCapabilities: []garden.Capability{
			{
				Name:             CapabilityRecall,
				Description:      "recalls committed fragments by keyword similarity",
				RequiredServices: []string{garden.ServiceQuery},
			},
			{
				Name:             CapabilityChain,
				Description:      "returns the refinement ancestry of one fragment",
				RequiredServices: []string{garden.ServiceQuery},
			},
			{
				Name:             CapabilityStats,
				Description:      "summarizes store contents and synchronization outcomes",
				RequiredServices: []string{garden.ServiceQuery, garden.ServiceLedger},
			},
			{
				Name:             CapabilityHistory,
				Description:      "returns recent transaction log records",
				RequiredServices: []string{garden.ServiceLedger},
			},
		},
	}
}

// OnRegister resolves the query and ledger services.
func (m *Membrane) OnRegister(_ context.Context, runtime garden.MembraneRuntime) error {
	logger, err := garden.ResolveAs[*slog.Logger](runtime.Services(), garden.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
	case errors.Is(err, garden.ErrServiceNotFound):
	default:
		return fmt.Errorf("recall resolve logger: %w", err)
	}

	query, err := garden.ResolveAs[garden.QueryService](runtime.Services(), garden.ServiceQuery)
	if err != nil {
		return fmt.Errorf("recall resolve query service: %w", err)
	}
	m.query = query

	ledger, err := garden.ResolveAs[garden.TransactionLog](runtime.Services(), garden.ServiceLedger)
	if err != nil {
		return fmt.Errorf("recall resolve transaction log: %w", err)
	}
	m.ledger = ledger

	return nil
}

// OnStart starts the membrane lifecycle.
func (m *Membrane) OnStart(ctx context.Context) error {
	m.logger.InfoContext(ctx,
		"recall membrane started",
		"membrane", m.Name(),
		"recall_limit", m.recallLimit,
		"history_limit", m.historyLimit,
	)

	return nil
}

// OnShutdown stops the membrane lifecycle.
func (m *Membrane) OnShutdown(_ context.Context) error {
	return nil
}

// Handle executes one retrieval task.
func (m *Membrane) Handle(ctx context.Context, task garden.Task) (garden.TaskResult, error) {
	switch task.Capability {
	case CapabilityRecall:
		return m.handleRecall(ctx, task)
	case CapabilityChain:
		return m.handleChain(ctx, task)
	case CapabilityStats:
		return m.handleStats(ctx)
	case CapabilityHistory:
		return m.handleHistory(ctx, task)
	default:
		return garden.TaskResult{}, fmt.Errorf("recall handle task %s: unsupported capability %q", task.ID, task.Capability)
	}
}

func (m *Membrane) handleRecall(ctx context.Context, task garden.Task) (garden.TaskResult, error) {
	if m.query == nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s: query service not configured", CapabilityRecall)
	}

	queryText, err := requiredStringInput(task.Input, "query")
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s: %w", CapabilityRecall, err)
	}
	aspect, err := optionalAspectInput(task.Input, "aspect")
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s: %w", CapabilityRecall, err)
	}
	limit, err := optionalIntInput(task.Input, "limit", m.recallLimit)
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s: %w", CapabilityRecall, err)
	}

	matches, err := m.query.Similar(ctx, queryText, aspect, limit)
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s similar query: %w", CapabilityRecall, err)
	}

	results := make([]map[string]any, 0, len(matches))
	for _, match := range matches {
		results = append(results, map[string]any{
			"fragment_id": match.Fragment.ID,
			"aspect":      string(match.Fragment.Aspect),
			"content":     match.Fragment.Content,
			"confidence":  match.Fragment.Confidence,
			"score":       match.Score,
		})
	}

	return garden.TaskResult{Output: map[string]any{
		"query":   queryText,
		"matches": results,
		"count":   len(results),
	}}, nil
}

func (m *Membrane) handleChain(ctx context.Context, task garden.Task) (garden.TaskResult, error) {
	if m.query == nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s: query service not configured", CapabilityChain)
	}

	fragmentID, err := requiredStringInput(task.Input, "fragment_id")
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s: %w", CapabilityChain, err)
	}

	fragment, err := m.query.GetFragment(ctx, fragmentID)
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s get fragment: %w", CapabilityChain, err)
	}
	chain, err := m.query.Chain(ctx, fragmentID)
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s chain query: %w", CapabilityChain, err)
	}

	edges := make([]map[string]any, 0, len(chain))
	for _, edge := range chain {
		edges = append(edges, map[string]any{
			"edge_id":    edge.ID,
			"from":       edge.FromFragmentID,
			"to":         edge.ToFragmentID,
			"kind":       string(edge.Kind),
			"delta_note": edge.DeltaNote,
		})
	}

	return garden.TaskResult{Output: map[string]any{
		"fragment_id": fragment.ID,
		"aspect":      string(fragment.Aspect),
		"content":     fragment.Content,
		"chain":       edges,
		"depth":       len(edges),
	}}, nil
}

func (m *Membrane) handleStats(ctx context.Context) (garden.TaskResult, error) {
	if m.query == nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s: query service not configured", CapabilityStats)
	}
	if m.ledger == nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s: transaction log not configured", CapabilityStats)
	}

	storeStats, err := m.query.Stats(ctx)
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s store stats: %w", CapabilityStats, err)
	}
	syncStats, err := m.ledger.SyncStats(ctx)
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s sync stats: %w", CapabilityStats, err)
	}

	perAspect := make(map[string]int, len(storeStats.PerAspectFragments))
	for aspect, count := range storeStats.PerAspectFragments {
		perAspect[string(aspect)] = count
	}
	perKind := make(map[string]int, len(storeStats.PerKindEdges))
	for kind, count := range storeStats.PerKindEdges {
		perKind[string(kind)] = count
	}
	perWorker := make(map[string]map[string]any, len(syncStats.PerWorker))
	for workerID, stats := range syncStats.PerWorker {
		perWorker[workerID] = map[string]any{
			"proposed":     stats.Proposed,
			"committed":    stats.Committed,
			"rejected":     stats.Rejected,
			"success_rate": stats.SuccessRate,
		}
	}

	return garden.TaskResult{Output: map[string]any{
		"fragment_count":       storeStats.FragmentCount,
		"edge_count":           storeStats.EdgeCount,
		"per_aspect_fragments": perAspect,
		"per_kind_edges":       perKind,
		"total_proposals":      syncStats.TotalProposals,
		"committed":            syncStats.Committed,
		"rejected":             syncStats.Rejected,
		"per_worker":           perWorker,
	}}, nil
}

func (m *Membrane) handleHistory(ctx context.Context, task garden.Task) (garden.TaskResult, error) {
	if m.ledger == nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s: transaction log not configured", CapabilityHistory)
	}

	workerID, err := optionalStringInput(task.Input, "worker_id")
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s: %w", CapabilityHistory, err)
	}
	limit, err := optionalIntInput(task.Input, "limit", m.historyLimit)
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s: %w", CapabilityHistory, err)
	}

	records, err := m.ledger.History(ctx, workerID, limit)
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("recall %s history query: %w", CapabilityHistory, err)
	}

	entries := make([]map[string]any, 0, len(records))
	for _, record := range records {
		entries = append(entries, map[string]any{
			"sequence_no": record.SequenceNo,
			"operation":   string(record.Operation),
			"worker_id":   record.WorkerID,
			"outcome":     string(record.Outcome),
			"reason":      record.Reason,
		})
	}

	return garden.TaskResult{Output: map[string]any{
		"records": entries,
		"count":   len(entries),
	}}, nil
}

// requiredStringInput reads a mandatory non-empty string task input.
func requiredStringInput(input map[string]any, key string) (string, error) {
	value, err := optionalStringInput(input, key)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", fmt.Errorf("missing input %q", key)
	}

	return value, nil
}

// optionalStringInput reads a string task input, empty when absent.
func optionalStringInput(input map[string]any, key string) (string, error) {
	raw, exists := input[key]
	if !exists || raw == nil {
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("input %q must be a string", key)
	}

	return strings.TrimSpace(value), nil
}

// optionalAspectInput reads and validates an aspect task input.
func optionalAspectInput(input map[string]any, key string) (garden.Aspect, error) {
	value, err := optionalStringInput(input, key)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", nil
	}

	aspect := garden.Aspect(strings.ToLower(value))
	if err := aspect.Validate(); err != nil {
		return "", fmt.Errorf("input %q: %w", key, err)
	}

	return aspect, nil
}

// optionalIntInput reads a positive integer task input with a fallback.
//
// Workflow definitions decode numbers as int while binding-resolved outputs
// may carry them as int64 or float64; all three are accepted.
func optionalIntInput(input map[string]any, key string, fallback int) (int, error) {
	raw, exists := input[key]
	if !exists || raw == nil {
		return fallback, nil
	}

	var value int
	switch typed := raw.(type) {
	case int:
		value = typed
	case int64:
		value = int(typed)
	case float64:
		value = int(typed)
	default:
		return 0, fmt.Errorf("input %q must be an integer", key)
	}
	if value <= 0 {
		return 0, fmt.Errorf("input %q must be > 0", key)
	}

	return value, nil
}

var (
	_ garden.Membrane          = (*Membrane)(nil)
	_ garden.MembraneRegistrar = (*Membrane)(nil)
)
