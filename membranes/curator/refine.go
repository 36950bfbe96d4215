package curator

import (
	"context"
	"fmt"
	"strings"

	"garden-of-memory/pkg/garden"
)

// handleFragmentCreated links one freshly committed fragment to similar
// committed beliefs of the same aspect.
//
// Rejected edge proposals are a normal outcome here: a candidate link can
// lose a race or close a cycle, and the ledger records that decision without
// failing the handler.
func (m *Membrane) handleFragmentCreated(ctx context.Context, event *garden.Event) error {
	if event == nil {
		return fmt.Errorf("curator handle event: nil event")
	}
	if event.Topic != garden.TopicFragmentCreated {
		return nil
	}
	if event.Fragment == nil {
		return fmt.Errorf("curator handle event %s: missing fragment payload", event.ID)
	}
	fragment := *event.Fragment
	if strings.TrimSpace(fragment.Content) == "" {
		return nil
	}
	if m.query == nil || m.proposer == nil {
		return fmt.Errorf("curator handle fragment %s: query service or proposer not configured", fragment.ID)
	}

	matches, err := m.query.Similar(ctx, fragment.Content, fragment.Aspect, m.maxLinks+1)
	if err != nil {
		return fmt.Errorf("curator similar lookup for fragment %s: %w", fragment.ID, err)
	}

	linked := 0
	for _, match := range matches {
		if linked >= m.maxLinks {
			break
		}
		if match.Fragment.ID == fragment.ID {
			continue
		}
		if match.Score < m.threshold {
			continue
		}

		draft := garden.EdgeDraft{
			FromFragmentID: match.Fragment.ID,
			ToFragmentID:   fragment.ID,
			Kind:           garden.KindIntegration,
			ContextRefs:    integrationContextRefs(fragment),
			DeltaNote:      fmt.Sprintf("integrates related %s belief (similarity %.2f)", fragment.Aspect, match.Score),
		}
		record, err := m.proposer.Propose(
			ctx,
			garden.OperationInsertEdge,
			garden.TransactionPayload{Edge: &draft},
			m.Name(),
		)
		if err != nil {
			return fmt.Errorf("curator propose integration edge for fragment %s: %w", fragment.ID, err)
		}
		if !record.Committed() {
			m.logger.DebugContext(ctx,
				"integration edge rejected",
				"fragment_id", fragment.ID,
				"candidate_id", match.Fragment.ID,
				"sequence_no", record.SequenceNo,
				"reason", record.Reason,
			)
			continue
		}

		linked++
		m.logger.DebugContext(ctx,
			"integration edge committed",
			"fragment_id", fragment.ID,
			"candidate_id", match.Fragment.ID,
			"edge_id", record.EdgeID,
			"sequence_no", record.SequenceNo,
		)
	}

	return nil
}

// integrationContextRefs derives opaque provenance refs for an automatic link.
func integrationContextRefs(fragment garden.Fragment) []string {
	if strings.TrimSpace(fragment.SourceRef) == "" {
		return nil
	}

	return []string{fragment.SourceRef}
}

// Handle executes one curation task.
func (m *Membrane) Handle(ctx context.Context, task garden.Task) (garden.TaskResult, error) {
	switch task.Capability {
	case CapabilityRefinement:
		return m.handleRefinement(ctx, task)
	case CapabilityReinforcement:
		return m.handleReinforcement(ctx, task)
	default:
		return garden.TaskResult{}, fmt.Errorf("curator handle task %s: unsupported capability %q", task.ID, task.Capability)
	}
}

func (m *Membrane) handleRefinement(ctx context.Context, task garden.Task) (garden.TaskResult, error) {
	if m.proposer == nil {
		return garden.TaskResult{}, fmt.Errorf("curator %s: proposer not configured", CapabilityRefinement)
	}

	fromID, err := requiredStringInput(task.Input, "from_fragment_id")
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("curator %s: %w", CapabilityRefinement, err)
	}
	toID, err := requiredStringInput(task.Input, "to_fragment_id")
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("curator %s: %w", CapabilityRefinement, err)
	}
	kind, err := refinementKindInput(task.Input, "kind")
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("curator %s: %w", CapabilityRefinement, err)
	}
	deltaNote, err := optionalStringInput(task.Input, "delta_note")
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("curator %s: %w", CapabilityRefinement, err)
	}
	contextRefs, err := optionalStringSliceInput(task.Input, "context_refs")
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("curator %s: %w", CapabilityRefinement, err)
	}

	draft := garden.EdgeDraft{
		FromFragmentID: fromID,
		ToFragmentID:   toID,
		Kind:           kind,
		ContextRefs:    contextRefs,
		DeltaNote:      deltaNote,
	}
	record, err := m.proposer.Propose(
		ctx,
		garden.OperationInsertEdge,
		garden.TransactionPayload{Edge: &draft},
		m.Name(),
	)
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("curator %s propose edge: %w", CapabilityRefinement, err)
	}

	return garden.TaskResult{Output: map[string]any{
		"outcome":     string(record.Outcome),
		"sequence_no": record.SequenceNo,
		"edge_id":     record.EdgeID,
		"reason":      record.Reason,
	}}, nil
}

func (m *Membrane) handleReinforcement(ctx context.Context, task garden.Task) (garden.TaskResult, error) {
	if m.proposer == nil {
		return garden.TaskResult{}, fmt.Errorf("curator %s: proposer not configured", CapabilityReinforcement)
	}

	fragmentID, err := requiredStringInput(task.Input, "fragment_id")
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("curator %s: %w", CapabilityReinforcement, err)
	}
	confidence, err := requiredFloatInput(task.Input, "confidence")
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("curator %s: %w", CapabilityReinforcement, err)
	}
	note, err := optionalStringInput(task.Input, "note")
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("curator %s: %w", CapabilityReinforcement, err)
	}

	amendment := garden.Amendment{
		FragmentID: fragmentID,
		Confidence: &confidence,
		Note:       note,
	}
	record, err := m.proposer.Propose(
		ctx,
		garden.OperationAmendFragment,
		garden.TransactionPayload{Amendment: &amendment},
		m.Name(),
	)
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("curator %s propose amendment: %w", CapabilityReinforcement, err)
	}

	return garden.TaskResult{Output: map[string]any{
		"outcome":     string(record.Outcome),
		"sequence_no": record.SequenceNo,
		"fragment_id": record.FragmentID,
		"reason":      record.Reason,
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

// refinementKindInput reads an edge kind input, integration when absent.
func refinementKindInput(input map[string]any, key string) (garden.RefinementKind, error) {
	value, err := optionalStringInput(input, key)
	if err != nil {
		return "", err
	}
	if value == "" {
		return garden.KindIntegration, nil
	}

	kind := garden.RefinementKind(strings.ToLower(value))
	if err := kind.Validate(); err != nil {
		return "", fmt.Errorf("input %q: %w", key, err)
	}

	return kind, nil
}

// requiredFloatInput reads a mandatory numeric task input.
func requiredFloatInput(input map[string]any, key string) (float64, error) {
	raw, exists := input[key]
	if !exists || raw == nil {
		return 0, fmt.Errorf("missing input %q", key)
	}

	switch typed := raw.(type) {
	case float64:
		return typed, nil
	case int:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	default:
		return 0, fmt.Errorf("input %q must be a number", key)
	}
}

// optionalStringSliceInput reads a string list input, nil when absent.
//
// Workflow definitions decode lists as []any; bindings may hand over []string.
func optionalStringSliceInput(input map[string]any, key string) ([]string, error) {
	raw, exists := input[key]
	if !exists || raw == nil {
		return nil, nil
	}

	switch typed := raw.(type) {
	case []string:
		return append([]string(nil), typed...), nil
	case []any:
		values := make([]string, 0, len(typed))
		for _, item := range typed {
			value, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("input %q must contain only strings", key)
			}
			values = append(values, value)
		}
		return values, nil
	default:
		return nil, fmt.Errorf("input %q must be a string list", key)
	}
}
