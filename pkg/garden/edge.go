package garden

import (
	"fmt"
	"time"
)

// RefinementKind classifies how the target fragment refines the source fragment.
type RefinementKind string

const (
	// KindInitialDefinition marks the first articulation of a belief.
	KindInitialDefinition RefinementKind = "initial-definition"
	// KindElaboration marks an expansion that adds detail to a prior belief.
	KindElaboration RefinementKind = "elaboration"
	// KindCorrection marks a statement that supersedes a prior belief.
	KindCorrection RefinementKind = "correction"
	// KindIntegration marks a synthesis of previously separate beliefs.
	KindIntegration RefinementKind = "integration"
	// KindEmergence marks a belief that surfaced from accumulated context.
	KindEmergence RefinementKind = "emergence"
)

// RefinementKinds returns the closed kind set in stable lexicographic order.
func RefinementKinds() []RefinementKind {
	return []RefinementKind{
		KindCorrection,
		KindElaboration,
		KindEmergence,
		KindInitialDefinition,
		KindIntegration,
	}
}

// Validate checks that the kind belongs to the closed set.
func (k RefinementKind) Validate() error {
	switch k {
	case KindInitialDefinition, KindElaboration, KindCorrection, KindIntegration, KindEmergence:
		return nil
	default:
		return fmt.Errorf("validate refinement kind: unknown kind %q", string(k))
	}
}

// RefinementEdge records one refinement relationship between two fragments.
//
// Both endpoints share the edge's aspect; the per-aspect edge set always
// forms a directed acyclic graph. Edges are immutable after commit.
type RefinementEdge struct {
	// ID is the store-assigned stable edge identifier.
	ID string
	// Aspect equals the aspect of both endpoint fragments.
	Aspect Aspect
	// FromFragmentID is the refined (earlier) fragment.
	FromFragmentID string
	// ToFragmentID is the refining (later) fragment.
	ToFragmentID string
	// Kind classifies the refinement.
	Kind RefinementKind
	// Timestamp is the commit timestamp.
	Timestamp time.Time
	// ContextRefs are opaque pointers to material that motivated the refinement.
	ContextRefs []string
	// DeltaNote summarizes what changed between the endpoints.
	DeltaNote string
}

// EdgeDraft is the caller-supplied payload for an insert-edge proposal.
//
// The ledger assigns ID and Timestamp at commit and derives Aspect from the
// endpoint fragments.
type EdgeDraft struct {
	FromFragmentID string
	ToFragmentID   string
	Kind           RefinementKind
	ContextRefs    []string
	DeltaNote      string
}

// Validate checks draft invariants prior to proposal.
func (d EdgeDraft) Validate() error {
	if d.FromFragmentID == "" {
		return fmt.Errorf("validate edge draft: missing from fragment id")
	}
	if d.ToFragmentID == "" {
		return fmt.Errorf("validate edge draft: missing to fragment id")
	}
	if err := d.Kind.Validate(); err != nil {
		return fmt.Errorf("validate edge draft: %w", err)
	}

	return nil
}
