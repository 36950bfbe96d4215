package garden

import (
	"fmt"
	"strings"
	"time"
)

// Fragment is one committed belief statement in the hypergraph store.
//
// Content, Aspect, and CreatedAt are immutable after commit. Confidence and
// Keywords may change through a recorded amend-fragment transaction; nothing
// else mutates a fragment in place.
type Fragment struct {
	// ID is the store-assigned stable fragment identifier.
	ID string
	// Aspect places the fragment in one identity dimension.
	Aspect Aspect
	// Content is the belief statement text.
	Content string
	// Confidence scores the statement in [0, 1].
	Confidence float64
	// SourceRef is an opaque pointer to the provenance of the statement.
	SourceRef string
	// CreatedAt is the commit timestamp, monotonically non-decreasing
	// across the transaction log.
	CreatedAt time.Time
	// Keywords is the extracted keyword set, stored sorted.
	Keywords []string
	// OriginWorker names the worker whose proposal created the fragment.
	OriginWorker string
}

// FragmentDraft is the caller-supplied payload for an insert-fragment proposal.
//
// The ledger assigns ID, CreatedAt, and OriginWorker at commit. When Keywords
// is empty the ledger derives a keyword set from Content.
type FragmentDraft struct {
	Aspect     Aspect
	Content    string
	Confidence float64
	SourceRef  string
	Keywords   []string
}

// Validate checks draft invariants prior to proposal.
func (d FragmentDraft) Validate() error {
	if err := d.Aspect.Validate(); err != nil {
		return fmt.Errorf("validate fragment draft: %w", err)
	}
	if strings.TrimSpace(d.Content) == "" {
		return fmt.Errorf("validate fragment draft: empty content")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("validate fragment draft: confidence %v outside [0, 1]", d.Confidence)
	}

	return nil
}

// Amendment is the payload for an amend-fragment proposal.
//
// Only confidence and keywords are amendable. A nil field leaves the stored
// value unchanged; at least one field must be set.
type Amendment struct {
	// FragmentID identifies the fragment being amended.
	FragmentID string
	// Confidence is the replacement confidence when non-nil.
	Confidence *float64
	// Keywords is the replacement keyword set when non-nil.
	Keywords []string
	// Note carries optional context for why the amendment was made.
	Note string
}

// Validate checks amendment invariants prior to proposal.
func (a Amendment) Validate() error {
	if a.FragmentID == "" {
		return fmt.Errorf("validate amendment: missing fragment id")
	}
	if a.Confidence == nil && a.Keywords == nil {
		return fmt.Errorf("validate amendment: no amendable field set")
	}
	if a.Confidence != nil && (*a.Confidence < 0 || *a.Confidence > 1) {
		return fmt.Errorf("validate amendment: confidence %v outside [0, 1]", *a.Confidence)
	}

	return nil
}
