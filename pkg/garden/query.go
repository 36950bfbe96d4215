package garden

import "context"

// ServiceQuery is the canonical service registry key for read-only store access.
const ServiceQuery = "garden.query"

// FragmentFilter narrows a fragment query. Zero-valued fields are ignored.
type FragmentFilter struct {
	// Aspect keeps fragments of one aspect.
	Aspect Aspect
	// MinConfidence keeps fragments with confidence >= the threshold.
	MinConfidence float64
	// OriginWorker keeps fragments proposed by one worker.
	OriginWorker string
	// SortByConfidence orders results by descending confidence instead of
	// the default commit order.
	SortByConfidence bool
	// Limit truncates the result when > 0.
	Limit int
}

// EdgeFilter narrows an edge query. Zero-valued fields are ignored.
type EdgeFilter struct {
	// Aspect keeps edges of one aspect.
	Aspect Aspect
	// FromFragmentID keeps edges leaving one fragment.
	FromFragmentID string
	// ToFragmentID keeps edges entering one fragment.
	ToFragmentID string
	// Kind keeps edges of one refinement kind.
	Kind RefinementKind
}

// StoreStats summarizes the committed store contents.
type StoreStats struct {
	FragmentCount      int
	EdgeCount          int
	PerAspectFragments map[Aspect]int
	PerKindEdges       map[RefinementKind]int
}

// ScoredFragment pairs a fragment with its keyword-overlap relevance score.
type ScoredFragment struct {
	Fragment Fragment
	Score    float64
}

// QueryService provides read-only access to committed store state.
//
// Results are snapshots: queries never block mutation and never observe a
// partially applied transaction. Implementations must be concurrency-safe.
type QueryService interface {
	// GetFragment returns one fragment by id.
	//
	// err wraps ErrFragmentNotFound on a lookup miss.
	GetFragment(ctx context.Context, id string) (Fragment, error)
	// QueryFragments returns fragments matching the filter.
	QueryFragments(ctx context.Context, filter FragmentFilter) ([]Fragment, error)
	// QueryEdges returns edges matching the filter.
	QueryEdges(ctx context.Context, filter EdgeFilter) ([]RefinementEdge, error)
	// Roots returns the fragments of an aspect with no incoming edge.
	Roots(ctx context.Context, aspect Aspect) ([]Fragment, error)
	// Stats summarizes the committed store contents.
	Stats(ctx context.Context) (StoreStats, error)
	// Similar returns fragments ranked by keyword overlap with the query
	// text, highest score first. Zero-score fragments are omitted.
	Similar(ctx context.Context, query string, aspect Aspect, limit int) ([]ScoredFragment, error)
	// Chain returns the refinement ancestry of a fragment, oldest edge
	// first, walking incoming edges transitively.
	Chain(ctx context.Context, fragmentID string) ([]RefinementEdge, error)
}
