package substrate

import (
	"context"
	"fmt"

	"garden-of-memory/pkg/garden"
)

// QueryService adapts the store's read operations to the service contract
// handed to membranes. It carries no mutation surface.
type QueryService struct {
	store *Store
}

// NewQueryService creates the read-only view over one store.
func NewQueryService(store *Store) *QueryService {
	return &QueryService{store: store}
}

// compile-time interface guard
var _ garden.QueryService = (*QueryService)(nil)

// GetFragment returns one fragment by id.
func (q *QueryService) GetFragment(ctx context.Context, id string) (garden.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return garden.Fragment{}, fmt.Errorf("get fragment: %w", err)
	}

	fragment, found := q.store.GetFragment(id)
	if !found {
		return garden.Fragment{}, fmt.Errorf("get fragment %s: %w", id, garden.ErrFragmentNotFound)
	}

	return fragment, nil
}

// QueryFragments returns fragments matching the filter.
func (q *QueryService) QueryFragments(ctx context.Context, filter garden.FragmentFilter) ([]garden.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("query fragments: %w", err)
	}

	return q.store.QueryFragments(filter), nil
}

// QueryEdges returns edges matching the filter.
func (q *QueryService) QueryEdges(ctx context.Context, filter garden.EdgeFilter) ([]garden.RefinementEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}

	return q.store.QueryEdges(filter), nil
}

// Roots returns the fragments of an aspect with no incoming edge.
func (q *QueryService) Roots(ctx context.Context, aspect garden.Aspect) ([]garden.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("roots: %w", err)
	}
	if err := aspect.Validate(); err != nil {
		return nil, fmt.Errorf("roots: %w", err)
	}

	return q.store.Roots(aspect), nil
}

// Stats summarizes the committed store contents.
func (q *QueryService) Stats(ctx context.Context) (garden.StoreStats, error) {
	if err := ctx.Err(); err != nil {
		return garden.StoreStats{}, fmt.Errorf("stats: %w", err)
	}

	return q.store.Stats(), nil
}

// Similar returns fragments ranked by keyword overlap with the query text.
func (q *QueryService) Similar(ctx context.Context, query string, aspect garden.Aspect, limit int) ([]garden.ScoredFragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("similar: %w", err)
	}
	if aspect != "" {
		if err := aspect.Validate(); err != nil {
			return nil, fmt.Errorf("similar: %w", err)
		}
	}

	return q.store.Similar(query, aspect, limit), nil
}

// Chain returns the refinement ancestry of a fragment, oldest edge first.
func (q *QueryService) Chain(ctx context.Context, fragmentID string) ([]garden.RefinementEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("chain: %w", err)
	}

	chain, found := q.store.Chain(fragmentID)
	if !found {
		return nil, fmt.Errorf("chain %s: %w", fragmentID, garden.ErrFragmentNotFound)
	}

	return chain, nil
}
