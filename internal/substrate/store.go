package substrate

import (
	"fmt"
	"sort"
	"sync"

	"garden-of-memory/pkg/garden"
)

// Store is the in-memory hypergraph of fragments and refinement edges.
//
// Queries take a read lock and return copies, so readers never observe
// partially applied mutations and never share slices with the store.
// Mutation goes through the unexported apply methods, which only the ledger
// in this package reaches; workers cannot obtain a mutable handle.
type Store struct {
	mu sync.RWMutex

	fragments map[string]garden.Fragment
	edges     map[string]garden.RefinementEdge

	// fragmentOrder and edgeOrder preserve commit order for deterministic
	// query results.
	fragmentOrder []string
	edgeOrder     []string

	// outgoing and incoming index edge IDs by endpoint fragment.
	outgoing map[string][]string
	incoming map[string][]string
}

// NewStore creates an empty hypergraph store.
func NewStore() *Store {
	return &Store{
		fragments: make(map[string]garden.Fragment),
		edges:     make(map[string]garden.RefinementEdge),
		outgoing:  make(map[string][]string),
		incoming:  make(map[string][]string),
	}
}

// GetFragment returns one fragment by id.
func (s *Store) GetFragment(id string) (garden.Fragment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fragment, found := s.fragments[id]
	if !found {
		return garden.Fragment{}, false
	}

	return cloneFragment(fragment), true
}

// QueryFragments returns fragments matching the filter.
//
// Default order is commit order; filter.SortByConfidence reorders by
// descending confidence with commit order as the tiebreaker.
func (s *Store) QueryFragments(filter garden.FragmentFilter) []garden.Fragment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]garden.Fragment, 0, len(s.fragmentOrder))
	for _, id := range s.fragmentOrder {
		fragment := s.fragments[id]
		if filter.Aspect != "" && fragment.Aspect != filter.Aspect {
			continue
		}
		if fragment.Confidence < filter.MinConfidence {
			continue
		}
		if filter.OriginWorker != "" && fragment.OriginWorker != filter.OriginWorker {
			continue
		}
		matched = append(matched, cloneFragment(fragment))
	}

	if filter.SortByConfidence {
		sort.SliceStable(matched, func(a, b int) bool {
			return matched[a].Confidence > matched[b].Confidence
		})
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	return matched
}

// QueryEdges returns edges matching the filter in commit order.
func (s *Store) QueryEdges(filter garden.EdgeFilter) []garden.RefinementEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]garden.RefinementEdge, 0, len(s.edgeOrder))
	for _, id := range s.edgeOrder {
		edge := s.edges[id]
		if filter.Aspect != "" && edge.Aspect != filter.Aspect {
			continue
		}
		if filter.FromFragmentID != "" && edge.FromFragmentID != filter.FromFragmentID {
			continue
		}
		if filter.ToFragmentID != "" && edge.ToFragmentID != filter.ToFragmentID {
			continue
		}
		if filter.Kind != "" && edge.Kind != filter.Kind {
			continue
		}
		matched = append(matched, cloneEdge(edge))
	}

	return matched
}

// Roots returns the fragments of an aspect with no incoming edge, in commit order.
func (s *Store) Roots(aspect garden.Aspect) []garden.Fragment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roots := make([]garden.Fragment, 0)
	for _, id := range s.fragmentOrder {
		fragment := s.fragments[id]
		if fragment.Aspect != aspect {
			continue
		}
		if len(s.incoming[id]) > 0 {
			continue
		}
		roots = append(roots, cloneFragment(fragment))
	}

	return roots
}

// Stats summarizes the committed store contents.
func (s *Store) Stats() garden.StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := garden.StoreStats{
		FragmentCount:      len(s.fragments),
		EdgeCount:          len(s.edges),
		PerAspectFragments: make(map[garden.Aspect]int),
		PerKindEdges:       make(map[garden.RefinementKind]int),
	}
	for _, fragment := range s.fragments {
		stats.PerAspectFragments[fragment.Aspect]++
	}
	for _, edge := range s.edges {
		stats.PerKindEdges[edge.Kind]++
	}

	return stats
}

// Similar scores fragments by keyword overlap with the query text.
//
// score = |overlap| / max(|queryKeywords|, |fragmentKeywords|) * confidence.
// Zero-score fragments are omitted; results are ordered by descending score
// with commit order as the tiebreaker.
func (s *Store) Similar(query string, aspect garden.Aspect, limit int) []garden.ScoredFragment {
	queryKeywords := extractKeywords(query, defaultKeywordLimit)
	if len(queryKeywords) == 0 {
		return nil
	}
	querySet := make(map[string]struct{}, len(queryKeywords))
	for _, keyword := range queryKeywords {
		querySet[keyword] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make([]garden.ScoredFragment, 0)
	for _, id := range s.fragmentOrder {
		fragment := s.fragments[id]
		if aspect != "" && fragment.Aspect != aspect {
			continue
		}
		if len(fragment.Keywords) == 0 {
			continue
		}

		overlap := 0
		for _, keyword := range fragment.Keywords {
			if _, shared := querySet[keyword]; shared {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}

		denominator := len(queryKeywords)
		if len(fragment.Keywords) > denominator {
			denominator = len(fragment.Keywords)
		}
		score := float64(overlap) / float64(denominator) * fragment.Confidence
		scored = append(scored, garden.ScoredFragment{Fragment: cloneFragment(fragment), Score: score})
	}

	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].Score > scored[b].Score
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}

	return scored
}

// Chain returns the refinement ancestry of a fragment: every edge reachable
// by walking incoming edges transitively, in commit order.
func (s *Store) Chain(fragmentID string) ([]garden.RefinementEdge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, found := s.fragments[fragmentID]; !found {
		return nil, false
	}

	collected := make(map[string]struct{})
	visited := map[string]struct{}{fragmentID: {}}
	frontier := []string{fragmentID}
	for len(frontier) > 0 {
		current := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		for _, edgeID := range s.incoming[current] {
			if _, seen := collected[edgeID]; seen {
				continue
			}
			collected[edgeID] = struct{}{}
			parent := s.edges[edgeID].FromFragmentID
			if _, seen := visited[parent]; seen {
				continue
			}
			visited[parent] = struct{}{}
			frontier = append(frontier, parent)
		}
	}

	chain := make([]garden.RefinementEdge, 0, len(collected))
	for _, edgeID := range s.edgeOrder {
		if _, wanted := collected[edgeID]; wanted {
			chain = append(chain, cloneEdge(s.edges[edgeID]))
		}
	}

	return chain, true
}

// insertFragment applies a validated fragment to the store.
//
// The store is left unchanged when any constraint fails.
func (s *Store) insertFragment(fragment garden.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fragment.ID == "" {
		return fmt.Errorf("%w: fragment without id", garden.ErrConstraintViolation)
	}
	if _, exists := s.fragments[fragment.ID]; exists {
		return fmt.Errorf("%w: duplicate fragment id %s", garden.ErrConstraintViolation, fragment.ID)
	}
	if err := fragment.Aspect.Validate(); err != nil {
		return fmt.Errorf("%w: %v", garden.ErrConstraintViolation, err)
	}
	if fragment.Confidence < 0 || fragment.Confidence > 1 {
		return fmt.Errorf("%w: fragment %s confidence %v outside [0, 1]", garden.ErrConstraintViolation, fragment.ID, fragment.Confidence)
	}

	s.fragments[fragment.ID] = cloneFragment(fragment)
	s.fragmentOrder = append(s.fragmentOrder, fragment.ID)

	return nil
}

// insertEdge applies a validated refinement edge to the store.
//
// Both endpoints must exist and share one aspect, and the edge must not
// close a directed cycle inside that aspect. The store is left unchanged
// when any constraint fails.
func (s *Store) insertEdge(edge garden.RefinementEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if edge.ID == "" {
		return fmt.Errorf("%w: edge without id", garden.ErrConstraintViolation)
	}
	if _, exists := s.edges[edge.ID]; exists {
		return fmt.Errorf("%w: duplicate edge id %s", garden.ErrConstraintViolation, edge.ID)
	}
	if err := edge.Kind.Validate(); err != nil {
		return fmt.Errorf("%w: %v", garden.ErrConstraintViolation, err)
	}
	from, found := s.fragments[edge.FromFragmentID]
	if !found {
		return fmt.Errorf("%w: unknown fragment %s", garden.ErrConstraintViolation, edge.FromFragmentID)
	}
	to, found := s.fragments[edge.ToFragmentID]
	if !found {
		return fmt.Errorf("%w: unknown fragment %s", garden.ErrConstraintViolation, edge.ToFragmentID)
	}
	if from.Aspect != to.Aspect {
		return fmt.Errorf("%w: cross-aspect edge from %s (%s) to %s (%s)",
			garden.ErrConstraintViolation, edge.FromFragmentID, from.Aspect, edge.ToFragmentID, to.Aspect)
	}
	if edge.Aspect != from.Aspect {
		return fmt.Errorf("%w: edge aspect %s does not match endpoint aspect %s", garden.ErrConstraintViolation, edge.Aspect, from.Aspect)
	}
	if s.wouldCreateCycleLocked(edge.FromFragmentID, edge.ToFragmentID) {
		return fmt.Errorf("%w: edge %s -> %s would create a cycle in aspect %s",
			garden.ErrConstraintViolation, edge.FromFragmentID, edge.ToFragmentID, from.Aspect)
	}

	s.edges[edge.ID] = cloneEdge(edge)
	s.edgeOrder = append(s.edgeOrder, edge.ID)
	s.outgoing[edge.FromFragmentID] = append(s.outgoing[edge.FromFragmentID], edge.ID)
	s.incoming[edge.ToFragmentID] = append(s.incoming[edge.ToFragmentID], edge.ID)

	return nil
}

// wouldCreateCycleLocked reports whether adding from -> to closes a cycle.
//
// Depth-first reachability from the proposed target back toward the source;
// the visited set bounds the walk to each fragment once.
func (s *Store) wouldCreateCycleLocked(from, to string) bool {
	if from == to {
		return true
	}

	visited := make(map[string]struct{})
	stack := []string{to}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == from {
			return true
		}
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}
		for _, edgeID := range s.outgoing[current] {
			stack = append(stack, s.edges[edgeID].ToFragmentID)
		}
	}

	return false
}

// amendFragment applies a validated amendment and returns the updated fragment.
func (s *Store) amendFragment(amendment garden.Amendment) (garden.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fragment, found := s.fragments[amendment.FragmentID]
	if !found {
		return garden.Fragment{}, fmt.Errorf("%w: unknown fragment %s", garden.ErrConstraintViolation, amendment.FragmentID)
	}
	if amendment.Confidence != nil {
		if *amendment.Confidence < 0 || *amendment.Confidence > 1 {
			return garden.Fragment{}, fmt.Errorf("%w: fragment %s confidence %v outside [0, 1]",
				garden.ErrConstraintViolation, amendment.FragmentID, *amendment.Confidence)
		}
		fragment.Confidence = *amendment.Confidence
	}
	if amendment.Keywords != nil {
		fragment.Keywords = normalizeKeywords(amendment.Keywords)
	}
	s.fragments[amendment.FragmentID] = fragment

	return cloneFragment(fragment), nil
}

// snapshot returns ordered copies of all fragments and edges.
func (s *Store) snapshot() ([]garden.Fragment, []garden.RefinementEdge) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fragments := make([]garden.Fragment, 0, len(s.fragmentOrder))
	for _, id := range s.fragmentOrder {
		fragments = append(fragments, cloneFragment(s.fragments[id]))
	}
	edges := make([]garden.RefinementEdge, 0, len(s.edgeOrder))
	for _, id := range s.edgeOrder {
		edges = append(edges, cloneEdge(s.edges[id]))
	}

	return fragments, edges
}

// adopt replaces the store contents with another store's state.
func (s *Store) adopt(other *Store) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fragments = other.fragments
	s.edges = other.edges
	s.fragmentOrder = other.fragmentOrder
	s.edgeOrder = other.edgeOrder
	s.outgoing = other.outgoing
	s.incoming = other.incoming
}
