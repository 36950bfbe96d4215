package substrate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"garden-of-memory/pkg/garden"
)

// checkpointFile is the self-describing persisted snapshot layout.
//
// The document carries everything needed to resume: the last assigned
// sequence number plus full fragment and edge sets in commit order.
type checkpointFile struct {
	SequenceNo uint64               `json:"sequence_no"`
	Fragments  []checkpointFragment `json:"fragments"`
	Edges      []checkpointEdge     `json:"edges"`
}

type checkpointFragment struct {
	ID           string    `json:"id"`
	Aspect       string    `json:"aspect"`
	Content      string    `json:"content"`
	Confidence   float64   `json:"confidence"`
	SourceRef    string    `json:"source_ref,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Keywords     []string  `json:"keywords,omitempty"`
	OriginWorker string    `json:"origin_worker,omitempty"`
}

type checkpointEdge struct {
	ID             string    `json:"id"`
	Aspect         string    `json:"aspect"`
	FromFragmentID string    `json:"from_fragment_id"`
	ToFragmentID   string    `json:"to_fragment_id"`
	Kind           string    `json:"kind"`
	Timestamp      time.Time `json:"timestamp"`
	ContextRefs    []string  `json:"context_refs,omitempty"`
	DeltaNote      string    `json:"delta_note,omitempty"`
}

// SaveCheckpoint writes the full committed state to path as one JSON document.
//
// The save runs inside the proposal critical section, so the snapshot is a
// consistent point in the serial order.
func (l *Ledger) SaveCheckpoint(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fragments, edges := l.store.snapshot()
	file := checkpointFile{
		SequenceNo: l.nextSeq - 1,
		Fragments:  make([]checkpointFragment, 0, len(fragments)),
		Edges:      make([]checkpointEdge, 0, len(edges)),
	}
	for _, fragment := range fragments {
		file.Fragments = append(file.Fragments, checkpointFragment{
			ID:           fragment.ID,
			Aspect:       string(fragment.Aspect),
			Content:      fragment.Content,
			Confidence:   fragment.Confidence,
			SourceRef:    fragment.SourceRef,
			CreatedAt:    fragment.CreatedAt,
			Keywords:     fragment.Keywords,
			OriginWorker: fragment.OriginWorker,
		})
	}
	for _, edge := range edges {
		file.Edges = append(file.Edges, checkpointEdge{
			ID:             edge.ID,
			Aspect:         string(edge.Aspect),
			FromFragmentID: edge.FromFragmentID,
			ToFragmentID:   edge.ToFragmentID,
			Kind:           string(edge.Kind),
			Timestamp:      edge.Timestamp,
			ContextRefs:    edge.ContextRefs,
			DeltaNote:      edge.DeltaNote,
		})
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", path, err)
	}

	return nil
}

// LoadCheckpoint replaces the store contents with a previously saved snapshot
// and resets the proposal counter to the snapshot's sequence number plus one.
//
// Loading is only legal before the first decided proposal. A document that
// fails structural validation leaves the ledger and store untouched and the
// returned error wraps garden.ErrCheckpointCorrupt, so the caller can choose
// to start empty.
func (l *Ledger) LoadCheckpoint(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.decided {
		return fmt.Errorf("load checkpoint %s: proposals already decided", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load checkpoint %s: %w", path, err)
	}

	var file checkpointFile
	if err := decodeStrictJSON(data, &file); err != nil {
		return fmt.Errorf("load checkpoint %s: %w: %v", path, garden.ErrCheckpointCorrupt, err)
	}
	if file.SequenceNo < uint64(len(file.Fragments)+len(file.Edges)) {
		return fmt.Errorf("load checkpoint %s: %w: sequence number %d lower than entity count %d",
			path, garden.ErrCheckpointCorrupt, file.SequenceNo, len(file.Fragments)+len(file.Edges))
	}

	// Rebuild through the regular apply path on a staging store so every
	// invariant (duplicate IDs, endpoints, aspect coherence, acyclicity)
	// holds for loaded state exactly as it does for proposed state.
	staging := NewStore()
	lastStamp := time.Time{}
	for _, entry := range file.Fragments {
		fragment := garden.Fragment{
			ID:           entry.ID,
			Aspect:       garden.Aspect(entry.Aspect),
			Content:      entry.Content,
			Confidence:   entry.Confidence,
			SourceRef:    entry.SourceRef,
			CreatedAt:    entry.CreatedAt,
			Keywords:     normalizeKeywords(entry.Keywords),
			OriginWorker: entry.OriginWorker,
		}
		if err := staging.insertFragment(fragment); err != nil {
			return fmt.Errorf("load checkpoint %s: %w: %v", path, garden.ErrCheckpointCorrupt, err)
		}
		if fragment.CreatedAt.After(lastStamp) {
			lastStamp = fragment.CreatedAt
		}
	}
	for _, entry := range file.Edges {
		edge := garden.RefinementEdge{
			ID:             entry.ID,
			Aspect:         garden.Aspect(entry.Aspect),
			FromFragmentID: entry.FromFragmentID,
			ToFragmentID:   entry.ToFragmentID,
			Kind:           garden.RefinementKind(entry.Kind),
			Timestamp:      entry.Timestamp,
			ContextRefs:    cloneStrings(entry.ContextRefs),
			DeltaNote:      entry.DeltaNote,
		}
		if err := staging.insertEdge(edge); err != nil {
			return fmt.Errorf("load checkpoint %s: %w: %v", path, garden.ErrCheckpointCorrupt, err)
		}
		if edge.Timestamp.After(lastStamp) {
			lastStamp = edge.Timestamp
		}
	}

	l.store.adopt(staging)
	l.nextSeq = file.SequenceNo + 1
	l.lastStamp = lastStamp

	return nil
}

// decodeStrictJSON decodes one JSON document rejecting unknown fields and
// trailing content.
func decodeStrictJSON(data []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return fmt.Errorf("unexpected trailing content")
		}

		return fmt.Errorf("decode trailing json: %w", err)
	}

	return nil
}
