package substrate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"garden-of-memory/pkg/garden"
)

// Ledger is the synchronization protocol in front of the store.
//
// Every mutation enters through Propose, which validates, applies, and logs
// inside one exclusive critical section. That single lock is the total order:
// sequence numbers are assigned consecutively in lock acquisition order and
// every decided proposal, committed or rejected, consumes one. Store queries
// bypass the critical section entirely and read committed state under the
// store's own read lock.
type Ledger struct {
	store  *Store
	logger *slog.Logger
	sink   garden.EventSink
	clock  func() time.Time
	newID  func() string

	// mu is the critical section for validate + apply + log.
	mu        sync.Mutex
	nextSeq   uint64
	lastStamp time.Time
	decided   bool

	// recordsMu guards log reads; appends happen while mu is also held.
	recordsMu sync.RWMutex
	records   []garden.TransactionRecord
}

// Option configures optional ledger behavior.
type Option func(*Ledger)

// WithLogger sets the logger for commit-side diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithEventSink sets the sink receiving post-commit store-change events.
func WithEventSink(sink garden.EventSink) Option {
	return func(l *Ledger) {
		if sink != nil {
			l.sink = sink
		}
	}
}

// withClock overrides time acquisition in tests.
func withClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// withIDGenerator overrides identifier generation in tests.
func withIDGenerator(generate func() string) Option {
	return func(l *Ledger) {
		if generate != nil {
			l.newID = generate
		}
	}
}

// NewLedger creates a ledger owning mutation of the given store.
func NewLedger(store *Store, options ...Option) *Ledger {
	ledger := &Ledger{
		store:   store,
		logger:  slog.Default(),
		clock:   time.Now,
		newID:   uuid.NewString,
		nextSeq: 1,
	}
	for _, option := range options {
		option(ledger)
	}

	return ledger
}

// compile-time interface guard
var _ garden.TransactionLog = (*Ledger)(nil)

// Propose submits one operation for serialized validation and commit.
//
// Constraint violations come back as a rejected record with err == nil; the
// store is untouched and the rejection is part of the permanent log. err is
// reserved for malformed proposals and cancelled contexts, which never reach
// the log.
func (l *Ledger) Propose(ctx context.Context, op garden.Operation, payload garden.TransactionPayload, workerID string) (garden.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return garden.TransactionRecord{}, fmt.Errorf("propose %s: %w", op, err)
	}
	if workerID == "" {
		return garden.TransactionRecord{}, fmt.Errorf("propose %s: empty worker id", op)
	}
	if err := payload.Validate(op); err != nil {
		return garden.TransactionRecord{}, fmt.Errorf("propose %s: %w", op, err)
	}

	l.mu.Lock()
	now := l.tickLocked()
	record := garden.TransactionRecord{
		ID:         l.newID(),
		SequenceNo: l.nextSeq,
		Operation:  op,
		WorkerID:   workerID,
		Timestamp:  now,
		Payload:    clonePayload(payload),
		Outcome:    garden.OutcomeCommitted,
	}

	var event *garden.Event
	switch op {
	case garden.OperationInsertFragment:
		if err := payload.Fragment.Validate(); err != nil {
			l.rejectLocked(&record, fmt.Errorf("%w: %v", garden.ErrConstraintViolation, err))
			break
		}
		fragment := garden.Fragment{
			ID:           l.newID(),
			Aspect:       payload.Fragment.Aspect,
			Content:      payload.Fragment.Content,
			Confidence:   payload.Fragment.Confidence,
			SourceRef:    payload.Fragment.SourceRef,
			CreatedAt:    now,
			Keywords:     normalizeKeywords(payload.Fragment.Keywords),
			OriginWorker: workerID,
		}
		if len(fragment.Keywords) == 0 {
			fragment.Keywords = extractKeywords(fragment.Content, defaultKeywordLimit)
		}
		if err := l.store.insertFragment(fragment); err != nil {
			l.rejectLocked(&record, err)
		} else {
			record.FragmentID = fragment.ID
			event = l.storeEventLocked(garden.TopicFragmentCreated, record)
			event.Fragment = &fragment
		}

	case garden.OperationInsertEdge:
		if err := payload.Edge.Validate(); err != nil {
			l.rejectLocked(&record, fmt.Errorf("%w: %v", garden.ErrConstraintViolation, err))
			break
		}
		edge := garden.RefinementEdge{
			ID:             l.newID(),
			FromFragmentID: payload.Edge.FromFragmentID,
			ToFragmentID:   payload.Edge.ToFragmentID,
			Kind:           payload.Edge.Kind,
			Timestamp:      now,
			ContextRefs:    cloneStrings(payload.Edge.ContextRefs),
			DeltaNote:      payload.Edge.DeltaNote,
		}
		if from, found := l.store.GetFragment(edge.FromFragmentID); found {
			edge.Aspect = from.Aspect
		}
		if err := l.store.insertEdge(edge); err != nil {
			l.rejectLocked(&record, err)
		} else {
			record.EdgeID = edge.ID
			event = l.storeEventLocked(garden.TopicEdgeCreated, record)
			event.Edge = &edge
		}

	case garden.OperationAmendFragment:
		if err := payload.Amendment.Validate(); err != nil {
			l.rejectLocked(&record, fmt.Errorf("%w: %v", garden.ErrConstraintViolation, err))
			break
		}
		updated, err := l.store.amendFragment(*payload.Amendment)
		if err != nil {
			l.rejectLocked(&record, err)
		} else {
			record.FragmentID = updated.ID
			amendment := cloneAmendment(*payload.Amendment)
			event = l.storeEventLocked(garden.TopicFragmentAmended, record)
			event.Fragment = &updated
			event.Amendment = &amendment
		}
	}

	l.nextSeq++
	l.decided = true

	l.recordsMu.Lock()
	l.records = append(l.records, cloneRecord(record))
	l.recordsMu.Unlock()
	l.mu.Unlock()

	if event != nil {
		l.publish(ctx, event)
	}

	return record, nil
}

// rejectLocked converts an apply error into a rejected outcome on the record.
func (l *Ledger) rejectLocked(record *garden.TransactionRecord, err error) {
	record.Outcome = garden.OutcomeRejected
	record.Reason = err.Error()
	record.FragmentID = ""
	record.EdgeID = ""
}

// storeEventLocked builds the shared envelope for a post-commit store event.
func (l *Ledger) storeEventLocked(topic garden.Topic, record garden.TransactionRecord) *garden.Event {
	return &garden.Event{
		ID:         l.newID(),
		Topic:      topic,
		OccurredAt: record.Timestamp,
		Origin:     record.WorkerID,
		SequenceNo: record.SequenceNo,
	}
}

// tickLocked returns the decision timestamp, clamped so commit timestamps
// never move backwards even when the wall clock does.
func (l *Ledger) tickLocked() time.Time {
	now := l.clock().UTC()
	if now.Before(l.lastStamp) {
		now = l.lastStamp
	}
	l.lastStamp = now

	return now
}

// publish delivers one post-commit event to the sink.
//
// Delivery is best effort: a failing sink is logged and never unwinds into
// the already committed transaction.
func (l *Ledger) publish(ctx context.Context, event *garden.Event) {
	if l.sink == nil {
		return
	}
	if err := l.sink.Publish(ctx, event); err != nil {
		l.logger.WarnContext(ctx, "post-commit event publish failed",
			slog.String("topic", string(event.Topic)),
			slog.Uint64("sequence_no", event.SequenceNo),
			slog.Any("error", err))
	}
}

// History returns decision records in sequence order, oldest first.
//
// A non-empty workerID keeps only that worker's proposals; limit > 0 keeps
// the most recent records after filtering.
func (l *Ledger) History(ctx context.Context, workerID string, limit int) ([]garden.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ledger history: %w", err)
	}

	l.recordsMu.RLock()
	defer l.recordsMu.RUnlock()

	matched := make([]garden.TransactionRecord, 0, len(l.records))
	for _, record := range l.records {
		if workerID != "" && record.WorkerID != workerID {
			continue
		}
		matched = append(matched, cloneRecord(record))
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}

	return matched, nil
}

// SyncStats summarizes decision counts per proposing worker.
func (l *Ledger) SyncStats(ctx context.Context) (garden.SyncStats, error) {
	if err := ctx.Err(); err != nil {
		return garden.SyncStats{}, fmt.Errorf("ledger sync stats: %w", err)
	}

	l.recordsMu.RLock()
	defer l.recordsMu.RUnlock()

	stats := garden.SyncStats{PerWorker: make(map[string]garden.WorkerSyncStats)}
	for _, record := range l.records {
		worker := stats.PerWorker[record.WorkerID]
		worker.Proposed++
		stats.TotalProposals++
		if record.Committed() {
			worker.Committed++
			stats.Committed++
		} else {
			worker.Rejected++
			stats.Rejected++
		}
		stats.PerWorker[record.WorkerID] = worker
	}
	for workerID, worker := range stats.PerWorker {
		worker.SuccessRate = float64(worker.Committed) / float64(worker.Proposed)
		stats.PerWorker[workerID] = worker
	}

	return stats, nil
}
