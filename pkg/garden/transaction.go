package garden

import (
	"context"
	"fmt"
	"time"
)

// Operation enumerates the mutation protocol verbs.
type Operation string

const (
	// OperationInsertFragment proposes a new fragment.
	OperationInsertFragment Operation = "insert-fragment"
	// OperationInsertEdge proposes a new refinement edge.
	OperationInsertEdge Operation = "insert-edge"
	// OperationAmendFragment proposes a confidence/keyword amendment.
	OperationAmendFragment Operation = "amend-fragment"
)

// Validate checks that the operation belongs to the protocol.
func (o Operation) Validate() error {
	switch o {
	case OperationInsertFragment, OperationInsertEdge, OperationAmendFragment:
		return nil
	default:
		return fmt.Errorf("validate operation: unknown operation %q", string(o))
	}
}

// Outcome records the ledger decision for one proposal.
type Outcome string

const (
	// OutcomeCommitted indicates the proposal was applied to the store.
	OutcomeCommitted Outcome = "committed"
	// OutcomeRejected indicates a constraint violation left the store unchanged.
	OutcomeRejected Outcome = "rejected"
)

// TransactionPayload carries the operation-specific proposal content.
//
// Payload branches are selected by Operation: exactly one branch is set and
// it must match the proposal's operation.
type TransactionPayload struct {
	// Fragment carries the draft for insert-fragment proposals.
	Fragment *FragmentDraft
	// Edge carries the draft for insert-edge proposals.
	Edge *EdgeDraft
	// Amendment carries the change set for amend-fragment proposals.
	Amendment *Amendment
}

// Validate checks payload branch coherence against the operation.
func (p TransactionPayload) Validate(op Operation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("validate transaction payload: %w", err)
	}

	branches := 0
	if p.Fragment != nil {
		branches++
	}
	if p.Edge != nil {
		branches++
	}
	if p.Amendment != nil {
		branches++
	}
	if branches != 1 {
		return fmt.Errorf("validate transaction payload: expected exactly one payload branch, got %d", branches)
	}

	switch op {
	case OperationInsertFragment:
		if p.Fragment == nil {
			return fmt.Errorf("validate transaction payload: %s requires fragment draft", op)
		}
	case OperationInsertEdge:
		if p.Edge == nil {
			return fmt.Errorf("validate transaction payload: %s requires edge draft", op)
		}
	case OperationAmendFragment:
		if p.Amendment == nil {
			return fmt.Errorf("validate transaction payload: %s requires amendment", op)
		}
	}

	return nil
}

// TransactionRecord is one append-only decision entry in the transaction log.
//
// Every decided proposal produces a record, committed or rejected, and records
// are never deleted. SequenceNo is strictly increasing with no gaps across
// the whole log.
type TransactionRecord struct {
	// ID is a stable identifier for this record.
	ID string
	// SequenceNo is the position of this decision in the serial order.
	SequenceNo uint64
	// Operation names the proposed mutation.
	Operation Operation
	// WorkerID names the proposing worker.
	WorkerID string
	// Timestamp is the decision time.
	Timestamp time.Time
	// Payload is the proposal content as submitted.
	Payload TransactionPayload
	// Outcome records whether the proposal was applied.
	Outcome Outcome
	// Reason carries the constraint violation for rejected outcomes.
	Reason string
	// FragmentID is the assigned or amended fragment for committed fragment operations.
	FragmentID string
	// EdgeID is the assigned edge for committed insert-edge operations.
	EdgeID string
}

// Committed reports whether the proposal was applied to the store.
func (r TransactionRecord) Committed() bool {
	return r.Outcome == OutcomeCommitted
}

// ServiceLedger is the canonical service registry key for the transaction ledger.
const ServiceLedger = "garden.ledger"

// Proposer submits mutations to the synchronization protocol.
//
// Implementations must be concurrency-safe: workers propose from independent
// goroutines and the protocol serializes them internally.
type Proposer interface {
	// Propose submits one operation for serialized validation and commit.
	//
	// Domain constraint violations are reported through the returned record
	// with outcome rejected; err is reserved for protocol misuse (malformed
	// payload branch, unknown operation, empty worker id) and cancelled
	// contexts.
	Propose(ctx context.Context, op Operation, payload TransactionPayload, workerID string) (TransactionRecord, error)
}

// TransactionLog extends the proposer with read access to the decision history.
type TransactionLog interface {
	Proposer
	// History returns decision records in sequence order, oldest first.
	//
	// A non-empty workerID filters to that worker's proposals; limit > 0
	// keeps only the most recent records after filtering.
	History(ctx context.Context, workerID string, limit int) ([]TransactionRecord, error)
	// SyncStats summarizes decision counts per proposing worker.
	SyncStats(ctx context.Context) (SyncStats, error)
}

// SyncStats aggregates ledger decision counts.
type SyncStats struct {
	// TotalProposals counts every decided proposal.
	TotalProposals int
	// Committed counts applied proposals.
	Committed int
	// Rejected counts constraint violations.
	Rejected int
	// PerWorker breaks the totals down by proposing worker.
	PerWorker map[string]WorkerSyncStats
}

// WorkerSyncStats counts one worker's proposal outcomes.
type WorkerSyncStats struct {
	Proposed    int
	Committed   int
	Rejected    int
	SuccessRate float64
}
