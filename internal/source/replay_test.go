package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"garden-of-memory/pkg/garden"
)

// stubProposer records every proposal and scripts ledger outcomes.
type stubProposer struct {
	mu      sync.Mutex
	seq     uint64
	drafts  []garden.FragmentDraft
	workers []string
	decide  func(draft garden.FragmentDraft) (garden.Outcome, string)
	err     error
}

func (p *stubProposer) Propose(
	ctx context.Context,
	op garden.Operation,
	payload garden.TransactionPayload,
	workerID string,
) (garden.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return garden.TransactionRecord{}, err
	}
	if p.err != nil {
		return garden.TransactionRecord{}, p.err
	}
	if op != garden.OperationInsertFragment || payload.Fragment == nil {
		return garden.TransactionRecord{}, errors.New("unexpected proposal shape")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	p.drafts = append(p.drafts, *payload.Fragment)
	p.workers = append(p.workers, workerID)

	outcome, reason := garden.OutcomeCommitted, ""
	if p.decide != nil {
		outcome, reason = p.decide(*payload.Fragment)
	}

	return garden.TransactionRecord{
		SequenceNo: p.seq,
		Operation:  op,
		WorkerID:   workerID,
		Outcome:    outcome,
		Reason:     reason,
	}, nil
}

func (p *stubProposer) proposals() []garden.FragmentDraft {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]garden.FragmentDraft(nil), p.drafts...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeReplayFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fragments.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write replay file: %v", err)
	}

	return path
}

// TestReplayProposesFileInOrder verifies line ordering, blank line handling,
// and that undecodable lines are skipped without stopping the replay.
func TestReplayProposesFileInOrder(t *testing.T) {
	t.Parallel()

	path := writeReplayFile(t, `{"aspect":"self_reference","content":"I keep a private journal of unanswered questions","confidence":0.7,"source_ref":"conversation:11"}

{"aspect":"technical_capability","content":"Draws dependency graphs before refactoring","confidence":0.9,"keywords":["graphs","refactoring"]}
not even json
{"aspect":"value_principle","content":"Prefers reversible decisions","confidence":0.6,"mystery":true}
{"aspect":"knowledge_domain","content":"Knows distributed consensus tradeoffs","confidence":0.8}
`)

	proposer := &stubProposer{}
	replay := NewReplay("archive", path, "", quietLogger())
	if replay.Name() != "archive" {
		t.Fatalf("source name = %q", replay.Name())
	}

	if err := replay.Start(context.Background(), proposer); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	drafts := proposer.proposals()
	if len(drafts) != 3 {
		t.Fatalf("proposed %d drafts, want 3 decodable lines", len(drafts))
	}
	if drafts[0].Aspect != garden.AspectSelfReference || drafts[0].SourceRef != "conversation:11" {
		t.Fatalf("first draft = %+v", drafts[0])
	}
	if drafts[1].Keywords[0] != "graphs" {
		t.Fatalf("second draft keywords = %v", drafts[1].Keywords)
	}
	if drafts[2].Aspect != garden.AspectKnowledgeDomain {
		t.Fatalf("third draft = %+v", drafts[2])
	}
	for _, worker := range proposer.workers {
		if worker != "ingestion" {
			t.Fatalf("worker attribution = %q, want ingestion default", worker)
		}
	}
}

// TestReplayContinuesPastRejection verifies rejected proposals do not stop
// the replay.
func TestReplayContinuesPastRejection(t *testing.T) {
	t.Parallel()

	path := writeReplayFile(t, `{"aspect":"self_reference","content":"first","confidence":0.5}
{"aspect":"mood","content":"second","confidence":0.5}
{"aspect":"self_reference","content":"third","confidence":0.5}
`)

	proposer := &stubProposer{decide: func(draft garden.FragmentDraft) (garden.Outcome, string) {
		if draft.Aspect.Validate() != nil {
			return garden.OutcomeRejected, "unknown aspect"
		}

		return garden.OutcomeCommitted, ""
	}}
	replay := NewReplay("archive", path, "historian", quietLogger())

	if err := replay.Start(context.Background(), proposer); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if len(proposer.proposals()) != 3 {
		t.Fatalf("proposed %d drafts, want all three including the rejected", len(proposer.proposals()))
	}
	if proposer.workers[0] != "historian" {
		t.Fatalf("worker attribution = %q, want historian", proposer.workers[0])
	}
}

// TestReplayStopsOnProposerError verifies protocol misuse is fatal.
func TestReplayStopsOnProposerError(t *testing.T) {
	t.Parallel()

	path := writeReplayFile(t, `{"aspect":"self_reference","content":"first","confidence":0.5}
`)

	wantErr := errors.New("ledger unavailable")
	proposer := &stubProposer{err: wantErr}
	replay := NewReplay("archive", path, "", quietLogger())

	if err := replay.Start(context.Background(), proposer); !errors.Is(err, wantErr) {
		t.Fatalf("start error = %v, want proposer error", err)
	}
}

// TestReplayMissingFile verifies the wrapped open error.
func TestReplayMissingFile(t *testing.T) {
	t.Parallel()

	replay := NewReplay("archive", filepath.Join(t.TempDir(), "ghost.jsonl"), "", quietLogger())
	if err := replay.Start(context.Background(), &stubProposer{}); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("start error = %v, want os.ErrNotExist", err)
	}
}

// TestReplayHonorsContext verifies cancellation stops the replay.
func TestReplayHonorsContext(t *testing.T) {
	t.Parallel()

	path := writeReplayFile(t, `{"aspect":"self_reference","content":"first","confidence":0.5}
`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	replay := NewReplay("archive", path, "", quietLogger())
	if err := replay.Start(ctx, &stubProposer{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("start error = %v, want context.Canceled", err)
	}
}

// TestNewReplayFromConfig verifies strict config decoding.
func TestNewReplayFromConfig(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		config  string
		wantErr bool
	}{
		{name: "full", config: `{"path":"/tmp/x.jsonl","worker":"historian"}`},
		{name: "path only", config: `{"path":"/tmp/x.jsonl"}`},
		{name: "missing path", config: `{"worker":"historian"}`, wantErr: true},
		{name: "unknown field", config: `{"path":"/tmp/x.jsonl","mode":"fast"}`, wantErr: true},
		{name: "malformed", config: `{"path":`, wantErr: true},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			replay, err := NewReplayFromConfig("archive", []byte(testCase.config), quietLogger())
			if testCase.wantErr {
				if err == nil {
					t.Fatal("config accepted, want error")
				}

				return
			}
			if err != nil {
				t.Fatalf("config rejected: %v", err)
			}
			if replay.Name() != "archive" {
				t.Fatalf("source name = %q", replay.Name())
			}
		})
	}
}
