package substrate

import (
	"context"
	"errors"
	"testing"

	"garden-of-memory/pkg/garden"
)

func TestQueryServiceNotFound(t *testing.T) {
	t.Parallel()

	service := NewQueryService(NewStore())

	if _, err := service.GetFragment(context.Background(), "ghost"); !errors.Is(err, garden.ErrFragmentNotFound) {
		t.Fatalf("expected ErrFragmentNotFound, got %v", err)
	}
	if _, err := service.Chain(context.Background(), "ghost"); !errors.Is(err, garden.ErrFragmentNotFound) {
		t.Fatalf("expected ErrFragmentNotFound from chain, got %v", err)
	}
}

func TestQueryServiceValidatesAspect(t *testing.T) {
	t.Parallel()

	service := NewQueryService(NewStore())

	if _, err := service.Roots(context.Background(), "mood"); err == nil {
		t.Fatal("expected error for unknown aspect")
	}
	if _, err := service.Similar(context.Background(), "query", "mood", 5); err == nil {
		t.Fatal("expected error for unknown similarity aspect")
	}
	if _, err := service.Similar(context.Background(), "query", "", 5); err != nil {
		t.Fatalf("empty aspect means no filter: %v", err)
	}
}

func TestQueryServiceHonorsContext(t *testing.T) {
	t.Parallel()

	service := NewQueryService(NewStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := service.Stats(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := service.QueryFragments(ctx, garden.FragmentFilter{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestQueryServiceReadsCommittedState(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ledger := NewLedger(store)
	service := NewQueryService(store)

	record := mustPropose(t, ledger, garden.OperationInsertFragment,
		fragmentPayload(garden.AspectCognitiveFunction, "decomposes problems recursively", 0.7), "scribe")

	fragment, err := service.GetFragment(context.Background(), record.FragmentID)
	if err != nil {
		t.Fatalf("get fragment: %v", err)
	}
	if fragment.OriginWorker != "scribe" {
		t.Fatalf("origin worker %q", fragment.OriginWorker)
	}

	stats, err := service.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.FragmentCount != 1 || stats.PerAspectFragments[garden.AspectCognitiveFunction] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	scored, err := service.Similar(context.Background(), "decomposes hard problems", garden.AspectCognitiveFunction, 5)
	if err != nil {
		t.Fatalf("similar: %v", err)
	}
	if len(scored) == 0 {
		t.Fatal("expected a similarity hit")
	}
}
