package workflow

import (
	"errors"
	"testing"

	"garden-of-memory/pkg/garden"
)

// TestCatalogDefineGetNames verifies registration, lookup, and listing.
func TestCatalogDefineGetNames(t *testing.T) {
	t.Parallel()

	singleStep := func(name string) garden.WorkflowSpec {
		return garden.WorkflowSpec{
			Name:  name,
			Steps: []garden.StepSpec{{Name: "only", Capability: "memory-recall"}},
		}
	}

	catalog := NewCatalog()
	if err := catalog.Define(singleStep("pruning")); err != nil {
		t.Fatalf("define pruning failed: %v", err)
	}
	if err := catalog.Define(singleStep("harvest")); err != nil {
		t.Fatalf("define harvest failed: %v", err)
	}

	if err := catalog.Define(singleStep("pruning")); !errors.Is(err, garden.ErrWorkflowAlreadyDefined) {
		t.Fatalf("duplicate define error = %v, want ErrWorkflowAlreadyDefined", err)
	}
	if err := catalog.Define(garden.WorkflowSpec{}); err == nil {
		t.Fatal("define accepted an invalid specification")
	}

	spec, err := catalog.Get("harvest")
	if err != nil || spec.Name != "harvest" {
		t.Fatalf("get harvest = %v, %v", spec.Name, err)
	}
	if _, err := catalog.Get("ghost"); !errors.Is(err, garden.ErrWorkflowNotFound) {
		t.Fatalf("get unknown error = %v, want ErrWorkflowNotFound", err)
	}

	names := catalog.Names()
	if len(names) != 2 || names[0] != "harvest" || names[1] != "pruning" {
		t.Fatalf("names = %v, want sorted harvest then pruning", names)
	}
}
