package workflow

import (
	"fmt"
	"sort"
	"sync"

	"garden-of-memory/pkg/garden"
)

// Catalog is a concurrency-safe registry of named workflow specifications.
type Catalog struct {
	mu    sync.RWMutex
	specs map[string]garden.WorkflowSpec
}

// NewCatalog creates an empty workflow catalog.
func NewCatalog() *Catalog {
	return &Catalog{specs: make(map[string]garden.WorkflowSpec)}
}

// Define validates and registers a workflow under its name.
func (c *Catalog) Define(spec garden.WorkflowSpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("define workflow: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.specs[spec.Name]; exists {
		return fmt.Errorf("define workflow %s: %w", spec.Name, garden.ErrWorkflowAlreadyDefined)
	}
	c.specs[spec.Name] = spec

	return nil
}

// Get returns the workflow registered under name.
func (c *Catalog) Get(name string) (garden.WorkflowSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	spec, exists := c.specs[name]
	if !exists {
		return garden.WorkflowSpec{}, fmt.Errorf("get workflow %s: %w", name, garden.ErrWorkflowNotFound)
	}

	return spec, nil
}

// Names returns the defined workflow names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.specs))
	for name := range c.specs {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
