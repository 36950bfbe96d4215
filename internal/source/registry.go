// Package source builds configured ingestion sources.
//
// A source feeds externally originated proposals into the substrate through
// the proposer the kernel hands it. The registry maps configuration type
// tokens to builders so the daemon constructs exactly the sources its
// configuration enables.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"garden-of-memory/pkg/garden"
)

// Definition describes one configured source entry.
type Definition struct {
	// Name is the stable configured source instance identifier.
	Name string
	// Type identifies which builder should construct this source.
	Type string
	// Enabled controls whether this definition is active.
	Enabled bool
	// Config stores source-type-specific JSON payload.
	Config json.RawMessage
}

// BuilderFunc builds one source from one configured definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (garden.Source, error)

// Descriptor binds one source type token to its builder.
type Descriptor struct {
	// Type is the source type token from configuration (for example "replay").
	Type string
	// Builder constructs one source instance for this type.
	Builder BuilderFunc
}

// Registry maps source types to builders.
type Registry struct {
	builders map[string]BuilderFunc
	types    []string
}

// NewRegistry creates one immutable source registry from descriptors.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	builders := make(map[string]BuilderFunc, len(descriptors))
	types := make([]string, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if descriptor.Type == "" {
			return nil, fmt.Errorf("new registry: empty descriptor type")
		}
		if descriptor.Builder == nil {
			return nil, fmt.Errorf("new registry type %s: nil builder", descriptor.Type)
		}
		if _, exists := builders[descriptor.Type]; exists {
			return nil, fmt.Errorf("new registry type %s: duplicate", descriptor.Type)
		}

		builders[descriptor.Type] = descriptor.Builder
		types = append(types, descriptor.Type)
	}
	sort.Strings(types)

	return &Registry{builders: builders, types: types}, nil
}

// Types returns all registered source types in deterministic sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	types := make([]string, len(r.types))
	copy(types, r.types)

	return types
}

// BuildEnabled builds all enabled source definitions.
func (r *Registry) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	logger *slog.Logger,
) ([]garden.Source, error) {
	if r == nil {
		return nil, fmt.Errorf("build sources: nil registry")
	}

	sources := make([]garden.Source, 0, len(definitions))
	seenNames := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build source: empty name")
		}
		if _, exists := seenNames[definition.Name]; exists {
			return nil, fmt.Errorf("build source %s: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}
		if definition.Type == "" {
			return nil, fmt.Errorf("build source %s: empty type", definition.Name)
		}

		builder, exists := r.builders[definition.Type]
		if !exists {
			return nil, fmt.Errorf("build source %s type %s: unsupported type", definition.Name, definition.Type)
		}

		built, err := builder(ctx, definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build source %s type %s: %w", definition.Name, definition.Type, err)
		}
		if built == nil {
			return nil, fmt.Errorf("build source %s type %s: nil source", definition.Name, definition.Type)
		}
		if built.Name() == "" {
			return nil, fmt.Errorf("build source %s type %s: unnamed source", definition.Name, definition.Type)
		}

		sources = append(sources, built)
	}

	return sources, nil
}
