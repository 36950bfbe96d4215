package source

import (
	"context"
	"fmt"
	"log/slog"

	"garden-of-memory/pkg/garden"
)

// NewBuiltinRegistry constructs the source registry with all built-in types.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{
			Type: ReplayType,
			Builder: func(
				_ context.Context,
				definition Definition,
				builderLogger *slog.Logger,
			) (garden.Source, error) {
				replay, err := NewReplayFromConfig(definition.Name, definition.Config, builderLogger)
				if err != nil {
					return nil, fmt.Errorf("build replay source from config: %w", err)
				}

				return replay, nil
			},
		},
	})
}
