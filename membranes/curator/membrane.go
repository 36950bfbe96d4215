// Package curator tends the refinement structure of the garden.
//
// The curator watches freshly committed fragments and links them to similar
// beliefs of the same aspect with integration edges. It also serves explicit
// refinement and confidence reinforcement tasks for workflows.
package curator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"garden-of-memory/pkg/garden"
)

const (
	// CapabilityIntegration links new fragments to similar committed beliefs.
	CapabilityIntegration = "memory-integration"
	// CapabilityRefinement records one explicit refinement edge.
	CapabilityRefinement = "memory-refinement"
	// CapabilityReinforcement amends the confidence of one committed fragment.
	CapabilityReinforcement = "memory-reinforcement"

	defaultSimilarityThreshold = 0.35
	defaultMaxLinks            = 3
)

// Option mutates curator membrane configuration.
type Option func(*Membrane)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(membrane *Membrane) {
		if logger != nil {
			membrane.logger = logger
		}
	}
}

// WithSimilarityThreshold sets the minimum score for automatic integration.
func WithSimilarityThreshold(threshold float64) Option {
	return func(membrane *Membrane) {
		if threshold > 0 && threshold <= 1 {
			membrane.threshold = threshold
		}
	}
}

// WithMaxLinks caps how many integration edges one fragment commit can cause.
func WithMaxLinks(maxLinks int) Option {
	return func(membrane *Membrane) {
		if maxLinks > 0 {
			membrane.maxLinks = maxLinks
		}
	}
}

// Membrane proposes integration edges and serves refinement tasks.
type Membrane struct {
	logger    *slog.Logger
	query     garden.QueryService
	proposer  garden.Proposer
	threshold float64
	maxLinks  int
}

// New creates a curator membrane.
func New(options ...Option) *Membrane {
	membrane := &Membrane{
		logger:    slog.Default(),
		threshold: defaultSimilarityThreshold,
		maxLinks:  defaultMaxLinks,
	}
	for _, option := range options {
		option(membrane)
	}

	return membrane
}

// Name returns the stable membrane identifier.
func (m *Membrane) Name() string {
	return "curator"
}

// Spec declares the integration handler and refinement task capabilities.
func (m *Membrane) Spec() garden.MembraneSpec {
	return garden.MembraneSpec{
		Handlers: []garden.MembraneHandler{
			{
				Capability: garden.Capability{
					Name:        CapabilityIntegration,
					Description: "links freshly committed fragments to similar beliefs of the same aspect",
					Interest: garden.InterestSet{
						Topics: []garden.Topic{garden.TopicFragmentCreated},
					},
					RequiredServices: []string{garden.ServiceQuery, garden.ServiceLedger},
				},
				Subscription: garden.NewDefaultSubscriptionSpec("curator-integration"),
				Handler:      m.handleFragmentCreated,
			},
		},
		AdditionalCapabilities: []garden.Capability{
			{
				Name:             CapabilityRefinement,
				Description:      "records one explicit refinement edge between two fragments",
				RequiredServices: []string{garden.ServiceLedger},
			},
			{
				Name:             CapabilityReinforcement,
				Description:      "amends the confidence of one committed fragment",
				RequiredServices: []string{garden.ServiceLedger},
			},
		},
	}
}

// OnRegister resolves the query service and the proposal path.
func (m *Membrane) OnRegister(_ context.Context, runtime garden.MembraneRuntime) error {
	logger, err := garden.ResolveAs[*slog.Logger](runtime.Services(), garden.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
	case errors.Is(err, garden.ErrServiceNotFound):
	default:
		return fmt.Errorf("curator resolve logger: %w", err)
	}

	query, err := garden.ResolveAs[garden.QueryService](runtime.Services(), garden.ServiceQuery)
	if err != nil {
		return fmt.Errorf("curator resolve query service: %w", err)
	}
	m.query = query

	proposer, err := garden.ResolveAs[garden.Proposer](runtime.Services(), garden.ServiceLedger)
	if err != nil {
		return fmt.Errorf("curator resolve proposer: %w", err)
	}
	m.proposer = proposer

	return nil
}

// OnStart starts the membrane lifecycle.
func (m *Membrane) OnStart(ctx context.Context) error {
	m.logger.InfoContext(ctx,
		"curator membrane started",
		"membrane", m.Name(),
		"similarity_threshold", m.threshold,
		"max_links", m.maxLinks,
	)

	return nil
}

// OnShutdown stops the membrane lifecycle.
func (m *Membrane) OnShutdown(_ context.Context) error {
	return nil
}

var (
	_ garden.Membrane          = (*Membrane)(nil)
	_ garden.MembraneRegistrar = (*Membrane)(nil)
)
