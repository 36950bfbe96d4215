// Package scribe distills observation text into memory fragments.
//
// The scribe membrane is the only writer that consults a language model: a
// task names one configured distiller, the distiller's provider turns the
// observation into candidate fragment lines, and every parsed draft is
// proposed to the ledger through the ordinary synchronization protocol.
package scribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"garden-of-memory/pkg/garden"
	"garden-of-memory/pkg/llm/config"
)

// CapabilityDistillation turns observation text into proposed fragments.
const CapabilityDistillation = "fragment-distillation"

const (
	metadataKeyDistiller = "distiller"
	metadataKeyProvider  = "provider"
)

// Option mutates scribe membrane configuration.
type Option func(*Membrane)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(membrane *Membrane) {
		if logger != nil {
			membrane.logger = logger
		}
	}
}

// Membrane turns observations into fragment proposals through LLM distillers.
type Membrane struct {
	cfg config.Config

	logger    *slog.Logger
	registry  garden.LLMProviderRegistry
	proposer  garden.Proposer
	providers map[string]garden.LLMProvider
	clock     func() time.Time
}

// New creates a scribe membrane from a validated distiller configuration.
func New(cfg config.Config, options ...Option) (*Membrane, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new scribe membrane: %w", err)
	}

	membrane := &Membrane{
		cfg:       cfg,
		logger:    slog.Default(),
		providers: make(map[string]garden.LLMProvider),
		clock:     time.Now,
	}
	for _, option := range options {
		option(membrane)
	}

	return membrane, nil
}

// Name returns the stable membrane identifier.
func (m *Membrane) Name() string {
	return "scribe"
}

// Spec declares the distillation capability.
func (m *Membrane) Spec() garden.MembraneSpec {
	return garden.MembraneSpec{
		AdditionalCapabilities: []garden.Capability{
			{
				Name:        CapabilityDistillation,
				Description: "distills observation text into memory fragments through a configured llm distiller",
				RequiredServices: []string{
					garden.ServiceLLMProviderRegistry,
					garden.ServiceLedger,
				},
			},
		},
	}
}

// OnRegister resolves the proposal path and every configured provider.
func (m *Membrane) OnRegister(_ context.Context, runtime garden.MembraneRuntime) error {
	logger, err := garden.ResolveAs[*slog.Logger](runtime.Services(), garden.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
	case errors.Is(err, garden.ErrServiceNotFound):
	default:
		return fmt.Errorf("scribe resolve logger: %w", err)
	}

	registry, err := garden.ResolveAs[garden.LLMProviderRegistry](
		runtime.Services(),
		garden.ServiceLLMProviderRegistry,
	)
	if err != nil {
		return fmt.Errorf("scribe resolve provider registry: %w", err)
	}

	proposer, err := garden.ResolveAs[garden.Proposer](runtime.Services(), garden.ServiceLedger)
	if err != nil {
		return fmt.Errorf("scribe resolve proposer: %w", err)
	}

	resolvedProviders := make(map[string]garden.LLMProvider)
	for _, distiller := range m.cfg.Distillers {
		providerName := strings.TrimSpace(distiller.Provider)
		if providerName == "" {
			return fmt.Errorf("scribe register distiller %s: empty provider", distiller.Name)
		}
		if _, exists := resolvedProviders[providerName]; exists {
			continue
		}

		provider, err := registry.Resolve(providerName)
		if err != nil {
			return fmt.Errorf("scribe resolve provider %s for distiller %s: %w", providerName, distiller.Name, err)
		}
		resolvedProviders[providerName] = provider
	}

	m.registry = registry
	m.proposer = proposer
	m.providers = resolvedProviders

	return nil
}

// OnStart starts the membrane lifecycle.
func (m *Membrane) OnStart(ctx context.Context) error {
	m.logger.InfoContext(ctx,
		"scribe membrane started",
		"membrane", m.Name(),
		"distillers", len(m.cfg.Distillers),
		"providers", len(m.providers),
	)

	return nil
}

// OnShutdown stops the membrane lifecycle.
func (m *Membrane) OnShutdown(_ context.Context) error {
	return nil
}

// Handle executes one distillation task.
//
// Rejected fragment proposals are reported through the result counters; only
// provider failures, unparsable output, and protocol misuse fail the task.
func (m *Membrane) Handle(ctx context.Context, task garden.Task) (garden.TaskResult, error) {
	if task.Capability != CapabilityDistillation {
		return garden.TaskResult{}, fmt.Errorf("scribe handle task %s: unsupported capability %q", task.ID, task.Capability)
	}
	if m.proposer == nil {
		return garden.TaskResult{}, fmt.Errorf("scribe %s: proposer not configured", CapabilityDistillation)
	}

	distillerName, err := requiredStringInput(task.Input, "distiller")
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("scribe %s: %w", CapabilityDistillation, err)
	}
	observation, err := requiredStringInput(task.Input, "text")
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("scribe %s: %w", CapabilityDistillation, err)
	}
	sourceRef, err := optionalStringInput(task.Input, "source_ref")
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("scribe %s: %w", CapabilityDistillation, err)
	}
	aspectFilter, err := optionalAspectInput(task.Input, "aspect")
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("scribe %s: %w", CapabilityDistillation, err)
	}

	distiller, found := m.cfg.DistillerByName(distillerName)
	if !found {
		return garden.TaskResult{}, fmt.Errorf("scribe %s: distiller %q is not configured", CapabilityDistillation, distillerName)
	}
	provider, exists := m.providers[strings.TrimSpace(distiller.Provider)]
	if !exists || provider == nil {
		return garden.TaskResult{}, fmt.Errorf(
			"scribe %s: provider %s for distiller %s is not available",
			CapabilityDistillation,
			distiller.Provider,
			distiller.Name,
		)
	}

	req, err := m.buildGenerateRequest(distiller, observation)
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("scribe build request for distiller %s: %w", distiller.Name, err)
	}

	reqCtx := ctx
	cancel := func() {}
	if distiller.RequestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, distiller.RequestTimeout)
	}
	defer cancel()

	generation, err := provider.Generate(reqCtx, req)
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("scribe generate with distiller %s: %w", distiller.Name, err)
	}

	drafts, skipped, err := parseDistillation(generation.Text)
	if err != nil {
		return garden.TaskResult{}, fmt.Errorf("scribe parse output of distiller %s: %w", distiller.Name, err)
	}

	proposed := 0
	committed := 0
	rejected := 0
	fragmentIDs := make([]string, 0, len(drafts))
	for _, draft := range drafts {
		if aspectFilter != "" && draft.Aspect != aspectFilter {
			skipped++
			continue
		}
		draft.SourceRef = sourceRef

		proposed++
		record, err := m.proposer.Propose(
			ctx,
			garden.OperationInsertFragment,
			garden.TransactionPayload{Fragment: &draft},
			m.Name(),
		)
		if err != nil {
			return garden.TaskResult{}, fmt.Errorf("scribe propose fragment from distiller %s: %w", distiller.Name, err)
		}
		if !record.Committed() {
			rejected++
			m.logger.DebugContext(ctx,
				"distilled fragment rejected",
				"distiller", distiller.Name,
				"sequence_no", record.SequenceNo,
				"reason", record.Reason,
			)
			continue
		}

		committed++
		fragmentIDs = append(fragmentIDs, record.FragmentID)
	}

	return garden.TaskResult{Output: map[string]any{
		"distiller":     distiller.Name,
		"provider":      distiller.Provider,
		"model":         distiller.Model,
		"proposed":      proposed,
		"committed":     committed,
		"rejected":      rejected,
		"skipped_lines": skipped,
		"fragment_ids":  fragmentIDs,
	}}, nil
}

func (m *Membrane) now() time.Time {
	if m.clock == nil {
		return time.Now().UTC()
	}

	return m.clock().UTC()
}

// requiredStringInput reads a mandatory non-empty string task input.
func requiredStringInput(input map[string]any, key string) (string, error) {
	value, err := optionalStringInput(input, key)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", fmt.Errorf("missing input %q", key)
	}

	return value, nil
}

// optionalStringInput reads a string task input, empty when absent.
func optionalStringInput(input map[string]any, key string) (string, error) {
	raw, exists := input[key]
	if !exists || raw == nil {
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("input %q must be a string", key)
	}

	return strings.TrimSpace(value), nil
}

// optionalAspectInput reads and validates an aspect task input.
func optionalAspectInput(input map[string]any, key string) (garden.Aspect, error) {
	value, err := optionalStringInput(input, key)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", nil
	}

	aspect := garden.Aspect(strings.ToLower(value))
	if err := aspect.Validate(); err != nil {
		return "", fmt.Errorf("input %q: %w", key, err)
	}

	return aspect, nil
}

var (
	_ garden.Membrane          = (*Membrane)(nil)
	_ garden.MembraneRegistrar = (*Membrane)(nil)
)
