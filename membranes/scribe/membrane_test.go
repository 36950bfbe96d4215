package scribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"garden-of-memory/pkg/garden"
	"garden-of-memory/pkg/llm/config"
)

func testConfig() config.Config {
	return config.Config{
		RequestTimeout: 30 * time.Second,
		Providers: map[string]config.ProviderProfile{
			"openai-main": {Type: "openai", APIKey: "sk-test"},
		},
		Distillers: []config.Distiller{
			{
				Name:                 "session-distiller",
				Description:          "distills session transcripts into fragments",
				Provider:             "openai-main",
				Model:                "gpt-4o-mini",
				SystemPromptTemplate: "You are {{.DistillerName}}. Emit aspect|confidence|content lines using {{range .Aspects}}{{.}} {{end}}. Focus on {{.Focus}}.",
				TemplateVariables:    map[string]string{"Focus": "recurring habits"},
				MaxOutputTokens:      256,
				Temperature:          0.2,
				RequestTimeout:       5 * time.Second,
				RequestMetadata:      map[string]string{"trace": "t-1"},
			},
		},
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := New(config.Config{}); err == nil || !strings.Contains(err.Error(), "new scribe membrane") {
		t.Fatalf("error = %v, want config validation failure", err)
	}

	membrane, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if membrane.Name() != "scribe" {
		t.Fatalf("name = %q, want scribe", membrane.Name())
	}
}

func TestSpecDeclaresDistillationCapability(t *testing.T) {
	t.Parallel()

	membrane, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	spec := membrane.Spec()
	if err := spec.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(spec.Handlers) != 0 {
		t.Fatalf("handlers = %d, want 0", len(spec.Handlers))
	}
	if len(spec.AdditionalCapabilities) != 1 {
		t.Fatalf("additional capabilities = %d, want 1", len(spec.AdditionalCapabilities))
	}

	capability := spec.AdditionalCapabilities[0]
	if capability.Name != CapabilityDistillation {
		t.Fatalf("capability = %s, want %s", capability.Name, CapabilityDistillation)
	}
	wantServices := []string{garden.ServiceLLMProviderRegistry, garden.ServiceLedger}
	if len(capability.RequiredServices) != len(wantServices) {
		t.Fatalf("required services = %v, want %v", capability.RequiredServices, wantServices)
	}
	for index, service := range wantServices {
		if capability.RequiredServices[index] != service {
			t.Fatalf("required services = %v, want %v", capability.RequiredServices, wantServices)
		}
	}
}

func TestOnRegisterResolvesProviders(t *testing.T) {
	t.Parallel()

	provider := &providerStub{}
	registry := providerRegistryStub{providers: map[string]garden.LLMProvider{
		"openai-main": provider,
	}}
	proposer := &proposerStub{}

	tests := []struct {
		name             string
		services         map[string]any
		wantErrSubstring string
	}{
		{
			name: "all services available",
			services: map[string]any{
				garden.ServiceLLMProviderRegistry: registry,
				garden.ServiceLedger:              proposer,
			},
		},
		{
			name: "missing provider registry",
			services: map[string]any{
				garden.ServiceLedger: proposer,
			},
			wantErrSubstring: "resolve provider registry",
		},
		{
			name: "missing proposer",
			services: map[string]any{
				garden.ServiceLLMProviderRegistry: registry,
			},
			wantErrSubstring: "resolve proposer",
		},
		{
			name: "unknown provider profile",
			services: map[string]any{
				garden.ServiceLLMProviderRegistry: providerRegistryStub{},
				garden.ServiceLedger:              proposer,
			},
			wantErrSubstring: "resolve provider openai-main for distiller session-distiller",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			membrane, err := New(testConfig())
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			err = membrane.OnRegister(context.Background(), runtimeStub{services: testCase.services})
			if testCase.wantErrSubstring != "" {
				if err == nil {
					t.Fatalf("OnRegister succeeded, want error containing %q", testCase.wantErrSubstring)
				}
				if !strings.Contains(err.Error(), testCase.wantErrSubstring) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstring)
				}
				return
			}
			if err != nil {
				t.Fatalf("OnRegister failed: %v", err)
			}
			if membrane.proposer == nil {
				t.Fatal("expected proposer to be resolved")
			}
			if membrane.providers["openai-main"] != provider {
				t.Fatalf("providers = %v, want resolved openai-main", membrane.providers)
			}
		})
	}
}

func TestHandleDistillsObservation(t *testing.T) {
	t.Parallel()

	provider := &providerStub{generation: garden.LLMGeneration{Text: strings.Join([]string{
		"- self_reference|0.8|I track my own uncertainty when answering",
		"technical_capability|0.9|Parses structured distiller output reliably",
		"this line carries no candidate",
	}, "\n")}}
	proposer := &proposerStub{}

	membrane, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	err = membrane.OnRegister(context.Background(), runtimeStub{services: map[string]any{
		garden.ServiceLLMProviderRegistry: providerRegistryStub{providers: map[string]garden.LLMProvider{
			"openai-main": provider,
		}},
		garden.ServiceLedger: proposer,
	}})
	if err != nil {
		t.Fatalf("OnRegister failed: %v", err)
	}

	observation := "The agent hesitated before committing, then explained its own reasoning."
	result, err := membrane.Handle(context.Background(), garden.Task{
		ID:         "task-1",
		Capability: CapabilityDistillation,
		Input: map[string]any{
			"distiller":  "session-distiller",
			"text":       observation,
			"source_ref": "session-7",
		},
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(provider.requests) != 1 {
		t.Fatalf("provider requests = %d, want 1", len(provider.requests))
	}
	req := provider.requests[0]
	if req.Model != "gpt-4o-mini" {
		t.Fatalf("model = %q, want gpt-4o-mini", req.Model)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(req.Messages))
	}
	if req.Messages[0].Role != garden.LLMMessageRoleSystem {
		t.Fatalf("first message role = %s, want system", req.Messages[0].Role)
	}
	if !strings.Contains(req.Messages[0].Content, "session-distiller") {
		t.Fatalf("system prompt = %q, want distiller name", req.Messages[0].Content)
	}
	if !strings.Contains(req.Messages[0].Content, "recurring habits") {
		t.Fatalf("system prompt = %q, want template variable", req.Messages[0].Content)
	}
	if !strings.Contains(req.Messages[0].Content, "self_reference") {
		t.Fatalf("system prompt = %q, want aspect list", req.Messages[0].Content)
	}
	if req.Messages[1].Role != garden.LLMMessageRoleUser || req.Messages[1].Content != observation {
		t.Fatalf("user message = %+v, want observation text", req.Messages[1])
	}
	if req.MaxOutputTokens != 256 {
		t.Fatalf("max output tokens = %d, want 256", req.MaxOutputTokens)
	}
	if req.Temperature != 0.2 {
		t.Fatalf("temperature = %v, want 0.2", req.Temperature)
	}
	if req.Metadata["distiller"] != "session-distiller" || req.Metadata["provider"] != "openai-main" {
		t.Fatalf("metadata = %v, want distiller and provider entries", req.Metadata)
	}
	if req.Metadata["trace"] != "t-1" {
		t.Fatalf("metadata = %v, want configured trace entry", req.Metadata)
	}

	if len(proposer.calls) != 2 {
		t.Fatalf("proposals = %d, want 2", len(proposer.calls))
	}
	for _, call := range proposer.calls {
		if call.op != garden.OperationInsertFragment {
			t.Fatalf("operation = %s, want insert-fragment", call.op)
		}
		if call.worker != "scribe" {
			t.Fatalf("worker = %q, want scribe", call.worker)
		}
		if call.payload.Fragment == nil {
			t.Fatal("expected fragment payload")
		}
		if call.payload.Fragment.SourceRef != "session-7" {
			t.Fatalf("source ref = %q, want session-7", call.payload.Fragment.SourceRef)
		}
	}
	first := proposer.calls[0].payload.Fragment
	if first.Aspect != garden.AspectSelfReference || first.Confidence != 0.8 {
		t.Fatalf("first draft = %+v, want self_reference at 0.8", first)
	}

	if result.Output["proposed"] != 2 || result.Output["committed"] != 2 {
		t.Fatalf("output = %v, want 2 proposed and committed", result.Output)
	}
	if result.Output["rejected"] != 0 || result.Output["skipped_lines"] != 1 {
		t.Fatalf("output = %v, want 0 rejected and 1 skipped line", result.Output)
	}
	ids, ok := result.Output["fragment_ids"].([]string)
	if !ok || len(ids) != 2 {
		t.Fatalf("fragment_ids = %v, want 2 entries", result.Output["fragment_ids"])
	}
	if result.Output["distiller"] != "session-distiller" || result.Output["model"] != "gpt-4o-mini" {
		t.Fatalf("output = %v, want distiller and model echoed", result.Output)
	}
}

func TestHandleAspectFilter(t *testing.T) {
	t.Parallel()

	provider := &providerStub{generation: garden.LLMGeneration{Text: strings.Join([]string{
		"self_reference|0.8|Notices its own confidence swings",
		"technical_capability|0.9|Summarizes long transcripts",
	}, "\n")}}
	proposer := &proposerStub{}
	membrane := newWiredMembrane(t, provider, proposer)

	result, err := membrane.Handle(context.Background(), garden.Task{
		ID:         "task-1",
		Capability: CapabilityDistillation,
		Input: map[string]any{
			"distiller": "session-distiller",
			"text":      "transcript",
			"aspect":    "technical_capability",
		},
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(proposer.calls) != 1 {
		t.Fatalf("proposals = %d, want 1 (other aspect filtered)", len(proposer.calls))
	}
	if proposer.calls[0].payload.Fragment.Aspect != garden.AspectTechnicalCapability {
		t.Fatalf("proposed aspect = %s, want technical_capability", proposer.calls[0].payload.Fragment.Aspect)
	}
	if result.Output["proposed"] != 1 || result.Output["skipped_lines"] != 1 {
		t.Fatalf("output = %v, want 1 proposed and 1 skipped", result.Output)
	}
}

func TestHandleToleratesRejectedProposals(t *testing.T) {
	t.Parallel()

	provider := &providerStub{generation: garden.LLMGeneration{Text: strings.Join([]string{
		"self_reference|0.8|Keeps a running self-model",
		"value_principle|0.9|Prefers honest uncertainty over confident guessing",
	}, "\n")}}
	proposer := &proposerStub{records: []garden.TransactionRecord{
		{
			ID:         "txn-1",
			SequenceNo: 1,
			Operation:  garden.OperationInsertFragment,
			WorkerID:   "scribe",
			Outcome:    garden.OutcomeRejected,
			Reason:     "near-duplicate fragment",
		},
	}}
	membrane := newWiredMembrane(t, provider, proposer)

	result, err := membrane.Handle(context.Background(), garden.Task{
		ID:         "task-1",
		Capability: CapabilityDistillation,
		Input: map[string]any{
			"distiller": "session-distiller",
			"text":      "transcript",
		},
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if result.Output["proposed"] != 2 || result.Output["committed"] != 1 || result.Output["rejected"] != 1 {
		t.Fatalf("output = %v, want 2 proposed, 1 committed, 1 rejected", result.Output)
	}
	ids, ok := result.Output["fragment_ids"].([]string)
	if !ok || len(ids) != 1 {
		t.Fatalf("fragment_ids = %v, want only the committed fragment", result.Output["fragment_ids"])
	}
}

func TestHandleInputErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		input            map[string]any
		wantErrSubstring string
	}{
		{
			name:             "missing distiller",
			input:            map[string]any{"text": "transcript"},
			wantErrSubstring: `missing input "distiller"`,
		},
		{
			name:             "missing text",
			input:            map[string]any{"distiller": "session-distiller"},
			wantErrSubstring: `missing input "text"`,
		},
		{
			name:             "unknown distiller",
			input:            map[string]any{"distiller": "ghost", "text": "transcript"},
			wantErrSubstring: `distiller "ghost" is not configured`,
		},
		{
			name: "unknown aspect filter",
			input: map[string]any{
				"distiller": "session-distiller",
				"text":      "transcript",
				"aspect":    "vibes",
			},
			wantErrSubstring: "unknown aspect",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			provider := &providerStub{generation: garden.LLMGeneration{Text: "self_reference|0.5|x"}}
			proposer := &proposerStub{}
			membrane := newWiredMembrane(t, provider, proposer)

			_, err := membrane.Handle(context.Background(), garden.Task{
				ID:         "task-1",
				Capability: CapabilityDistillation,
				Input:      testCase.input,
			})
			if err == nil || !strings.Contains(err.Error(), testCase.wantErrSubstring) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstring)
			}
			if len(proposer.calls) != 0 {
				t.Fatalf("proposals = %d, want none on input error", len(proposer.calls))
			}
		})
	}
}

func TestHandleProviderFailure(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("provider unavailable")
	provider := &providerStub{err: wantErr}
	proposer := &proposerStub{}
	membrane := newWiredMembrane(t, provider, proposer)

	_, err := membrane.Handle(context.Background(), garden.Task{
		ID:         "task-1",
		Capability: CapabilityDistillation,
		Input: map[string]any{
			"distiller": "session-distiller",
			"text":      "transcript",
		},
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want wrapped provider error", err)
	}
	if !strings.Contains(err.Error(), "generate with distiller session-distiller") {
		t.Fatalf("error = %v, want distiller context", err)
	}
}

func TestHandleUnparsableOutput(t *testing.T) {
	t.Parallel()

	provider := &providerStub{generation: garden.LLMGeneration{Text: "no structured lines here\nstill nothing"}}
	proposer := &proposerStub{}
	membrane := newWiredMembrane(t, provider, proposer)

	_, err := membrane.Handle(context.Background(), garden.Task{
		ID:         "task-1",
		Capability: CapabilityDistillation,
		Input: map[string]any{
			"distiller": "session-distiller",
			"text":      "transcript",
		},
	})
	if err == nil || !strings.Contains(err.Error(), "parse output of distiller") {
		t.Fatalf("error = %v, want parse failure", err)
	}
	if len(proposer.calls) != 0 {
		t.Fatalf("proposals = %d, want none on parse failure", len(proposer.calls))
	}
}

func TestHandleUnsupportedCapability(t *testing.T) {
	t.Parallel()

	membrane := newWiredMembrane(t, &providerStub{}, &proposerStub{})

	_, err := membrane.Handle(context.Background(), garden.Task{
		ID:         "task-1",
		Capability: "fragment-erasure",
	})
	if err == nil || !strings.Contains(err.Error(), "unsupported capability") {
		t.Fatalf("error = %v, want unsupported capability", err)
	}
}

// newWiredMembrane builds a scribe with its services resolved through
// registration, backed by the given stubs.
func newWiredMembrane(t *testing.T, provider garden.LLMProvider, proposer garden.Proposer) *Membrane {
	t.Helper()

	membrane, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	err = membrane.OnRegister(context.Background(), runtimeStub{services: map[string]any{
		garden.ServiceLLMProviderRegistry: providerRegistryStub{providers: map[string]garden.LLMProvider{
			"openai-main": provider,
		}},
		garden.ServiceLedger: proposer,
	}})
	if err != nil {
		t.Fatalf("OnRegister failed: %v", err)
	}

	return membrane
}

type providerStub struct {
	generation garden.LLMGeneration
	err        error

	requests []garden.LLMGenerateRequest
}

func (s *providerStub) Generate(_ context.Context, req garden.LLMGenerateRequest) (garden.LLMGeneration, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return garden.LLMGeneration{}, s.err
	}

	return s.generation, nil
}

type providerRegistryStub struct {
	providers map[string]garden.LLMProvider
}

func (s providerRegistryStub) Resolve(provider string) (garden.LLMProvider, error) {
	resolved, exists := s.providers[provider]
	if !exists {
		return nil, fmt.Errorf("resolve llm provider: unknown provider %q", provider)
	}

	return resolved, nil
}

type proposeCall struct {
	op      garden.Operation
	payload garden.TransactionPayload
	worker  string
}

type proposerStub struct {
	records []garden.TransactionRecord
	err     error
	calls   []proposeCall
}

func (s *proposerStub) Propose(
	_ context.Context,
	op garden.Operation,
	payload garden.TransactionPayload,
	workerID string,
) (garden.TransactionRecord, error) {
	index := len(s.calls)
	s.calls = append(s.calls, proposeCall{op: op, payload: payload, worker: workerID})
	if s.err != nil {
		return garden.TransactionRecord{}, s.err
	}
	if index < len(s.records) {
		return s.records[index], nil
	}

	return garden.TransactionRecord{
		ID:         fmt.Sprintf("txn-%d", index+1),
		SequenceNo: uint64(index + 1),
		Operation:  op,
		WorkerID:   workerID,
		Outcome:    garden.OutcomeCommitted,
		FragmentID: fmt.Sprintf("frag-%d", index+1),
	}, nil
}

type runtimeStub struct {
	services map[string]any
}

func (s runtimeStub) Services() garden.ServiceRegistry {
	return serviceRegistryStub{values: s.services}
}

func (runtimeStub) Subscribe(
	context.Context,
	garden.SubscriptionSpec,
	garden.EventHandler,
) (garden.Subscription, error) {
	return nil, nil
}

type serviceRegistryStub struct {
	values map[string]any
}

func (serviceRegistryStub) Register(string, any) error { return nil }

func (s serviceRegistryStub) Resolve(name string) (any, error) {
	value, ok := s.values[name]
	if !ok {
		return nil, garden.ErrServiceNotFound
	}

	return value, nil
}
