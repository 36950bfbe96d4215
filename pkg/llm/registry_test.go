package llm

import (
	"context"
	"strings"
	"testing"

	"garden-of-memory/pkg/garden"
)

func TestNewRegistryValidation(t *testing.T) {
	t.Parallel()

	provider := &providerStub{}
	tests := []struct {
		name             string
		providers        map[string]garden.LLMProvider
		wantErrSubstring string
	}{
		{
			name: "valid providers",
			providers: map[string]garden.LLMProvider{
				"openai-main": provider,
				"gemini-main": provider,
			},
		},
		{
			name:             "empty providers",
			providers:        map[string]garden.LLMProvider{},
			wantErrSubstring: "empty providers",
		},
		{
			name: "empty provider key",
			providers: map[string]garden.LLMProvider{
				"   ": provider,
			},
			wantErrSubstring: "empty provider key",
		},
		{
			name: "nil provider",
			providers: map[string]garden.LLMProvider{
				"openai-main": nil,
			},
			wantErrSubstring: "provider openai-main is nil",
		},
		{
			name: "duplicate key after trim",
			providers: map[string]garden.LLMProvider{
				"openai-main":  provider,
				"openai-main ": provider,
			},
			wantErrSubstring: "duplicate provider key",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			registry, err := NewRegistry(testCase.providers)
			if testCase.wantErrSubstring != "" {
				if err == nil {
					t.Fatal("expected error")
				}
				if !strings.Contains(err.Error(), testCase.wantErrSubstring) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstring)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRegistry failed: %v", err)
			}
			if registry == nil {
				t.Fatal("expected registry instance")
			}
		})
	}
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	provider := &providerStub{}
	registry, err := NewRegistry(map[string]garden.LLMProvider{
		"openai-main": provider,
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	tests := []struct {
		name             string
		key              string
		wantErrSubstring string
		wantSameProvider bool
	}{
		{
			name:             "known provider",
			key:              "openai-main",
			wantSameProvider: true,
		},
		{
			name:             "known provider key trimmed",
			key:              " openai-main ",
			wantSameProvider: true,
		},
		{
			name:             "unknown provider",
			key:              "missing",
			wantErrSubstring: "is not configured",
		},
		{
			name:             "empty provider key",
			key:              "   ",
			wantErrSubstring: "empty provider key",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			resolved, err := registry.Resolve(testCase.key)
			if testCase.wantErrSubstring != "" {
				if err == nil {
					t.Fatal("expected error")
				}
				if !strings.Contains(err.Error(), testCase.wantErrSubstring) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstring)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if testCase.wantSameProvider && resolved != provider {
				t.Fatal("resolved provider pointer mismatch")
			}
		})
	}
}

func TestRegistryKeys(t *testing.T) {
	t.Parallel()

	registry, err := NewRegistry(map[string]garden.LLMProvider{
		"gemini-main": &providerStub{},
		"openai-main": &providerStub{},
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	keys := registry.Keys()
	if len(keys) != 2 || keys[0] != "gemini-main" || keys[1] != "openai-main" {
		t.Fatalf("keys = %v, want sorted provider keys", keys)
	}
}

type providerStub struct{}

func (providerStub) Generate(context.Context, garden.LLMGenerateRequest) (garden.LLMGeneration, error) {
	return garden.LLMGeneration{}, nil
}
