package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeLLMConfigFile(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "llm.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write llm config file failed: %v", err)
	}

	return path
}

func TestLoadFile(t *testing.T) {
	tests := []struct {
		name             string
		fileBody         string
		wantErrSubstring string
		assert           func(*testing.T, Config)
	}{
		{
			name: "valid openai and gemini config",
			fileBody: `{
				"request_timeout":"45s",
				"providers":{
					"openai-main":{
						"type":"openai",
						"api_key":"sk-test",
						"base_url":"https://api.openai.com/v1",
						"openai":{
							"organization":"org-test",
							"project":"project-test",
							"max_retries":3
						}
					},
					"gemini-main":{
						"type":"gemini",
						"api_key":"gm-test",
						"gemini":{
							"api_version":"v1beta",
							"thinking_budget":128,
							"response_mime_type":"application/json"
						}
					}
				},
				"distillers":[
					{
						"name":"essence-distiller",
						"description":"Condenses observations into fragment drafts",
						"provider":"openai-main",
						"model":"gpt-5-mini",
						"system_prompt_template":"You are {{.DistillerName}}",
						"template_variables":{"garden":"memory"},
						"max_output_tokens":512,
						"temperature":0.3,
						"request_timeout":"20s",
						"request_metadata":{"openai.reasoning_effort":"low"}
					},
					{
						"name":"pattern-distiller",
						"description":"Extracts behavioral patterns",
						"provider":"gemini-main",
						"model":"gemini-2.5-flash",
						"system_prompt_template":"You are {{.DistillerName}}",
						"request_timeout":"30s"
					}
				]
			}`,
			assert: func(t *testing.T, cfg Config) {
				t.Helper()

				if cfg.RequestTimeout != 45*time.Second {
					t.Fatalf("request timeout = %s, want 45s", cfg.RequestTimeout)
				}
				if len(cfg.Providers) != 2 {
					t.Fatalf("providers len = %d, want 2", len(cfg.Providers))
				}

				openaiProfile := cfg.Providers["openai-main"]
				if openaiProfile.Type != providerTypeOpenAI {
					t.Fatalf("openai type = %q, want %q", openaiProfile.Type, providerTypeOpenAI)
				}
				if openaiProfile.OpenAI == nil {
					t.Fatal("expected openai options")
				}
				if openaiProfile.OpenAI.MaxRetries == nil || *openaiProfile.OpenAI.MaxRetries != 3 {
					t.Fatalf("openai max retries = %v, want 3", openaiProfile.OpenAI.MaxRetries)
				}

				geminiProfile := cfg.Providers["gemini-main"]
				if geminiProfile.Type != providerTypeGemini {
					t.Fatalf("gemini type = %q, want %q", geminiProfile.Type, providerTypeGemini)
				}
				if geminiProfile.Gemini == nil {
					t.Fatal("expected gemini options")
				}
				if geminiProfile.Gemini.APIVersion != "v1beta" {
					t.Fatalf("gemini api version = %q, want v1beta", geminiProfile.Gemini.APIVersion)
				}
				if geminiProfile.Gemini.RequestDefaults.ThinkingBudget == nil ||
					*geminiProfile.Gemini.RequestDefaults.ThinkingBudget != 128 {
					t.Fatalf(
						"gemini thinking budget = %v, want 128",
						geminiProfile.Gemini.RequestDefaults.ThinkingBudget,
					)
				}
				if geminiProfile.Gemini.RequestDefaults.ResponseMIMEType != "application/json" {
					t.Fatalf(
						"gemini response_mime_type = %q, want application/json",
						geminiProfile.Gemini.RequestDefaults.ResponseMIMEType,
					)
				}

				if len(cfg.Distillers) != 2 {
					t.Fatalf("distillers len = %d, want 2", len(cfg.Distillers))
				}
				essence := cfg.Distillers[0]
				if essence.RequestTimeout != 20*time.Second {
					t.Fatalf("distiller request timeout = %s, want 20s", essence.RequestTimeout)
				}
				if essence.TemplateVariables["garden"] != "memory" {
					t.Fatalf("template variables = %v, want garden=memory", essence.TemplateVariables)
				}
				if essence.RequestMetadata["openai.reasoning_effort"] != "low" {
					t.Fatalf(
						"request_metadata openai.reasoning_effort = %q, want low",
						essence.RequestMetadata["openai.reasoning_effort"],
					)
				}

				resolved, found := cfg.DistillerByName("Essence-Distiller")
				if !found {
					t.Fatal("expected case-insensitive distiller lookup")
				}
				if resolved.Model != "gpt-5-mini" {
					t.Fatalf("resolved model = %q, want gpt-5-mini", resolved.Model)
				}
				if _, found := cfg.DistillerByName("ghost"); found {
					t.Fatal("expected unknown distiller lookup to miss")
				}
			},
		},
		{
			name: "missing distiller request_timeout",
			fileBody: `{
				"providers":{"openai-main":{"type":"openai","api_key":"sk"}},
				"distillers":[
					{
						"name":"essence",
						"description":"d",
						"provider":"openai-main",
						"model":"m",
						"system_prompt_template":"ok"
					}
				]
			}`,
			wantErrSubstring: "missing request_timeout",
		},
		{
			name: "distiller timeout exceeds global",
			fileBody: `{
				"request_timeout":"30s",
				"providers":{"openai-main":{"type":"openai","api_key":"sk"}},
				"distillers":[
					{
						"name":"essence",
						"description":"d",
						"provider":"openai-main",
						"model":"m",
						"system_prompt_template":"ok",
						"request_timeout":"45s"
					}
				]
			}`,
			wantErrSubstring: "exceeds global request_timeout",
		},
		{
			name: "unsupported provider type",
			fileBody: `{
				"providers":{"anthropic-main":{"type":"anthropic","api_key":"x"}},
				"distillers":[
					{
						"name":"essence",
						"description":"d",
						"provider":"anthropic-main",
						"model":"m",
						"system_prompt_template":"ok",
						"request_timeout":"10s"
					}
				]
			}`,
			wantErrSubstring: "unsupported type",
		},
		{
			name: "invalid gemini thinking level",
			fileBody: `{
				"providers":{
					"gemini-main":{
						"type":"gemini",
						"api_key":"gm",
						"gemini":{"thinking_level":"minimal"}
					}
				},
				"distillers":[
					{
						"name":"essence",
						"description":"d",
						"provider":"gemini-main",
						"model":"m",
						"system_prompt_template":"ok",
						"request_timeout":"10s"
					}
				]
			}`,
			wantErrSubstring: "unsupported thinking_level",
		},
		{
			name: "conflicting gemini thinking defaults",
			fileBody: `{
				"providers":{
					"gemini-main":{
						"type":"gemini",
						"api_key":"gm",
						"gemini":{"thinking_budget":64,"thinking_level":"high"}
					}
				},
				"distillers":[
					{
						"name":"essence",
						"description":"d",
						"provider":"gemini-main",
						"model":"m",
						"system_prompt_template":"ok",
						"request_timeout":"10s"
					}
				]
			}`,
			wantErrSubstring: "mutually exclusive",
		},
		{
			name: "gemini defaults conflict with distiller metadata",
			fileBody: `{
				"providers":{
					"gemini-main":{
						"type":"gemini",
						"api_key":"gm",
						"gemini":{"thinking_budget":64}
					}
				},
				"distillers":[
					{
						"name":"essence",
						"description":"d",
						"provider":"gemini-main",
						"model":"m",
						"system_prompt_template":"ok",
						"request_timeout":"10s",
						"request_metadata":{"gemini.thinking_level":"high"}
					}
				]
			}`,
			wantErrSubstring: "sets both",
		},
		{
			name: "invalid gemini response mime type",
			fileBody: `{
				"providers":{
					"gemini-main":{
						"type":"gemini",
						"api_key":"gm",
						"gemini":{"response_mime_type":"application/xml"}
					}
				},
				"distillers":[
					{
						"name":"essence",
						"description":"d",
						"provider":"gemini-main",
						"model":"m",
						"system_prompt_template":"ok",
						"request_timeout":"10s"
					}
				]
			}`,
			wantErrSubstring: "unsupported response_mime_type",
		},
		{
			name: "invalid gemini api version",
			fileBody: `{
				"providers":{
					"gemini-main":{
						"type":"gemini",
						"api_key":"gm",
						"gemini":{"api_version":"v1 beta"}
					}
				},
				"distillers":[
					{
						"name":"essence",
						"description":"d",
						"provider":"gemini-main",
						"model":"m",
						"system_prompt_template":"ok",
						"request_timeout":"10s"
					}
				]
			}`,
			wantErrSubstring: "invalid api_version",
		},
		{
			name: "invalid openai max retries",
			fileBody: `{
				"providers":{
					"openai-main":{
						"type":"openai",
						"api_key":"sk",
						"openai":{"max_retries":-1}
					}
				},
				"distillers":[
					{
						"name":"essence",
						"description":"d",
						"provider":"openai-main",
						"model":"m",
						"system_prompt_template":"ok",
						"request_timeout":"10s"
					}
				]
			}`,
			wantErrSubstring: "max_retries must be >= 0",
		},
		{
			name: "unknown provider referenced by distiller",
			fileBody: `{
				"providers":{"openai-main":{"type":"openai","api_key":"sk"}},
				"distillers":[
					{
						"name":"essence",
						"description":"d",
						"provider":"missing",
						"model":"m",
						"system_prompt_template":"ok",
						"request_timeout":"10s"
					}
				]
			}`,
			wantErrSubstring: "provider missing is not configured",
		},
		{
			name: "duplicate provider keys rejected",
			fileBody: `{
				"providers":{
					"openai-main":{"type":"openai","api_key":"sk-1"},
					"openai-main":{"type":"openai","api_key":"sk-2"}
				},
				"distillers":[
					{
						"name":"essence",
						"description":"d",
						"provider":"openai-main",
						"model":"m",
						"system_prompt_template":"ok",
						"request_timeout":"10s"
					}
				]
			}`,
			wantErrSubstring: "duplicate provider key",
		},
		{
			name: "duplicate distiller names rejected",
			fileBody: `{
				"providers":{"openai-main":{"type":"openai","api_key":"sk"}},
				"distillers":[
					{
						"name":"Essence",
						"description":"d",
						"provider":"openai-main",
						"model":"m",
						"system_prompt_template":"ok",
						"request_timeout":"10s"
					},
					{
						"name":"essence",
						"description":"d2",
						"provider":"openai-main",
						"model":"m2",
						"system_prompt_template":"ok",
						"request_timeout":"10s"
					}
				]
			}`,
			wantErrSubstring: "duplicate distiller name",
		},
		{
			name: "reserved metadata key rejected",
			fileBody: `{
				"providers":{"openai-main":{"type":"openai","api_key":"sk"}},
				"distillers":[
					{
						"name":"essence",
						"description":"d",
						"provider":"openai-main",
						"model":"m",
						"system_prompt_template":"ok",
						"request_timeout":"10s",
						"request_metadata":{"distiller":"spoofed"}
					}
				]
			}`,
			wantErrSubstring: "reserved key",
		},
		{
			name: "invalid system prompt template",
			fileBody: `{
				"providers":{"openai-main":{"type":"openai","api_key":"sk"}},
				"distillers":[
					{
						"name":"essence",
						"description":"d",
						"provider":"openai-main",
						"model":"m",
						"system_prompt_template":"You are {{.Broken",
						"request_timeout":"10s"
					}
				]
			}`,
			wantErrSubstring: "invalid system_prompt_template",
		},
		{
			name: "strict unknown field rejects distiller gemini block",
			fileBody: `{
				"providers":{"openai-main":{"type":"openai","api_key":"sk"}},
				"distillers":[
					{
						"name":"essence",
						"description":"d",
						"provider":"openai-main",
						"model":"m",
						"system_prompt_template":"ok",
						"request_timeout":"10s",
						"gemini":{"thinking_level":"high"}
					}
				]
			}`,
			wantErrSubstring: "unknown field \"gemini\"",
		},
		{
			name: "missing providers",
			fileBody: `{
				"distillers":[
					{
						"name":"essence",
						"description":"d",
						"provider":"openai-main",
						"model":"m",
						"system_prompt_template":"ok",
						"request_timeout":"10s"
					}
				]
			}`,
			wantErrSubstring: "providers is required",
		},
		{
			name: "missing distillers",
			fileBody: `{
				"providers":{"openai-main":{"type":"openai","api_key":"sk"}}
			}`,
			wantErrSubstring: "at least one distiller is required",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			path := writeLLMConfigFile(t, testCase.fileBody)
			cfg, err := LoadFile(path)
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
				t.Fatalf("LoadFile failed: %v", err)
			}
			if testCase.assert != nil {
				testCase.assert(t, cfg)
			}
		})
	}
}
