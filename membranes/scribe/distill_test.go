package scribe

import (
	"strings"
	"testing"
	"time"

	"garden-of-memory/pkg/garden"
	"garden-of-memory/pkg/llm/config"
)

func TestRenderSystemPrompt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		template         string
		variables        map[string]string
		want             string
		wantContains     []string
		wantErrSubstring string
	}{
		{
			name:      "variables merged top level and nested",
			template:  "{{.Focus}} and {{.TemplateVariables.Focus}} for {{.DistillerName}}",
			variables: map[string]string{"Focus": "habits"},
			want:      "habits and habits for evening-notes",
		},
		{
			name:     "time helpers rendered from clock",
			template: "{{.NowRFC3339}} on {{.DateUTC}} at {{.TimeUTC}}",
			want:     "2026-03-14T09:30:00Z on 2026-03-14 at 09:30:00",
		},
		{
			name:         "aspect roster exposed",
			template:     "{{range .Aspects}}{{.}},{{end}}",
			wantContains: []string{"self_reference,", "value_principle,"},
		},
		{
			name:     "surrounding whitespace trimmed",
			template: "   kept   ",
			want:     "kept",
		},
		{
			name:             "unknown key fails rendering",
			template:         "{{.Missing}}",
			wantErrSubstring: "render system prompt template",
		},
		{
			name:             "empty render rejected",
			template:         "{{.Blank}}",
			variables:        map[string]string{"Blank": ""},
			wantErrSubstring: "rendered system prompt is empty",
		},
		{
			name:             "malformed template rejected",
			template:         "{{.Unclosed",
			wantErrSubstring: "parse system prompt template",
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
			membrane.clock = func() time.Time {
				return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
			}

			rendered, err := membrane.renderSystemPrompt(config.Distiller{
				Name:                 "evening-notes",
				Description:          "condenses the day",
				SystemPromptTemplate: testCase.template,
				TemplateVariables:    testCase.variables,
			})
			if testCase.wantErrSubstring != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErrSubstring) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstring)
				}
				return
			}
			if err != nil {
				t.Fatalf("renderSystemPrompt failed: %v", err)
			}
			if testCase.want != "" && rendered != testCase.want {
				t.Fatalf("rendered = %q, want %q", rendered, testCase.want)
			}
			for _, fragment := range testCase.wantContains {
				if !strings.Contains(rendered, fragment) {
					t.Fatalf("rendered = %q, want substring %q", rendered, fragment)
				}
			}
		})
	}
}

func TestBuildGenerateRequestMetadata(t *testing.T) {
	t.Parallel()

	membrane, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	req, err := membrane.buildGenerateRequest(config.Distiller{
		Name:                 "evening-notes",
		Description:          "condenses the day",
		Provider:             "openai-main",
		Model:                "gpt-4o-mini",
		SystemPromptTemplate: "distill observations",
		RequestTimeout:       5 * time.Second,
	}, "observation text")
	if err != nil {
		t.Fatalf("buildGenerateRequest failed: %v", err)
	}

	if len(req.Metadata) != 2 {
		t.Fatalf("metadata = %v, want only distiller and provider entries", req.Metadata)
	}
	if req.Metadata["distiller"] != "evening-notes" || req.Metadata["provider"] != "openai-main" {
		t.Fatalf("metadata = %v, want distiller and provider identity", req.Metadata)
	}
}

func TestBuildGenerateRequestValidates(t *testing.T) {
	t.Parallel()

	membrane, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = membrane.buildGenerateRequest(config.Distiller{
		Name:                 "evening-notes",
		Provider:             "openai-main",
		SystemPromptTemplate: "distill observations",
	}, "observation text")
	if err == nil || !strings.Contains(err.Error(), "validate generate request") {
		t.Fatalf("error = %v, want request validation failure", err)
	}
}

func TestParseDistillation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		text             string
		wantCount        int
		wantSkipped      int
		wantFirst        *garden.FragmentDraft
		wantErrSubstring string
	}{
		{
			name:      "plain candidate lines",
			text:      "self_reference|0.8|tracks its own uncertainty\nvalue_principle|0.9|prefers honesty over confidence",
			wantCount: 2,
			wantFirst: &garden.FragmentDraft{
				Aspect:     garden.AspectSelfReference,
				Content:    "tracks its own uncertainty",
				Confidence: 0.8,
			},
		},
		{
			name:      "bullet prefixes stripped",
			text:      "- self_reference|0.5|knows itself\n* value_principle|0.9|honesty first",
			wantCount: 2,
		},
		{
			name:      "pipes kept inside content",
			text:      "knowledge_domain|0.7|unix pipes | filters | streams",
			wantCount: 1,
			wantFirst: &garden.FragmentDraft{
				Aspect:     garden.AspectKnowledgeDomain,
				Content:    "unix pipes | filters | streams",
				Confidence: 0.7,
			},
		},
		{
			name:      "aspect names normalized",
			text:      "Self Reference|0.4|reflects before answering\nMeta-Reflection|0.6|thinks about its thinking",
			wantCount: 2,
			wantFirst: &garden.FragmentDraft{
				Aspect:     garden.AspectSelfReference,
				Content:    "reflects before answering",
				Confidence: 0.4,
			},
		},
		{
			name:        "unparsable confidence skipped",
			text:        "self_reference|high|discarded\nself_reference|0.5|kept",
			wantCount:   1,
			wantSkipped: 1,
		},
		{
			name:        "unknown aspect skipped",
			text:        "favorite_color|0.5|blue\nself_reference|0.5|kept",
			wantCount:   1,
			wantSkipped: 1,
		},
		{
			name:        "out of range confidence skipped",
			text:        "self_reference|1.5|discarded\nself_reference|0.5|kept",
			wantCount:   1,
			wantSkipped: 1,
		},
		{
			name:        "missing content field skipped",
			text:        "self_reference|0.5\nself_reference|0.5|kept",
			wantCount:   1,
			wantSkipped: 1,
		},
		{
			name:      "blank lines ignored",
			text:      "\n\nself_reference|0.5|kept\n\n",
			wantCount: 1,
		},
		{
			name:             "nothing parsable",
			text:             "garbage\nmore garbage",
			wantErrSubstring: "no parsable fragment lines",
		},
		{
			name:             "empty output",
			text:             "   \n  ",
			wantErrSubstring: "empty distiller output",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			drafts, skipped, err := parseDistillation(testCase.text)
			if testCase.wantErrSubstring != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErrSubstring) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstring)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDistillation failed: %v", err)
			}
			if len(drafts) != testCase.wantCount {
				t.Fatalf("drafts = %d, want %d", len(drafts), testCase.wantCount)
			}
			if skipped != testCase.wantSkipped {
				t.Fatalf("skipped = %d, want %d", skipped, testCase.wantSkipped)
			}
			if testCase.wantFirst != nil {
				first := drafts[0]
				if first.Aspect != testCase.wantFirst.Aspect {
					t.Fatalf("aspect = %s, want %s", first.Aspect, testCase.wantFirst.Aspect)
				}
				if first.Content != testCase.wantFirst.Content {
					t.Fatalf("content = %q, want %q", first.Content, testCase.wantFirst.Content)
				}
				if first.Confidence != testCase.wantFirst.Confidence {
					t.Fatalf("confidence = %v, want %v", first.Confidence, testCase.wantFirst.Confidence)
				}
			}
		})
	}
}
