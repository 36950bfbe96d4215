package scribe

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"garden-of-memory/pkg/garden"
	"garden-of-memory/pkg/llm/config"
)

// buildGenerateRequest assembles the provider request for one observation.
func (m *Membrane) buildGenerateRequest(distiller config.Distiller, observation string) (garden.LLMGenerateRequest, error) {
	systemPrompt, err := m.renderSystemPrompt(distiller)
	if err != nil {
		return garden.LLMGenerateRequest{}, err
	}

	metadata := make(map[string]string, len(distiller.RequestMetadata)+2)
	for key, value := range distiller.RequestMetadata {
		metadata[key] = value
	}
	metadata[metadataKeyDistiller] = distiller.Name
	metadata[metadataKeyProvider] = distiller.Provider

	req := garden.LLMGenerateRequest{
		Model: distiller.Model,
		Messages: []garden.LLMMessage{
			{Role: garden.LLMMessageRoleSystem, Content: systemPrompt},
			{Role: garden.LLMMessageRoleUser, Content: observation},
		},
		MaxOutputTokens: distiller.MaxOutputTokens,
		Temperature:     distiller.Temperature,
		Metadata:        metadata,
	}
	if err := req.Validate(); err != nil {
		return garden.LLMGenerateRequest{}, fmt.Errorf("validate generate request: %w", err)
	}

	return req, nil
}

// renderSystemPrompt executes the distiller template with time and aspect
// context. Unknown template keys fail rendering.
func (m *Membrane) renderSystemPrompt(distiller config.Distiller) (string, error) {
	tmpl, err := template.New("system_prompt").Option("missingkey=error").Parse(distiller.SystemPromptTemplate)
	if err != nil {
		return "", fmt.Errorf("parse system prompt template: %w", err)
	}

	now := m.now()
	data := map[string]any{
		"Now":                  now,
		"NowRFC3339":           now.Format(time.RFC3339),
		"DateTimeUTC":          now.Format("2006-01-02 15:04:05 MST"),
		"DateUTC":              now.Format("2006-01-02"),
		"TimeUTC":              now.Format("15:04:05"),
		"Unix":                 now.Unix(),
		"DistillerName":        distiller.Name,
		"DistillerDescription": distiller.Description,
		"Aspects":              aspectNames(),
		"TemplateVariables":    cloneStringMap(distiller.TemplateVariables),
	}
	for key, value := range distiller.TemplateVariables {
		data[key] = value
	}

	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, data); err != nil {
		return "", fmt.Errorf("render system prompt template: %w", err)
	}

	systemPrompt := strings.TrimSpace(rendered.String())
	if systemPrompt == "" {
		return "", errors.New("rendered system prompt is empty")
	}

	return systemPrompt, nil
}

func aspectNames() []string {
	aspects := garden.Aspects()
	names := make([]string, 0, len(aspects))
	for _, aspect := range aspects {
		names = append(names, string(aspect))
	}

	return names
}

func cloneStringMap(source map[string]string) map[string]string {
	cloned := make(map[string]string, len(source))
	for key, value := range source {
		cloned[key] = value
	}

	return cloned
}
