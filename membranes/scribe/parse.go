package scribe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"garden-of-memory/pkg/garden"
)

// parseDistillation extracts fragment drafts from raw distiller output.
//
// The expected shape is one candidate per line, "aspect|confidence|content".
// Lines that fail to parse are skipped and counted rather than failing the
// whole distillation; output with no parsable line at all is an error.
func parseDistillation(text string) ([]garden.FragmentDraft, int, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, 0, errors.New("empty distiller output")
	}

	var drafts []garden.FragmentDraft
	skipped := 0
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")

		draft, err := parseFragmentLine(line)
		if err != nil {
			skipped++
			continue
		}
		drafts = append(drafts, draft)
	}

	if len(drafts) == 0 {
		return nil, skipped, fmt.Errorf("no parsable fragment lines in distiller output (%d skipped)", skipped)
	}

	return drafts, skipped, nil
}

// parseFragmentLine decodes one "aspect|confidence|content" candidate.
func parseFragmentLine(line string) (garden.FragmentDraft, error) {
	parts := strings.SplitN(line, "|", 3)
	if len(parts) != 3 {
		return garden.FragmentDraft{}, fmt.Errorf("expected aspect|confidence|content, got %d fields", len(parts))
	}

	confidence, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return garden.FragmentDraft{}, fmt.Errorf("parse confidence: %w", err)
	}

	draft := garden.FragmentDraft{
		Aspect:     normalizeAspect(parts[0]),
		Content:    strings.TrimSpace(parts[2]),
		Confidence: confidence,
	}
	if err := draft.Validate(); err != nil {
		return garden.FragmentDraft{}, err
	}

	return draft, nil
}

// normalizeAspect maps loosely formatted aspect names onto canonical ones.
func normalizeAspect(raw string) garden.Aspect {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")

	return garden.Aspect(name)
}
