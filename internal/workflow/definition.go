package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"garden-of-memory/pkg/garden"
)

// Definition is the on-disk YAML form of a workflow specification.
type Definition struct {
	Name  string           `yaml:"name"`
	Steps []StepDefinition `yaml:"steps"`
}

// StepDefinition is the on-disk YAML form of one workflow step.
type StepDefinition struct {
	Name       string            `yaml:"name"`
	Capability string            `yaml:"capability"`
	Input      map[string]any    `yaml:"input"`
	Bindings   map[string]string `yaml:"bindings"`
	OnFailure  string            `yaml:"on_failure"`
}

// Spec converts the definition to its validated runtime form.
func (d Definition) Spec() (garden.WorkflowSpec, error) {
	spec := garden.WorkflowSpec{
		Name:  d.Name,
		Steps: make([]garden.StepSpec, 0, len(d.Steps)),
	}
	for _, step := range d.Steps {
		spec.Steps = append(spec.Steps, garden.StepSpec{
			Name:       step.Name,
			Capability: step.Capability,
			Input:      step.Input,
			Bindings:   step.Bindings,
			OnFailure:  garden.FailurePolicy(step.OnFailure),
		})
	}
	if err := spec.Validate(); err != nil {
		return garden.WorkflowSpec{}, err
	}

	return spec, nil
}

// ParseDefinition parses one YAML workflow document into a validated
// specification. Unknown fields and trailing documents are rejected.
func ParseDefinition(data []byte) (garden.WorkflowSpec, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var definition Definition
	if err := decoder.Decode(&definition); err != nil {
		return garden.WorkflowSpec{}, fmt.Errorf("parse workflow definition: %w", err)
	}
	if err := decoder.Decode(new(Definition)); !errors.Is(err, io.EOF) {
		return garden.WorkflowSpec{}, fmt.Errorf("parse workflow definition: unexpected trailing document")
	}

	spec, err := definition.Spec()
	if err != nil {
		return garden.WorkflowSpec{}, fmt.Errorf("parse workflow definition: %w", err)
	}

	return spec, nil
}

// LoadDefinitionFile reads and parses one workflow definition file.
func LoadDefinitionFile(path string) (garden.WorkflowSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return garden.WorkflowSpec{}, fmt.Errorf("load workflow definition: %w", err)
	}

	spec, err := ParseDefinition(data)
	if err != nil {
		return garden.WorkflowSpec{}, fmt.Errorf("load workflow definition %s: %w", path, err)
	}

	return spec, nil
}

// LoadDefinitionDir loads every .yaml and .yml workflow definition under dir
// in lexical name order. A missing directory yields no definitions.
func LoadDefinitionDir(dir string) ([]garden.WorkflowSpec, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow definitions: %w", err)
	}

	var specs []garden.WorkflowSpec
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		extension := strings.ToLower(filepath.Ext(entry.Name()))
		if extension != ".yaml" && extension != ".yml" {
			continue
		}

		spec, err := LoadDefinitionFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	return specs, nil
}
