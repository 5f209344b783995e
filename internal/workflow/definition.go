// Package workflow loads, validates, and runs dependency-ordered
// multi-step workflow definitions.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/anvilcode/anvil/internal/dag"
)

// Defaults are workflow-wide fallbacks applied to steps that do not set
// their own values.
type Defaults struct {
	Model         string  `yaml:"model"`
	MaxIterations int     `yaml:"max_iterations"`
	BudgetUSD     float64 `yaml:"budget_usd"`
}

// Step is one named unit of work inside a workflow.
type Step struct {
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"`
	// Spec is a path to a file, relative to the workflow file, whose
	// contents are appended to the prompt at load time. A step needs a
	// prompt, a spec, or both.
	Spec          string   `yaml:"spec"`
	Model         string   `yaml:"model"`
	MaxIterations int      `yaml:"max_iterations"`
	BudgetUSD     float64  `yaml:"budget_usd"`
	DependsOn     []string `yaml:"depends_on"`
	// ParallelGroup is an advisory grouping hint. Scheduling always
	// follows dependency completion; the hint only affects presentation.
	ParallelGroup int `yaml:"parallel_group"`
}

// Definition is an immutable workflow loaded from YAML.
type Definition struct {
	Name     string   `yaml:"name"`
	Defaults Defaults `yaml:"defaults"`
	Steps    []Step   `yaml:"steps"`
}

// Load reads and validates a workflow definition from a YAML file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", path, err)
	}

	// Spec files are folded into prompts here so the loaded definition is
	// self-contained.
	base := filepath.Dir(path)
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.Spec == "" {
			continue
		}
		spec, err := os.ReadFile(filepath.Join(base, step.Spec))
		if err != nil {
			return nil, fmt.Errorf("step %q: read spec file: %w", step.Name, err)
		}
		step.Prompt = strings.TrimSpace(step.Prompt + "\n\n" + string(spec))
	}

	if _, err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// ValidationResult carries non-fatal findings from Validate.
type ValidationResult struct {
	Warnings []string
}

// Validate checks the definition for structural problems. Errors reject
// the whole workflow before any step starts; warnings are advisory.
func (d *Definition) Validate() (*ValidationResult, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("workflow has no name")
	}
	if len(d.Steps) == 0 {
		return nil, fmt.Errorf("workflow %q has no steps", d.Name)
	}
	for _, step := range d.Steps {
		if step.Prompt == "" && step.Spec == "" {
			return nil, fmt.Errorf("step %q has neither a prompt nor a spec file", step.Name)
		}
	}

	graph, err := d.Graph()
	if err != nil {
		return nil, err
	}

	res := &ValidationResult{}

	// Group hints are advisory only. Flag hints that disagree with the
	// dependency-derived group so the author knows they will be ignored.
	groupOf := make(map[string]int)
	for i, group := range graph.ExecutionGroups() {
		for _, name := range group {
			groupOf[name] = i
		}
	}
	for _, step := range d.Steps {
		if step.ParallelGroup > 0 && step.ParallelGroup != groupOf[step.Name] {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"step %q declares parallel_group %d but its dependencies place it in group %d; the hint is ignored",
				step.Name, step.ParallelGroup, groupOf[step.Name]))
		}
		if step.BudgetUSD == 0 && d.Defaults.BudgetUSD == 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("step %q has no budget; cost is uncapped", step.Name))
		}
	}

	return res, nil
}

// Graph builds the validated dependency graph for the definition.
func (d *Definition) Graph() (*dag.Graph, error) {
	nodes := make([]dag.Node, len(d.Steps))
	for i, step := range d.Steps {
		nodes[i] = dag.Node{Name: step.Name, DependsOn: step.DependsOn}
	}
	return dag.Build(nodes)
}

// StepByName returns the step with the given name.
func (d *Definition) StepByName(name string) (*Step, bool) {
	for i := range d.Steps {
		if d.Steps[i].Name == name {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// StepNames returns all step names in declaration order.
func (d *Definition) StepNames() []string {
	names := make([]string, len(d.Steps))
	for i, step := range d.Steps {
		names[i] = step.Name
	}
	return names
}

// resolve applies workflow defaults to one step.
func (d *Definition) resolve(step *Step) (model string, maxIterations int, budget float64) {
	model = step.Model
	if model == "" {
		model = d.Defaults.Model
	}
	maxIterations = step.MaxIterations
	if maxIterations == 0 {
		maxIterations = d.Defaults.MaxIterations
	}
	budget = step.BudgetUSD
	if budget == 0 {
		budget = d.Defaults.BudgetUSD
	}
	return model, maxIterations, budget
}
