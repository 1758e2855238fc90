package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
)

// renamedFields maps step keys from older definition files to their current name
var renamedFields = map[string]string{
	"skipped": "skip",
	"group":   "parallel_group",
}

// LoadWorkflow loads and validates a workflow definition from the OS filesystem
func LoadWorkflow(ctx context.Context, wfPath string) (*Definition, error) {
	return Load(afero.NewOsFs(), wfPath)
}

// Load reads, decodes and validates the definition at wfPath on fs.
// Placeholders in step commands are expanded before returning.
func Load(fs afero.Fs, wfPath string) (*Definition, error) {
	data, err := afero.ReadFile(fs, wfPath)
	if err != nil {
		return nil, fmt.Errorf("workflow: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes a definition with strict field checking and validates it
func Parse(data []byte) (*Definition, error) {
	if err := checkRenamedFields(data); err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("workflow: parse: %w", err)
	}

	if err := validateDefinition(&def); err != nil {
		return nil, err
	}
	if err := expandCommands(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// checkRenamedFields rejects step keys that were renamed, naming the replacement
func checkRenamedFields(data []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil // let the strict decoder report it
	}

	steps, ok := raw["steps"].([]interface{})
	if !ok {
		return nil
	}
	for i, stepRaw := range steps {
		step, ok := stepRaw.(map[string]interface{})
		if !ok {
			continue
		}
		for old, current := range renamedFields {
			if _, has := step[old]; has {
				return fmt.Errorf(`workflow.steps[%d]: %q is not allowed (use %s)`, i, old, current)
			}
		}
	}
	return nil
}

func validateDefinition(def *Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return errors.New(`workflow: "name" is required`)
	}
	if len(def.Steps) == 0 {
		return errors.New(`workflow: "steps" must be a non-empty array`)
	}
	if def.MaxCycles != nil && *def.MaxCycles < 1 {
		return fmt.Errorf(`workflow: "max_cycles" must be positive, got %d`, *def.MaxCycles)
	}

	seen := make(map[string]struct{})
	for i, step := range def.Steps {
		idx := fmt.Sprintf("workflow.steps[%d]", i)

		if strings.TrimSpace(step.ID) == "" {
			return fmt.Errorf(`%s: "id" is required`, idx)
		}
		if _, exists := seen[step.ID]; exists {
			return fmt.Errorf(`%s: duplicate id "%s"`, idx, step.ID)
		}
		seen[step.ID] = struct{}{}

		if step.Command != nil {
			if len(step.Command) == 0 || strings.TrimSpace(step.Command[0]) == "" {
				return fmt.Errorf(`%s: "command" must name a program`, idx)
			}
		}
	}
	return nil
}

// Workflow converts the definition into the engine's workflow model
func (d *Definition) Workflow() cycle.Workflow {
	w := cycle.Workflow{
		Name:      d.Name,
		MaxCycles: d.MaxCycles,
		Steps:     make([]cycle.Step, 0, len(d.Steps)),
	}
	for _, s := range d.Steps {
		w.Steps = append(w.Steps, cycle.Step{
			StepID:        s.ID,
			Name:          s.Name,
			Skipped:       s.Skip,
			ParallelGroup: s.ParallelGroup,
		})
	}
	return w
}

// Commands returns the command line of every step that declares one, by step ID
func (d *Definition) Commands() map[string][]string {
	cmds := make(map[string][]string)
	for _, s := range d.Steps {
		if len(s.Command) > 0 {
			cmds[s.ID] = append([]string(nil), s.Command...)
		}
	}
	return cmds
}
