package workflow

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Allowed lists the built-in placeholders usable in step commands
var Allowed = []string{"workflow", "step_id", "home"}

// Regular expression to match placeholders {name}
var rePH = regexp.MustCompile(`\{[a-zA-Z_][a-zA-Z0-9_]*\}`)

// BuildVarMap builds the variables for one step with priority:
// 1. Environment variables QC_VAR_<NAME> (highest priority)
// 2. Definition vars
// 3. Built-in values (lowest priority)
func BuildVarMap(def *Definition, stepID string) map[string]string {
	vars := map[string]string{
		"workflow": def.Name,
		"step_id":  stepID,
		"home":     os.Getenv("QC_HOME"),
	}
	if vars["home"] == "" {
		vars["home"] = ".quotacycle"
	}

	for k, v := range def.Vars {
		vars[k] = v
	}

	for k := range vars {
		if v := os.Getenv("QC_VAR_" + strings.ToUpper(k)); v != "" {
			vars[k] = v
		}
	}
	return vars
}

// ValidatePlaceholders splits the placeholders in text into unknown and used names
func ValidatePlaceholders(text string, vars map[string]string) (unknown []string, used []string) {
	cleanText := strings.ReplaceAll(text, `\{`, "\x00ESCAPED_BRACE\x00")

	seen := map[string]struct{}{}
	for _, ph := range rePH.FindAllString(cleanText, -1) {
		name := ph[1 : len(ph)-1]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		if _, ok := vars[name]; ok {
			used = append(used, name)
		} else {
			unknown = append(unknown, name)
		}
	}
	return unknown, used
}

// Expand replaces placeholders in text. Escaped braces (\{) are kept literally.
func Expand(text string, vars map[string]string) (string, error) {
	if unknown, _ := ValidatePlaceholders(text, vars); len(unknown) > 0 {
		return "", fmt.Errorf("unknown placeholders %v", unknown)
	}

	out := strings.ReplaceAll(text, `\{`, "\x00ESCAPED_BRACE\x00")
	out = rePH.ReplaceAllStringFunc(out, func(ph string) string {
		return vars[ph[1:len(ph)-1]]
	})
	return strings.ReplaceAll(out, "\x00ESCAPED_BRACE\x00", "{"), nil
}

func expandCommands(def *Definition) error {
	for i := range def.Steps {
		step := &def.Steps[i]
		if len(step.Command) == 0 {
			continue
		}
		vars := BuildVarMap(def, step.ID)
		for j, arg := range step.Command {
			expanded, err := Expand(arg, vars)
			if err != nil {
				return fmt.Errorf("workflow.steps[%d].command[%d]: %w", i, j, err)
			}
			step.Command[j] = expanded
		}
	}
	return nil
}
