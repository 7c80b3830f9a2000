package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Step is one unit of a workflow. Needs lists step names that must succeed
// before this step runs.
type Step struct {
	Name    string   `yaml:"name"`
	Run     []string `yaml:"run"`
	Needs   []string `yaml:"needs,omitempty"`
	WorkDir string   `yaml:"workdir,omitempty"`
}

// Definition is one parsed workflow file.
type Definition struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Steps       []Step `yaml:"steps"`
}

// ParseDefinition decodes and validates one workflow document.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow has no name")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", d.Name)
	}

	seen := make(map[string]bool, len(d.Steps))
	for _, step := range d.Steps {
		if step.Name == "" {
			return fmt.Errorf("workflow %s: step with empty name", d.Name)
		}
		if seen[step.Name] {
			return fmt.Errorf("workflow %s: duplicate step %s", d.Name, step.Name)
		}
		seen[step.Name] = true
		if len(step.Run) == 0 {
			return fmt.Errorf("workflow %s: step %s has no commands", d.Name, step.Name)
		}
	}
	for _, step := range d.Steps {
		for _, need := range step.Needs {
			if !seen[need] {
				return fmt.Errorf("workflow %s: step %s needs unknown step %s", d.Name, step.Name, need)
			}
		}
	}

	if _, err := d.order(); err != nil {
		return err
	}
	return nil
}

// order returns the steps in a dependency-respecting sequence. Among ready
// steps the original file order is kept.
func (d *Definition) order() ([]Step, error) {
	byName := make(map[string]Step, len(d.Steps))
	indegree := make(map[string]int, len(d.Steps))
	for _, step := range d.Steps {
		byName[step.Name] = step
		indegree[step.Name] = len(step.Needs)
	}

	var out []Step
	done := make(map[string]bool, len(d.Steps))
	for len(out) < len(d.Steps) {
		progressed := false
		for _, step := range d.Steps {
			if done[step.Name] || indegree[step.Name] > 0 {
				continue
			}
			out = append(out, step)
			done[step.Name] = true
			progressed = true
			for _, other := range d.Steps {
				for _, need := range other.Needs {
					if need == step.Name {
						indegree[other.Name]--
					}
				}
			}
		}
		if !progressed {
			var stuck []string
			for name := range indegree {
				if !done[name] {
					stuck = append(stuck, name)
				}
			}
			sort.Strings(stuck)
			return nil, fmt.Errorf("workflow %s: dependency cycle among %s",
				d.Name, strings.Join(stuck, ", "))
		}
	}
	return out, nil
}

// LoadDir reads every *.yaml / *.yml definition under dir. A missing
// directory yields an empty set.
func LoadDir(dir string) (map[string]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string]*Definition{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}

	defs := make(map[string]*Definition)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read workflow %s: %w", entry.Name(), err)
		}
		def, err := ParseDefinition(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		if _, dup := defs[def.Name]; dup {
			return nil, fmt.Errorf("duplicate workflow name %s in %s", def.Name, entry.Name())
		}
		defs[def.Name] = def
	}
	return defs, nil
}
