package workflow

// StepDef is one step of a workflow definition file
type StepDef struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name,omitempty"`
	Skip          bool     `yaml:"skip,omitempty"`
	ParallelGroup string   `yaml:"parallel_group,omitempty"`
	Command       []string `yaml:"command,omitempty"`
}

// Definition is the on-disk form of a workflow
type Definition struct {
	Name      string            `yaml:"name"`
	MaxCycles *int              `yaml:"max_cycles,omitempty"`
	Vars      map[string]string `yaml:"vars,omitempty"`
	Steps     []StepDef         `yaml:"steps"`
}
