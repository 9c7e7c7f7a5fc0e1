// Package sequences provides loading and building of task sequences defined
// in YAML files.
package sequences

// Sequence is the file form of a task sequence.
type Sequence struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	RunCount    *int            `yaml:"run_count,omitempty"`
	Priority    bool            `yaml:"priority,omitempty"`
	Operations  []OperationSpec `yaml:"operations"`
	Variables   []SequenceVar   `yaml:"variables,omitempty"`
	Tags        []string        `yaml:"tags,omitempty"`
	Source      string          `yaml:"-"` // file path or "builtin"
}

// OperationSpec describes one operation. Keys other than the fixed ones are
// variant parameters and may contain templates.
type OperationSpec struct {
	Type       string            `yaml:"type"`
	Enabled    *bool             `yaml:"enabled,omitempty"`
	Trigger    *TriggerSpec      `yaml:"trigger,omitempty"`
	Conditions []ConditionSpec   `yaml:"conditions,omitempty"`
	Params     map[string]string `yaml:",inline"`
}

// ConditionSpec describes one condition gating an operation.
type ConditionSpec struct {
	Type       string            `yaml:"type"`
	Enabled    *bool             `yaml:"enabled,omitempty"`
	OutputMode string            `yaml:"output_mode,omitempty"`
	Params     map[string]string `yaml:",inline"`
}

// TriggerSpec is the file form of a random trigger.
type TriggerSpec struct {
	MinWait string `yaml:"min_wait,omitempty"`
	MaxWait string `yaml:"max_wait,omitempty"`
	Chance  uint32 `yaml:"chance,omitempty"`
}

// SequenceVar describes a variable used in a sequence.
type SequenceVar struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Default     string `yaml:"default,omitempty"`
	Required    bool   `yaml:"required"`
}
