package sequences

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/memengine/internal/sequencing"
)

// LoadSequence reads a single sequence from disk.
func LoadSequence(path string) (*Sequence, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sequence path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sequence %s: %w", path, err)
	}

	seq, err := parseSequence(data)
	if err != nil {
		return nil, fmt.Errorf("parse sequence %s: %w", path, err)
	}
	seq.Source = path
	return seq, nil
}

// LoadSequencesFromDir loads all sequences from a directory.
func LoadSequencesFromDir(dir string) ([]*Sequence, error) {
	if strings.TrimSpace(dir) == "" {
		return []*Sequence{}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Sequence{}, nil
		}
		return nil, fmt.Errorf("read sequences dir %s: %w", dir, err)
	}

	sequences := make([]*Sequence, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		seq, err := LoadSequence(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		sequences = append(sequences, seq)
	}

	sort.Slice(sequences, func(i, j int) bool {
		return sequences[i].Name < sequences[j].Name
	})

	return sequences, nil
}

// Marshal encodes a sequence back to YAML.
func Marshal(seq *Sequence) ([]byte, error) {
	return yaml.Marshal(seq)
}

func parseSequence(data []byte) (*Sequence, error) {
	var seq Sequence
	if err := yaml.Unmarshal(data, &seq); err != nil {
		return nil, err
	}

	seq.Name = strings.TrimSpace(seq.Name)
	if seq.Name == "" {
		return nil, fmt.Errorf("sequence name is required")
	}
	seq.Description = strings.TrimSpace(seq.Description)

	if len(seq.Operations) == 0 {
		return nil, fmt.Errorf("sequence operations are required")
	}
	if seq.RunCount != nil && *seq.RunCount < sequencing.InfiniteRuns {
		return nil, fmt.Errorf("run_count must be -1 (infinite) or at least 0")
	}

	seen := make(map[string]struct{})
	for i := range seq.Variables {
		name := strings.TrimSpace(seq.Variables[i].Name)
		if name == "" {
			return nil, fmt.Errorf("sequence variable name is required")
		}
		if _, exists := seen[name]; exists {
			return nil, fmt.Errorf("duplicate sequence variable %q", name)
		}
		seen[name] = struct{}{}
		seq.Variables[i].Name = name
	}

	for i := range seq.Operations {
		if err := normalizeOperation(&seq.Operations[i]); err != nil {
			return nil, fmt.Errorf("sequence operation %d: %w", i+1, err)
		}
	}

	return &seq, nil
}

func normalizeOperation(op *OperationSpec) error {
	op.Type = normalizeKind(op.Type)
	if op.Type == "" {
		return fmt.Errorf("operation type is required")
	}
	if !contains(sequencing.DefaultRegistry.OperationKinds(), op.Type) {
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
	op.Params = trimParams(op.Params)

	if op.Trigger != nil {
		if _, err := op.Trigger.toTrigger(); err != nil {
			return err
		}
	}

	for i := range op.Conditions {
		if err := normalizeCondition(&op.Conditions[i]); err != nil {
			return fmt.Errorf("condition %d: %w", i+1, err)
		}
	}
	return nil
}

func normalizeCondition(c *ConditionSpec) error {
	c.Type = normalizeKind(c.Type)
	if c.Type == "" {
		return fmt.Errorf("condition type is required")
	}
	if !contains(sequencing.DefaultRegistry.ConditionKinds(), c.Type) {
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	c.OutputMode = strings.TrimSpace(c.OutputMode)
	if _, err := sequencing.ParseOutputMode(c.OutputMode); err != nil {
		return err
	}
	c.Params = trimParams(c.Params)
	return nil
}

func (t *TriggerSpec) toTrigger() (*sequencing.RandomTrigger, error) {
	minWait, err := parseWait(t.MinWait)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger min_wait: %w", err)
	}
	maxWait, err := parseWait(t.MaxWait)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger max_wait: %w", err)
	}
	if maxWait == 0 {
		maxWait = minWait
	}

	trigger := &sequencing.RandomTrigger{MinWait: minWait, MaxWait: maxWait, Chance: t.Chance}
	if err := trigger.Validate(); err != nil {
		return nil, err
	}
	return trigger, nil
}

func parseWait(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func normalizeKind(kind string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(kind)), "-", "_")
}

func trimParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for key, value := range params {
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
