package sequences

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/opencode-ai/memengine/internal/sequencing"
)

// ErrNotFound is returned when no sequence has the requested name.
var ErrNotFound = errors.New("sequence not found")

// Build renders seq with vars and constructs a runnable TaskSequence from
// the registry's variants. A nil registry uses sequencing.DefaultRegistry.
func Build(seq *Sequence, vars map[string]string, registry *sequencing.Registry, opts ...sequencing.Option) (*sequencing.TaskSequence, error) {
	if seq == nil {
		return nil, fmt.Errorf("sequence is required")
	}
	if registry == nil {
		registry = sequencing.DefaultRegistry
	}

	data, err := resolveVariables(seq, vars)
	if err != nil {
		return nil, err
	}

	options := []sequencing.Option{
		sequencing.WithDescription(seq.Description),
		sequencing.WithPriority(seq.Priority),
	}
	if seq.RunCount != nil {
		options = append(options, sequencing.WithRunCount(*seq.RunCount))
	}
	options = append(options, opts...)
	task := sequencing.NewTaskSequence(seq.Name, options...)

	for i, spec := range seq.Operations {
		op, err := buildOperation(seq.Name, spec, data, registry)
		if err != nil {
			return nil, fmt.Errorf("build sequence %q operation %d: %w", seq.Name, i+1, err)
		}
		if err := task.AddOperation(op); err != nil {
			return nil, fmt.Errorf("build sequence %q operation %d: %w", seq.Name, i+1, err)
		}
	}

	return task, nil
}

func buildOperation(name string, spec OperationSpec, data map[string]string, registry *sequencing.Registry) (sequencing.Operation, error) {
	params, err := renderParams(name, spec.Params, data)
	if err != nil {
		return nil, err
	}
	op, err := registry.NewOperation(spec.Type, params)
	if err != nil {
		return nil, err
	}

	base := op.Base()
	if spec.Enabled != nil {
		base.SetEnabled(*spec.Enabled)
	}
	if spec.Trigger != nil {
		trigger, err := spec.Trigger.toTrigger()
		if err != nil {
			return nil, err
		}
		base.SetTrigger(trigger)
	}

	for i, cs := range spec.Conditions {
		condition, err := buildCondition(name, cs, data, registry)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i+1, err)
		}
		if err := base.AddCondition(condition); err != nil {
			return nil, err
		}
	}
	return op, nil
}

func buildCondition(name string, spec ConditionSpec, data map[string]string, registry *sequencing.Registry) (sequencing.Condition, error) {
	params, err := renderParams(name, spec.Params, data)
	if err != nil {
		return nil, err
	}
	condition, err := registry.NewCondition(spec.Type, params)
	if err != nil {
		return nil, err
	}

	mode, err := sequencing.ParseOutputMode(spec.OutputMode)
	if err != nil {
		return nil, err
	}
	condition.Base().SetOutputMode(mode)
	if spec.Enabled != nil {
		condition.Base().SetEnabled(*spec.Enabled)
	}
	return condition, nil
}

func resolveVariables(seq *Sequence, vars map[string]string) (map[string]string, error) {
	data := make(map[string]string, len(vars))
	for key, value := range vars {
		data[key] = value
	}

	for _, variable := range seq.Variables {
		value := strings.TrimSpace(data[variable.Name])
		if value == "" {
			if variable.Default != "" {
				data[variable.Name] = variable.Default
				continue
			}
			if variable.Required {
				return nil, fmt.Errorf("missing required variable %q", variable.Name)
			}
		}
	}
	return data, nil
}

func renderParams(name string, params map[string]string, data map[string]string) (sequencing.Params, error) {
	out := make(sequencing.Params, len(params))
	for key, value := range params {
		rendered, err := renderText(name, value, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[key] = strings.TrimSpace(rendered)
	}
	return out, nil
}

func renderText(name, content string, data map[string]string) (string, error) {
	if !strings.Contains(content, "{{") {
		return content, nil
	}

	parsed, err := template.New(name).
		Funcs(template.FuncMap{"default": defaultValue}).
		Option("missingkey=zero").
		Parse(content)
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", name, err)
	}

	var out strings.Builder
	if err := parsed.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render template %q: %w", name, err)
	}

	return out.String(), nil
}

func defaultValue(def string, value any) string {
	if value == nil {
		return def
	}

	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	default:
		text := strings.TrimSpace(fmt.Sprint(v))
		if text == "" {
			return def
		}
		return text
	}
}
