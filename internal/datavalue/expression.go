package datavalue

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Expression is a compiled numeric expression over the variable v, such as
// "v * 2" or "v + 0x10". Compile once and evaluate per value.
type Expression struct {
	source  string
	target  DataType
	program *vm.Program
}

// CompileExpression compiles src for values of type t.
func CompileExpression(src string, t DataType) (*Expression, error) {
	if !t.IsNumeric() {
		return nil, fmt.Errorf("%w: expressions need a numeric type, got %s", ErrInvalidValue, t)
	}
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidValue)
	}

	program, err := expr.Compile(src, expr.Env(expressionEnv(t, nil)))
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", src, err)
	}
	return &Expression{source: src, target: t, program: program}, nil
}

// Source returns the expression text.
func (e *Expression) Source() string { return e.source }

// Evaluate runs the expression with v bound to current and converts the result
// to the expression's type.
func (e *Expression) Evaluate(current Numeric) (Numeric, error) {
	out, err := expr.Run(e.program, expressionEnv(e.target, current))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", e.source, err)
	}

	switch r := out.(type) {
	case int:
		return FromInt64(e.target, int64(r))
	case int64:
		return FromInt64(e.target, r)
	case float64:
		return FromFloat64(e.target, r)
	case bool:
		if r {
			return FromInt64(e.target, 1)
		}
		return FromInt64(e.target, 0)
	}
	return nil, fmt.Errorf("%w: expression %q produced %T", ErrInvalidValue, e.source, out)
}

func expressionEnv(t DataType, current Numeric) map[string]any {
	if t.IsFloat() {
		var v float64
		if current != nil {
			v = current.Float64()
		}
		return map[string]any{"v": v}
	}
	var v int
	if current != nil {
		v = int(current.Int64())
	}
	return map[string]any{"v": v}
}

// ParseExpression parses text as a literal of type t, falling back to an
// expression over v evaluated against current when it is not a plain literal.
func ParseExpression(text string, t DataType, opts Options, current Numeric) (Value, error) {
	v, err := Parse(text, t, opts)
	if err == nil || !t.IsNumeric() {
		return v, err
	}

	e, cerr := CompileExpression(text, t)
	if cerr != nil {
		return nil, fmt.Errorf("%w: %q is neither a %s literal nor an expression", ErrInvalidValue, text, t)
	}
	if current == nil {
		current, _ = Zero(t)
	}
	return e.Evaluate(current)
}
