package client

import (
	"strings"

	"github.com/google/cel-go/cel"
)

// celFilter wraps a compiled CEL program evaluated against checkpoint
// update records. When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("taskId", cel.StringType),
		cel.Variable("frameworkId", cel.StringType),
		cel.Variable("state", cel.StringType),
		cel.Variable("message", cel.StringType),
		cel.Variable("uuid", cel.StringType),
		cel.Variable("terminal", cel.BoolType),
		cel.Variable("acked", cel.BoolType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression. When disabled, returns true.
func (f celFilter) Eval(vars map[string]any) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(vars)
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
