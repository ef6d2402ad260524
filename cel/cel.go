// Package cel evaluates CEL filter expressions against submission items, for
// the admin inspection API.
package cel

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
)

// Evaluator struct contains the CEL expression & the cel program used to evaluate the expression vs. an item.
type Evaluator struct {
	Expression string
	program    cel.Program
}

// NewEvaluator instantiates a CEL evaluator for filtering submission items.
// The expression sees one variable, "item", the JSON shape of a submission
// (e.g. "item.status == 'Failed' && item.failureCount > 2") and must yield a boolean.
func NewEvaluator(expression string) (*Evaluator, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression can't be empty string")
	}

	env, err := cel.NewEnv(
		// Declare the item variable based on the JSON/map[string]any shape evaluated against.
		cel.Variable("item", cel.MapType(cel.StringType, cel.AnyType)),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %v", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error compiling CEL expression: %v", issues.Err())
	}
	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("error creating Program: %v", err)
	}
	return &Evaluator{
		Expression: expression,
		program:    p,
	}, nil
}

// Evaluate runs the expression against one item map and returns the boolean outcome.
func (e *Evaluator) Evaluate(item map[string]any) (bool, error) {
	out, _, err := e.program.Eval(map[string]any{
		"item": item,
	})
	if err != nil {
		return false, fmt.Errorf("error evaluating CEL expression: %v", err)
	}
	nv, err := out.ConvertToNative(reflect.TypeOf(false))
	if err != nil {
		return false, fmt.Errorf("error ConvertToNative, got err: %v", err)
	}
	if v, ok := nv.(bool); !ok {
		return false, fmt.Errorf("expression did not yield a boolean, nv: %v", nv)
	} else {
		return v, nil
	}
}
