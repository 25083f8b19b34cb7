package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// DerivedField is a computed report field: a CEL expression over the
// incoming document (bound as the `report` variable) whose result is
// exposed to rules under the "derived." path namespace. The standard
// rulesets use these for quality indicators the extractor does not emit
// directly, e.g.
//
//	{Name: "attendance_gap", Expression: "report.beneficiaries.expected_count - report.beneficiaries.actual_count"}
//
// which a rule can then reference as field "derived.attendance_gap".
type DerivedField struct {
	Name       string `json:"name" yaml:"name"`
	Expression string `json:"expression" yaml:"expression"`
}

type compiledDerived struct {
	name    string
	program cel.Program
}

// WithDerivedFields compiles the given derived fields into the engine.
// Compilation errors fail engine construction; evaluation errors at
// runtime are false-safe (the derived path is simply absent for that
// document, and the failure is reported alongside rule errors).
func WithDerivedFields(fields []DerivedField) Option {
	return func(en *Engine) error {
		if len(fields) == 0 {
			return nil
		}

		env, err := cel.NewEnv(cel.Variable("report", cel.DynType))
		if err != nil {
			return fmt.Errorf("create CEL environment: %w", err)
		}

		for _, field := range fields {
			ast, issues := env.Compile(field.Expression)
			if issues != nil && issues.Err() != nil {
				return fmt.Errorf("compile derived field %q: %w", field.Name, issues.Err())
			}
			// Cost limit guards against runaway expressions in
			// tenant-supplied field definitions.
			program, err := env.Program(ast, cel.CostLimit(1_000_000))
			if err != nil {
				return fmt.Errorf("program for derived field %q: %w", field.Name, err)
			}
			en.derived = append(en.derived, compiledDerived{name: field.Name, program: program})
		}
		return nil
	}
}

// withDerived computes the engine's derived fields for doc and returns a
// new top-level document with the results under "derived". The caller's
// document is never mutated; when no derived fields are configured the
// document passes through untouched.
func (en *Engine) withDerived(doc Document) (Document, []*RuleError) {
	if len(en.derived) == 0 {
		return doc, nil
	}

	values := make(map[string]any, len(en.derived))
	var errs []*RuleError
	for _, d := range en.derived {
		out, _, err := d.program.Eval(map[string]any{"report": doc})
		if err != nil {
			errs = append(errs, &RuleError{
				RuleID: "derived." + d.name,
				Err:    fmt.Errorf("derived field evaluation: %w", err),
			})
			continue
		}
		values[d.name] = out.Value()
	}

	merged := make(Document, len(doc)+1)
	for key, value := range doc {
		merged[key] = value
	}
	merged["derived"] = values
	return merged, errs
}
