package rules

import (
	"errors"
	"fmt"
)

// Evaluate walks a condition tree against a document and reports whether
// it holds. It is a pure function: no side effects, no mutation of doc,
// and termination is guaranteed because conditions are trees.
//
// And and Or short-circuit left to right. The vacuous cases follow the
// standard identities: And with no children is true, Or with no children
// is false.
func Evaluate(c Condition, doc Document) (bool, error) {
	switch node := c.(type) {
	case *And:
		for _, child := range node.Children {
			ok, err := Evaluate(child, doc)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case *Or:
		for _, child := range node.Children {
			ok, err := Evaluate(child, doc)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case *Not:
		ok, err := Evaluate(node.Child, doc)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case *Leaf:
		actual, present := Lookup(doc, node.Field)
		return applyOperator(node.Operator, actual, present, node.Value, node.Extra)

	case nil:
		return false, errors.New("nil condition")
	}

	return false, fmt.Errorf("unsupported condition node %T", c)
}
