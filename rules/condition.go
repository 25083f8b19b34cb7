package rules

import (
	"encoding/json"
	"fmt"
)

// Condition is a boolean predicate tree over a document: leaf predicates
// combined with and / or / not. Trees are built once (by DecodeCondition
// or by hand) and never mutated afterwards, so a single tree may be
// evaluated concurrently. Construction always produces a tree, never a
// graph: nodes hold child values, not back-references.
type Condition interface {
	json.Marshaler
	isCondition()
}

// Leaf is a single predicate: resolve Field, apply Operator against
// Value. Extra carries operator-specific parameters (the condition /
// threshold / comparator triple of array_count_where).
type Leaf struct {
	Field    string
	Operator Operator
	Value    any
	Extra    map[string]any
}

// And is true iff every child is true. An empty And is vacuously true.
type And struct {
	Children []Condition
}

// Or is true iff at least one child is true. An empty Or is false.
type Or struct {
	Children []Condition
}

// Not negates its child.
type Not struct {
	Child Condition
}

func (*Leaf) isCondition() {}
func (*And) isCondition()  {}
func (*Or) isCondition()   {}
func (*Not) isCondition()  {}

// The wire shape is the one the rule definition files and the rules table
// use: {"field":..,"operator":..,"value":..} for leaves and
// {"and":[..]} / {"or":[..]} / {"not":{..}} for combinators.

// DecodeCondition parses the JSON wire shape into a condition tree.
// Unknown operator names are accepted here and rejected at evaluation
// time, so one bad rule in a stored ruleset cannot block loading the
// rest.
func DecodeCondition(data []byte) (Condition, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("condition must be a JSON object: %w", err)
	}

	if children, ok := raw["and"]; ok {
		nodes, err := decodeChildren(children)
		if err != nil {
			return nil, fmt.Errorf("in %q: %w", "and", err)
		}
		return &And{Children: nodes}, nil
	}

	if children, ok := raw["or"]; ok {
		nodes, err := decodeChildren(children)
		if err != nil {
			return nil, fmt.Errorf("in %q: %w", "or", err)
		}
		return &Or{Children: nodes}, nil
	}

	if child, ok := raw["not"]; ok {
		node, err := DecodeCondition(child)
		if err != nil {
			return nil, fmt.Errorf("in %q: %w", "not", err)
		}
		return &Not{Child: node}, nil
	}

	return decodeLeaf(data)
}

func decodeChildren(data json.RawMessage) ([]Condition, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("combinator children must be an array: %w", err)
	}
	nodes := make([]Condition, 0, len(items))
	for i, item := range items {
		node, err := DecodeCondition(item)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func decodeLeaf(data []byte) (*Leaf, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("leaf condition must be a JSON object: %w", err)
	}

	field, ok := fields["field"].(string)
	if !ok {
		return nil, fmt.Errorf("leaf condition requires a string %q key", "field")
	}
	operator, ok := fields["operator"].(string)
	if !ok {
		return nil, fmt.Errorf("leaf condition requires a string %q key", "operator")
	}

	leaf := &Leaf{
		Field:    field,
		Operator: Operator(operator),
		Value:    fields["value"],
	}

	// Every other key rides along as an operator parameter.
	for key, value := range fields {
		switch key {
		case "field", "operator", "value":
			continue
		}
		if leaf.Extra == nil {
			leaf.Extra = make(map[string]any)
		}
		leaf.Extra[key] = value
	}
	return leaf, nil
}

// MarshalJSON round-trips the wire shape.
func (c *Leaf) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, 3+len(c.Extra))
	obj["field"] = c.Field
	obj["operator"] = string(c.Operator)
	if c.Value != nil {
		obj["value"] = c.Value
	}
	for key, value := range c.Extra {
		obj[key] = value
	}
	return json.Marshal(obj)
}

func (c *And) MarshalJSON() ([]byte, error) {
	return marshalCombinator("and", c.Children)
}

func (c *Or) MarshalJSON() ([]byte, error) {
	return marshalCombinator("or", c.Children)
}

func (c *Not) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]Condition{"not": c.Child})
}

func marshalCombinator(key string, children []Condition) ([]byte, error) {
	if children == nil {
		children = []Condition{}
	}
	return json.Marshal(map[string][]Condition{key: children})
}
