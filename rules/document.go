package rules

import "strings"

// Document is a parsed survey report: a nested JSON-like tree of
// map[string]any / []any / string / float64 / bool / nil, exactly as
// produced by encoding/json. The engine only reads documents, never
// mutates them.
type Document = map[string]any

// Lookup resolves a dot-separated path ("beneficiaries.attendance_rate")
// against a nested document. The second return value distinguishes a
// missing field from a field that is explicitly null: Lookup returns
// (nil, false) when any path segment is missing or the traversal hits a
// non-object, and (nil, true) when the field exists and holds null.
// An empty path returns the document itself.
func Lookup(doc Document, path string) (any, bool) {
	if path == "" {
		return doc, true
	}

	var current any = doc
	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok := obj[segment]
		if !ok {
			return nil, false
		}
		current = value
	}
	return current, true
}
