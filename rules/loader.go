package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// LoadDir loads rule definition files from a directory tree (or a single
// file). Files may be .json, .yaml or .yml, each holding one rule object
// or a list of rule objects in the standard wire shape. Files that fail
// to parse are logged and skipped so one broken file cannot block a
// whole ruleset deployment; the returned rules are ordered by file path,
// then by position within the file.
func LoadDir(path string, logger *slog.Logger) ([]*Rule, error) {
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat ruleset path %q: %w", path, err)
	}
	if !info.IsDir() {
		return LoadFile(path)
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		switch filepath.Ext(p) {
		case ".json", ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk ruleset directory %q: %w", path, err)
	}
	// Deterministic load order regardless of filesystem iteration order.
	sort.Strings(files)

	var ruleSet []*Rule
	for _, file := range files {
		loaded, err := LoadFile(file)
		if err != nil {
			logger.Warn("skipping invalid rule file",
				"path", file,
				"error", err,
			)
			continue
		}
		ruleSet = append(ruleSet, loaded...)
	}

	logger.Info("loaded ruleset from directory",
		"path", path,
		"files", len(files),
		"rules", len(ruleSet),
	)
	return ruleSet, nil
}

// LoadFile loads one rule definition file.
func LoadFile(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file %q: %w", path, err)
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("rule file %q: %w", path, err)
		}
	}

	ruleSet, err := decodeRules(data)
	if err != nil {
		return nil, fmt.Errorf("rule file %q: %w", path, err)
	}
	return ruleSet, nil
}

// decodeRules accepts either a single rule object or an array of rule
// objects.
func decodeRules(data []byte) ([]*Rule, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var ruleSet []*Rule
		if err := json.Unmarshal(trimmed, &ruleSet); err != nil {
			return nil, err
		}
		return ruleSet, nil
	}

	var rule Rule
	if err := json.Unmarshal(trimmed, &rule); err != nil {
		return nil, err
	}
	return []*Rule{&rule}, nil
}

// yamlToJSON re-encodes a YAML document as JSON so rule decoding has a
// single code path (and a single set of error messages).
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return json.Marshal(normalizeYAML(doc))
}

// normalizeYAML rewrites yaml.v3's map[any]any nodes (emitted for
// non-string keys) into map[string]any so the tree is JSON-encodable.
func normalizeYAML(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for key, value := range node {
			out[key] = normalizeYAML(value)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(node))
		for key, value := range node {
			out[fmt.Sprint(key)] = normalizeYAML(value)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, item := range node {
			out[i] = normalizeYAML(item)
		}
		return out
	}
	return v
}
