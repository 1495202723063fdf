// Package resolver materializes a node's declared data map into concrete
// values before execution, substituting {{path}} template references against
// the accumulated execution context.
package resolver

import (
	"strings"
)

// Resolve rewrites nodeData, replacing every whole-string "{{path}}" value
// with the value found by walking path segments through ctx. A missing
// segment resolves to nil rather than an error; node executors decide
// whether an absent input is fatal. Non-template values pass through
// unchanged, and nested objects are not scanned for embedded templates.
func Resolve(nodeData map[string]interface{}, ctx map[string]interface{}) map[string]interface{} {
	if nodeData == nil {
		return map[string]interface{}{}
	}

	resolved := make(map[string]interface{}, len(nodeData))
	for key, value := range nodeData {
		if path, ok := templatePath(value); ok {
			resolved[key] = Lookup(ctx, path)
			continue
		}
		resolved[key] = value
	}
	return resolved
}

// Lookup walks a dot-separated path through nested maps. Returns nil as
// soon as a segment is absent or the current value is not a map.
func Lookup(ctx map[string]interface{}, path string) interface{} {
	var current interface{} = ctx
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[segment]
		if !ok {
			return nil
		}
	}
	return current
}

// templatePath extracts the reference path from a value of the exact form
// "{{path}}". Strings with surrounding text are literals, not templates.
func templatePath(value interface{}) (string, bool) {
	s, ok := value.(string)
	if !ok {
		return "", false
	}
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}
	path := strings.TrimSpace(s[2 : len(s)-2])
	if path == "" || strings.ContainsAny(path, "{}") {
		// "{{a}} and {{b}}" is two templates glued by text, not one path.
		return "", false
	}
	return path, true
}
