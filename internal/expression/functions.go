package expression

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

var (
	errEmptyPath  = errors.New("jsonPath: empty path")
	errNoWildcard = errors.New("jsonPath: no matching elements for wildcard")
)

func functions() []expr.Option {
	return []expr.Option{
		expr.Function("text", func(params ...any) (any, error) {
			return Text(params[0])
		}, new(func(any) string)),
		expr.Function("jsonPath", func(params ...any) (any, error) {
			path, ok := params[1].(string)
			if !ok {
				return nil, fmt.Errorf("jsonPath: path must be a string, got %T", params[1])
			}
			return JSONPath(params[0], path)
		}, new(func(any, string) any)),
	}
}

// Text decodes raw bytes as UTF-8. Strings pass through.
func Text(v any) (string, error) {
	switch t := v.(type) {
	case []byte:
		return string(t), nil
	case string:
		return t, nil
	default:
		return "", fmt.Errorf("text: unsupported type %T", v)
	}
}

// JSONPath walks a dotted path ("$.a.b[0].c", "a.items[*].id") through a
// JSON document given as bytes, a string, or an already decoded value.
func JSONPath(doc any, path string) (any, error) {
	var root any
	switch t := doc.(type) {
	case []byte:
		if err := json.Unmarshal(t, &root); err != nil {
			return nil, fmt.Errorf("jsonPath: %w", err)
		}
	case string:
		if err := json.Unmarshal([]byte(t), &root); err != nil {
			return nil, fmt.Errorf("jsonPath: %w", err)
		}
	default:
		root = doc
	}

	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return nil, errEmptyPath
	}
	return walk(root, strings.Split(path, "."))
}

func walk(current any, keys []string) (any, error) {
	for i, key := range keys {
		if key == "" {
			continue
		}
		name, index, hasIndex, err := splitIndex(key)
		if err != nil {
			return nil, err
		}
		if name != "" {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("jsonPath: expected object at %q", name)
			}
			v, exists := m[name]
			if !exists {
				return nil, fmt.Errorf("jsonPath: key not found: %s", name)
			}
			current = v
		}
		if !hasIndex {
			continue
		}
		arr, ok := current.([]any)
		if !ok {
			return nil, fmt.Errorf("jsonPath: expected array at %q", key)
		}
		if index == "*" || index == "" {
			return wildcard(arr, keys[i+1:])
		}
		n, err := strconv.Atoi(index)
		if err != nil || n < 0 || n >= len(arr) {
			return nil, fmt.Errorf("jsonPath: invalid index %s at %q", index, key)
		}
		current = arr[n]
	}
	return current, nil
}

func splitIndex(key string) (name, index string, ok bool, err error) {
	start := strings.IndexByte(key, '[')
	if start == -1 {
		return key, "", false, nil
	}
	end := strings.IndexByte(key, ']')
	if end == -1 || end < start {
		return "", "", false, fmt.Errorf("jsonPath: malformed index in %q", key)
	}
	return key[:start], key[start+1 : end], true, nil
}

func wildcard(arr []any, rest []string) (any, error) {
	if len(rest) == 0 {
		return arr, nil
	}
	results := make([]any, 0, len(arr))
	for _, item := range arr {
		v, err := walk(item, rest)
		if err != nil {
			continue
		}
		if vs, ok := v.([]any); ok {
			results = append(results, vs...)
		} else {
			results = append(results, v)
		}
	}
	if len(results) == 0 {
		return nil, errNoWildcard
	}
	return results, nil
}
