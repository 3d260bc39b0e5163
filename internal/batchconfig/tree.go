package batchconfig

import (
	"fmt"
	"reflect"
	"strings"
)

func splitKey(key string) []string {
	parts := strings.Split(strings.TrimSpace(key), ".")
	out := parts[:0]
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func lookup(tree map[string]any, key string) (any, bool) {
	parts := splitKey(key)
	if len(parts) == 0 {
		return nil, false
	}
	var current any = tree
	for _, part := range parts {
		table, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = table[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func setPath(tree map[string]any, key string, value any) error {
	parts := splitKey(key)
	if len(parts) == 0 {
		return fmt.Errorf("empty config key")
	}
	table := tree
	for _, part := range parts[:len(parts)-1] {
		next, ok := table[part]
		if !ok {
			child := map[string]any{}
			table[part] = child
			table = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("config key %q: %s is not a table", key, part)
		}
		table = child
	}
	table[parts[len(parts)-1]] = value
	return nil
}

// deletePath removes a dotted key and prunes tables left empty.
func deletePath(tree map[string]any, parts []string) bool {
	if len(parts) == 0 {
		return false
	}
	if len(parts) == 1 {
		if _, ok := tree[parts[0]]; !ok {
			return false
		}
		delete(tree, parts[0])
		return true
	}
	child, ok := tree[parts[0]].(map[string]any)
	if !ok {
		return false
	}
	removed := deletePath(child, parts[1:])
	if removed && len(child) == 0 {
		delete(tree, parts[0])
	}
	return removed
}

// mergeInto deep-merges src over dst. Tables merge key by key; any other
// value replaces what was there.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		srcTable, srcIsTable := v.(map[string]any)
		dstTable, dstIsTable := dst[k].(map[string]any)
		if srcIsTable && dstIsTable {
			mergeInto(dstTable, srcTable)
			continue
		}
		if srcIsTable {
			dst[k] = cloneMap(srcTable)
			continue
		}
		dst[k] = cloneValue(v)
	}
}

func flattenInto(dst map[string]any, prefix string, tree map[string]any) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if table, ok := v.(map[string]any); ok {
			flattenInto(dst, key, table)
			continue
		}
		dst[key] = v
	}
}

func cloneMap(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return typed
	}
}

// normalize converts Go values into the shapes a TOML decode produces.
func normalize(v any) any {
	switch typed := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, item := range typed {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = item
		}
		return out
	case int:
		return int64(typed)
	case int8:
		return int64(typed)
	case int16:
		return int64(typed)
	case int32:
		return int64(typed)
	case uint:
		return int64(typed)
	case uint8:
		return int64(typed)
	case uint16:
		return int64(typed)
	case uint32:
		return int64(typed)
	case uint64:
		return int64(typed)
	case float32:
		return float64(typed)
	case string, bool, int64, float64:
		return typed
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Sprint(v)
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalize(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	}
	return v
}
