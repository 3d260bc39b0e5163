package batchconfig

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Source names the layer a value was taken from.
type Source string

const (
	SourceDefault Source = "default"
	SourceApp     Source = "app"
	SourceBatch   Source = "batch"
)

// Entry is one flattened key for display.
type Entry struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Source Source `json:"source"`
}

// Config is the effective, read-only parameter set for one batch.
type Config struct {
	values  map[string]any
	sources map[string]Source
}

// Values returns a deep copy of the merged tree.
func (c Config) Values() map[string]any {
	return cloneMap(c.values)
}

// Get looks up a dotted key such as "resize.max_dimension".
func (c Config) Get(key string) (any, bool) {
	return lookup(c.values, key)
}

// Has reports whether a dotted key is set in any layer.
func (c Config) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// String returns the value at key rendered as a string, or "".
func (c Config) String(key string) string {
	v, ok := c.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return formatScalar(v)
}

// Int returns the integer at key, or fallback when missing or not numeric.
func (c Config) Int(key string, fallback int) int {
	v, ok := c.Get(key)
	if !ok {
		return fallback
	}
	n, ok := asInt(v)
	if !ok {
		return fallback
	}
	return n
}

// Float returns the number at key, or fallback when missing or not numeric.
func (c Config) Float(key string, fallback float64) float64 {
	v, ok := c.Get(key)
	if !ok {
		return fallback
	}
	switch typed := v.(type) {
	case float64:
		return typed
	case int64:
		return float64(typed)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64); err == nil {
			return f
		}
	}
	return fallback
}

// Bool returns the boolean at key, or fallback.
func (c Config) Bool(key string, fallback bool) bool {
	v, ok := c.Get(key)
	if !ok {
		return fallback
	}
	switch typed := v.(type) {
	case bool:
		return typed
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(typed)); err == nil {
			return b
		}
	}
	return fallback
}

// Strings returns a string list. A scalar string is split on commas.
func (c Config) Strings(key string) []string {
	v, ok := c.Get(key)
	if !ok || v == nil {
		return nil
	}
	var out []string
	switch typed := v.(type) {
	case []any:
		for _, item := range typed {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, part := range strings.Split(typed, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	default:
		out = append(out, formatScalar(typed))
	}
	return out
}

// StringMap returns a table of string values, skipping non-scalar entries.
func (c Config) StringMap(key string) map[string]string {
	v, ok := c.Get(key)
	if !ok {
		return nil
	}
	table, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(table))
	for k, item := range table {
		switch item.(type) {
		case map[string]any, []any:
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
			out[k] = s
		}
	}
	return out
}

// RequiredFields lists the metadata columns every record must fill.
func (c Config) RequiredFields() []string {
	return c.Strings("metadata.required_fields")
}

// SourceOf reports which layer supplied a dotted key.
func (c Config) SourceOf(key string) Source {
	if src, ok := c.sources[key]; ok {
		return src
	}
	return SourceDefault
}

// Flatten lists every leaf key in sorted order.
func (c Config) Flatten() []Entry {
	leaves := map[string]any{}
	flattenInto(leaves, "", c.values)
	keys := make([]string, 0, len(leaves))
	for k := range leaves {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, Entry{Key: k, Value: formatScalar(leaves[k]), Source: c.SourceOf(k)})
	}
	return out
}

// Problems checks the recognized keys for type and range errors.
func (c Config) Problems() []string {
	var problems []string
	intRange := func(key string, lo, hi int) {
		v, ok := c.Get(key)
		if !ok {
			return
		}
		n, ok := asInt(v)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s must be an integer", key))
			return
		}
		if n < lo || n > hi {
			problems = append(problems, fmt.Sprintf("%s must be between %d and %d", key, lo, hi))
		}
	}
	intRange("resize.max_dimension", 16, 65535)
	intRange("resize.quality", 1, 31)
	intRange("convert.jpeg_quality", 1, 31)
	intRange("watermark.font_size", 4, 512)
	if v, ok := c.Get("watermark.opacity"); ok {
		switch v.(type) {
		case float64, int64:
			if f := c.Float("watermark.opacity", -1); f < 0 || f > 1 {
				problems = append(problems, "watermark.opacity must be between 0 and 1")
			}
		default:
			problems = append(problems, "watermark.opacity must be a number")
		}
	}
	if v, ok := c.Get("embed.tag_map"); ok {
		if _, isMap := v.(map[string]any); !isMap {
			problems = append(problems, "embed.tag_map must be a table")
		}
	}
	if v, ok := c.Get("metadata.required_fields"); ok {
		switch v.(type) {
		case []any, string:
		default:
			problems = append(problems, "metadata.required_fields must be a list of column names")
		}
	}
	return problems
}

func asInt(v any) (int, bool) {
	switch typed := v.(type) {
	case int64:
		return int(typed), true
	case float64:
		if typed == math.Trunc(typed) {
			return int(typed), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(typed)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func formatScalar(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case time.Time:
		return typed.Format(time.RFC3339)
	case []any:
		parts := make([]string, len(typed))
		for i, item := range typed {
			parts[i] = formatScalar(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(typed)
	}
}
