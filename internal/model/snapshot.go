package model

import (
	"fmt"
	"regexp"
	"strconv"
)

// ConfigSnapshot is an immutable, read-only view of a layered YAML
// configuration tree: tables keyed by name, each a map of scalar,
// sequence or nested-map values. It is handed to readers by value-of-
// pointer so a reload swap never exposes a torn read.
type ConfigSnapshot struct {
	tables map[string]map[string]interface{}
}

// NewConfigSnapshot wraps a fully-merged tree of tables.
func NewConfigSnapshot(tables map[string]map[string]interface{}) *ConfigSnapshot {
	if tables == nil {
		tables = map[string]map[string]interface{}{}
	}
	return &ConfigSnapshot{tables: tables}
}

func (c *ConfigSnapshot) lookup(table, key string) (interface{}, bool) {
	if c == nil {
		return nil, false
	}
	t, ok := c.tables[table]
	if !ok {
		return nil, false
	}
	v, ok := t[key]
	return v, ok
}

// GetBool returns a bool value if present and of the right type.
func (c *ConfigSnapshot) GetBool(table, key string) (bool, bool) {
	v, ok := c.lookup(table, key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetInt returns an int value if present and coercible from the tree's
// native numeric representation (YAML decodes ints as int or float64).
func (c *ConfigSnapshot) GetInt(table, key string) (int, bool) {
	v, ok := c.lookup(table, key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// GetString returns a string value if present.
func (c *ConfigSnapshot) GetString(table, key string) (string, bool) {
	v, ok := c.lookup(table, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetStringList returns a []string value if present.
func (c *ConfigSnapshot) GetStringList(table, key string) ([]string, bool) {
	v, ok := c.lookup(table, key)
	if !ok {
		return nil, false
	}
	switch l := v.(type) {
	case []string:
		out := make([]string, len(l))
		copy(out, l)
		return out, true
	case []interface{}:
		out := make([]string, 0, len(l))
		for _, e := range l {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

var durationRe = regexp.MustCompile(`^(\d+)(ms|s|m|h|d)?$`)

// GetDurationMS parses a duration-valued option with suffix ms|s|m|h|d
// (default s when absent) and returns it normalized to milliseconds.
func (c *ConfigSnapshot) GetDurationMS(table, key string) (int64, bool) {
	v, ok := c.lookup(table, key)
	if !ok {
		return 0, false
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	ms, err := ParseDurationMS(s)
	if err != nil {
		return 0, false
	}
	return ms, true
}

// ParseDurationMS parses "<n><suffix>" with suffix ms|s|m|h|d, defaulting
// to seconds when the suffix is omitted, returning milliseconds.
func ParseDurationMS(s string) (int64, error) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("malformed duration %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed duration %q: %w", s, err)
	}
	suffix := m[2]
	if suffix == "" {
		suffix = "s"
	}
	var mult int64
	switch suffix {
	case "ms":
		mult = 1
	case "s":
		mult = 1000
	case "m":
		mult = 60 * 1000
	case "h":
		mult = 60 * 60 * 1000
	case "d":
		mult = 24 * 60 * 60 * 1000
	default:
		return 0, fmt.Errorf("unknown duration suffix %q", suffix)
	}
	return n * mult, nil
}

// MergeOverlay merges overlay onto base: map-vs-map recurses,
// sequence-vs-sequence concatenates in overlay-appended order, anything
// else is replaced by the overlay value. It returns a new merged tree and
// never mutates either input.
func MergeOverlay(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range overlay {
		bv, exists := out[k]
		if !exists {
			out[k] = ov
			continue
		}
		out[k] = mergeValue(bv, ov)
	}
	return out
}

func mergeValue(base, overlay interface{}) interface{} {
	bm, bok := base.(map[string]interface{})
	om, ook := overlay.(map[string]interface{})
	if bok && ook {
		return MergeOverlay(bm, om)
	}
	bs, bsok := toSlice(base)
	os, osok := toSlice(overlay)
	if bsok && osok {
		out := make([]interface{}, 0, len(bs)+len(os))
		out = append(out, bs...)
		out = append(out, os...)
		return out
	}
	return overlay
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case []string:
		out := make([]interface{}, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}
