package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// File is the on-disk configuration structure.
type File struct {
	Parameters map[string]interface{} `yaml:"parameters"`
}

// Parameters is an immutable set of string configuration values.
type Parameters struct {
	values map[string]string
}

// NewParameters copies m into a Parameters value. Keys and values are trimmed.
func NewParameters(m map[string]string) Parameters {
	values := make(map[string]string, len(m))
	for k, v := range m {
		values[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return Parameters{values: values}
}

// Get returns the value for key. Blank values count as absent.
func (p Parameters) Get(key string) (string, bool) {
	v, ok := p.values[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// GetBool parses key as a boolean, returning def when the key is absent.
func (p Parameters) GetBool(key string, def bool) (bool, error) {
	v, ok := p.Get(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("parameter %s: invalid boolean %q", key, v)
	}
	return b, nil
}

// GetInt parses key as an integer, returning def when the key is absent.
func (p Parameters) GetInt(key string, def int) (int, error) {
	v, ok := p.Get(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("parameter %s: invalid integer %q", key, v)
	}
	return n, nil
}

// Keys returns every key, sorted.
func (p Parameters) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the underlying values.
func (p Parameters) Map() map[string]string {
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// With returns a copy of p with overrides applied on top.
func (p Parameters) With(overrides map[string]string) Parameters {
	merged := p.Map()
	for k, v := range overrides {
		merged[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return Parameters{values: merged}
}

// ParseOverride splits a "key=value" command line override.
func ParseOverride(s string) (string, string, error) {
	k, v, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return "", "", fmt.Errorf("invalid override %q, expected key=value", s)
	}
	return strings.TrimSpace(k), strings.TrimSpace(v), nil
}

// flatten turns nested YAML maps into dotted keys.
func flatten(prefix string, in map[string]interface{}, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch typed := v.(type) {
		case map[string]interface{}:
			flatten(key, typed, out)
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprint(typed)
		}
	}
}
