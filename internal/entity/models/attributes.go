package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// PathSeparator joins map keys into attribute paths ("labels.team").
const PathSeparator = "."

// AttributeMap maps attribute keys to values. Treat it as immutable once it is
// attached to an Entity; use Clone before modifying.
type AttributeMap map[string]Value

// Clone returns a shallow copy. Values are immutable so a shallow copy is a
// full copy.
func (a AttributeMap) Clone() AttributeMap {
	if a == nil {
		return AttributeMap{}
	}
	cp := make(AttributeMap, len(a))
	for k, v := range a {
		cp[k] = v
	}
	return cp
}

// Equal reports deep structural equality. A nil map equals an empty map.
func (a AttributeMap) Equal(o AttributeMap) bool {
	if len(a) != len(o) {
		return false
	}
	for k, v := range a {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Keys returns the sorted top-level keys.
func (a AttributeMap) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Paths returns the sorted leaf paths. Map values are descended into; an empty
// map and every non-map value is a leaf.
func (a AttributeMap) Paths() []string {
	var out []string
	for k, v := range a {
		out = appendLeafPaths(out, k, v)
	}
	slices.Sort(out)
	return out
}

func appendLeafPaths(out []string, prefix string, v Value) []string {
	if v.Kind() != KindMap || v.Len() == 0 {
		return append(out, prefix)
	}
	for _, k := range v.Keys() {
		c, _ := v.Get(k)
		out = appendLeafPaths(out, JoinPath(prefix, k), c)
	}
	return out
}

// Validate rejects empty keys and keys containing PathSeparator, at every
// depth including maps nested in lists.
func (a AttributeMap) Validate() error {
	for _, k := range a.Keys() {
		if err := validateKey("", k); err != nil {
			return err
		}
		if err := validateValue(k, a[k]); err != nil {
			return err
		}
	}
	return nil
}

func validateKey(prefix, key string) error {
	if key == "" {
		if prefix == "" {
			return errors.New("attribute key must not be empty")
		}
		return fmt.Errorf("attribute %q has an empty key", prefix)
	}
	if strings.Contains(key, PathSeparator) {
		return fmt.Errorf("attribute key %q must not contain %q", JoinPath(prefix, key), PathSeparator)
	}
	return nil
}

func validateValue(path string, v Value) error {
	switch v.Kind() {
	case KindMap:
		for _, k := range v.Keys() {
			if err := validateKey(path, k); err != nil {
				return err
			}
			c, _ := v.Get(k)
			if err := validateValue(JoinPath(path, k), c); err != nil {
				return err
			}
		}
	case KindList:
		for i, item := range v.Items() {
			if err := validateValue(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
	}
	return nil
}

// Lookup resolves a dotted path through nested maps.
func (a AttributeMap) Lookup(path string) (Value, bool) {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return Value{}, false
	}
	v, ok := a[parts[0]]
	for _, p := range parts[1:] {
		if !ok {
			break
		}
		v, ok = v.Get(p)
	}
	return v, ok
}

// JoinPath appends key to a dotted path prefix.
func JoinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + PathSeparator + key
}

// SplitPath splits a dotted path; empty segments make the path invalid.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, PathSeparator)
	for _, p := range parts {
		if p == "" {
			return nil
		}
	}
	return parts
}
