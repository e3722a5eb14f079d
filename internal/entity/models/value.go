package models

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindBool
	KindTimestamp
	KindMap
	KindList
)

var kindNames = map[Kind]string{
	KindInvalid:   "invalid",
	KindString:    "string",
	KindNumber:    "number",
	KindBool:      "bool",
	KindTimestamp: "timestamp",
	KindMap:       "map",
	KindList:      "list",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses the name produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, n := range kindNames {
		if n == s && k != KindInvalid {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown attribute kind %q", s)
}

// Value is an immutable attribute value: a scalar, a map of values or a list of
// values. The zero Value is invalid. Constructors copy their inputs, and no
// accessor exposes internal storage, so a Value can be shared freely.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	ts   time.Time
	m    map[string]Value
	list []Value
}

func String(s string) Value { return Value{kind: KindString, str: s} }

func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Timestamp stores t in UTC.
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, ts: t.UTC()} }

// Map builds a map value from a copy of m.
func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

// List builds a list value from a copy of items.
func List(items ...Value) Value {
	return Value{kind: KindList, list: slices.Clone(items)}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsValid() bool { return v.kind != KindInvalid }

func (v Value) IsScalar() bool {
	switch v.kind {
	case KindString, KindNumber, KindBool, KindTimestamp:
		return true
	}
	return false
}

func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }

func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) Time() (time.Time, bool) { return v.ts, v.kind == KindTimestamp }

// Get returns the child under key of a map value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	c, ok := v.m[key]
	return c, ok
}

// Keys returns the sorted keys of a map value.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Fields returns a copy of a map value's children.
func (v Value) Fields() map[string]Value {
	if v.kind != KindMap {
		return nil
	}
	return Map(v.m).m
}

// Items returns a copy of a list value's elements.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return slices.Clone(v.list)
}

func (v Value) Len() int {
	switch v.kind {
	case KindMap:
		return len(v.m)
	case KindList:
		return len(v.list)
	}
	return 0
}

// Equal is deep structural equality: scalars by value, timestamps by instant,
// lists element-wise in order, maps key-wise.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInvalid:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindTimestamp:
		return v.ts.Equal(o.ts)
	case KindList:
		return slices.EqualFunc(v.list, o.list, Value.Equal)
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, c := range v.m {
			oc, ok := o.m[k]
			if !ok || !c.Equal(oc) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two scalars of the same kind. ok is false for non-scalars or
// mismatched kinds. Bools order false before true.
func (v Value) Compare(o Value) (cmp int, ok bool) {
	if v.kind != o.kind || !v.IsScalar() {
		return 0, false
	}
	switch v.kind {
	case KindString:
		return compareOrdered(v.str, o.str), true
	case KindNumber:
		return compareOrdered(v.num, o.num), true
	case KindTimestamp:
		return v.ts.Compare(o.ts), true
	case KindBool:
		switch {
		case v.b == o.b:
			return 0, true
		case !v.b:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

func compareOrdered[T string | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (v Value) String() string {
	b, err := json.Marshal(v)
	if err != nil {
		return "<" + v.kind.String() + ">"
	}
	return string(b)
}

// wireValue is the one-of JSON envelope of a scalar Value.
type wireValue struct {
	String    *string    `json:"string,omitempty"`
	Number    *float64   `json:"number,omitempty"`
	Bool      *bool      `json:"bool,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// MarshalJSON encodes the value as a single-key envelope such as
// {"string":"x"} or {"map":{...}}. Map keys are emitted sorted.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(wireValue{String: &v.str})
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return nil, fmt.Errorf("attribute number %v is not representable", v.num)
		}
		return json.Marshal(wireValue{Number: &v.num})
	case KindBool:
		return json.Marshal(wireValue{Bool: &v.b})
	case KindTimestamp:
		return json.Marshal(wireValue{Timestamp: &v.ts})
	case KindMap:
		inner, err := json.Marshal(v.m)
		if err != nil {
			return nil, err
		}
		if v.m == nil {
			inner = []byte("{}")
		}
		return append(append([]byte(`{"map":`), inner...), '}'), nil
	case KindList:
		inner, err := json.Marshal(v.list)
		if err != nil {
			return nil, err
		}
		if v.list == nil {
			inner = []byte("[]")
		}
		return append(append([]byte(`{"list":`), inner...), '}'), nil
	}
	return nil, fmt.Errorf("cannot encode invalid attribute value")
}

// UnmarshalJSON decodes the envelope written by MarshalJSON. Exactly one key
// must be present.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode attribute value: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("attribute value must have exactly one kind, got %d", len(raw))
	}
	for key, body := range raw {
		switch key {
		case "string":
			var s string
			if err := json.Unmarshal(body, &s); err != nil {
				return fmt.Errorf("decode string value: %w", err)
			}
			*v = String(s)
		case "number":
			var n float64
			if err := json.Unmarshal(body, &n); err != nil {
				return fmt.Errorf("decode number value: %w", err)
			}
			*v = Number(n)
		case "bool":
			var b bool
			if err := json.Unmarshal(body, &b); err != nil {
				return fmt.Errorf("decode bool value: %w", err)
			}
			*v = Bool(b)
		case "timestamp":
			var t time.Time
			if err := json.Unmarshal(body, &t); err != nil {
				return fmt.Errorf("decode timestamp value: %w", err)
			}
			*v = Timestamp(t)
		case "map":
			var m map[string]Value
			if err := json.Unmarshal(body, &m); err != nil {
				return err
			}
			if m == nil {
				m = map[string]Value{}
			}
			*v = Value{kind: KindMap, m: m}
		case "list":
			var l []Value
			if err := json.Unmarshal(body, &l); err != nil {
				return err
			}
			*v = Value{kind: KindList, list: l}
		default:
			return fmt.Errorf("unknown attribute value kind %q", key)
		}
	}
	return nil
}
