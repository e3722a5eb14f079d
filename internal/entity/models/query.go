package models

import (
	"fmt"
	"strings"
)

// Operator is a predicate comparison.
type Operator string

const (
	OpEq     Operator = "EQ"
	OpNeq    Operator = "NEQ"
	OpGt     Operator = "GT"
	OpGte    Operator = "GTE"
	OpLt     Operator = "LT"
	OpLte    Operator = "LTE"
	OpIn     Operator = "IN"
	OpExists Operator = "EXISTS"
)

// Predicate constrains the attribute at Path. IN uses Values, EXISTS uses
// neither, every other operator uses Value.
type Predicate struct {
	Path   string   `json:"path"`
	Op     Operator `json:"op"`
	Value  Value    `json:"value,omitzero"`
	Values []Value  `json:"values,omitempty"`
}

// SortOrder is the direction of an OrderBy clause.
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// OrderBy sorts on the attribute at Path read as Kind. Entities where the
// attribute is missing or holds another kind sort last in either direction.
type OrderBy struct {
	Path  string    `json:"path"`
	Kind  Kind      `json:"kind"`
	Order SortOrder `json:"order,omitempty"`
}

// Query selects live entities of one type for one tenant. Predicates are
// AND-ed. Results follow OrderBy, then entity id. A zero Limit means
// unlimited; Offset skips that many ordered results.
type Query struct {
	TenantID   string      `json:"-"`
	EntityType string      `json:"entityType"`
	Predicates []Predicate `json:"predicates,omitempty"`
	OrderBy    []OrderBy   `json:"orderBy,omitempty"`
	Limit      int         `json:"limit,omitempty"`
	Offset     int         `json:"offset,omitempty"`
}

// Validate checks the query shape. Range operators accept scalars only.
func (q Query) Validate() error {
	if strings.TrimSpace(q.TenantID) == "" {
		return fmt.Errorf("tenant is required")
	}
	if strings.TrimSpace(q.EntityType) == "" {
		return fmt.Errorf("entity type is required")
	}
	if q.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	if q.Offset < 0 {
		return fmt.Errorf("offset must not be negative")
	}
	for i, p := range q.Predicates {
		if err := p.validate(); err != nil {
			return fmt.Errorf("predicate %d: %w", i, err)
		}
	}
	for i, o := range q.OrderBy {
		if err := o.validate(); err != nil {
			return fmt.Errorf("orderBy %d: %w", i, err)
		}
	}
	return nil
}

func (o OrderBy) validate() error {
	if SplitPath(o.Path) == nil {
		return fmt.Errorf("invalid path %q", o.Path)
	}
	switch o.Kind {
	case KindString, KindNumber, KindBool, KindTimestamp:
	default:
		return fmt.Errorf("cannot order by %s values", o.Kind)
	}
	switch o.Order {
	case "", SortAsc, SortDesc:
		return nil
	}
	return fmt.Errorf("unknown sort order %q", o.Order)
}

func (o OrderBy) value(e *Entity) (Value, bool) {
	v, ok := e.Attributes.Lookup(o.Path)
	if !ok || v.Kind() != o.Kind {
		return Value{}, false
	}
	return v, true
}

// Compare orders a before b the way a store returns query results.
func (q Query) Compare(a, b *Entity) int {
	for _, o := range q.OrderBy {
		av, aok := o.value(a)
		bv, bok := o.value(b)
		switch {
		case !aok && !bok:
			continue
		case !aok:
			return 1
		case !bok:
			return -1
		}
		c, _ := av.Compare(bv)
		if o.Order == SortDesc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return strings.Compare(a.EntityID, b.EntityID)
}

func (p Predicate) validate() error {
	if SplitPath(p.Path) == nil {
		return fmt.Errorf("invalid path %q", p.Path)
	}
	switch p.Op {
	case OpExists:
		return nil
	case OpIn:
		if len(p.Values) == 0 {
			return fmt.Errorf("IN requires values")
		}
		for _, v := range p.Values {
			if !v.IsScalar() {
				return fmt.Errorf("IN values must be scalars")
			}
		}
		return nil
	case OpEq, OpNeq:
		if !p.Value.IsValid() {
			return fmt.Errorf("%s requires a value", p.Op)
		}
		return nil
	case OpGt, OpGte, OpLt, OpLte:
		if !p.Value.IsScalar() || p.Value.Kind() == KindBool {
			return fmt.Errorf("%s requires a string, number or timestamp value", p.Op)
		}
		return nil
	}
	return fmt.Errorf("unknown operator %q", p.Op)
}

// Matches evaluates the predicate against attrs.
func (p Predicate) Matches(attrs AttributeMap) bool {
	v, ok := attrs.Lookup(p.Path)
	switch p.Op {
	case OpExists:
		return ok
	case OpNeq:
		return !ok || !v.Equal(p.Value)
	}
	if !ok {
		return false
	}
	switch p.Op {
	case OpEq:
		return v.Equal(p.Value)
	case OpIn:
		for _, c := range p.Values {
			if v.Equal(c) {
				return true
			}
		}
		return false
	}
	cmp, comparable := v.Compare(p.Value)
	if !comparable {
		return false
	}
	switch p.Op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

// Matches reports whether e satisfies every predicate of q.
func (q Query) Matches(e *Entity) bool {
	if e == nil || e.TenantID != q.TenantID || e.EntityType != q.EntityType {
		return false
	}
	for _, p := range q.Predicates {
		if !p.Matches(e.Attributes) {
			return false
		}
	}
	return true
}
