// Package diff computes attribute-level deltas between entity states.
package diff

import (
	"slices"

	"entitystore/internal/entity/models"
)

// Descriptor describes the transition from one entity state to another.
type Descriptor struct {
	EventType    models.EventType
	ChangedPaths []string
}

// Empty reports an UPDATED transition that changed nothing.
func (d Descriptor) Empty() bool {
	return d.EventType == models.EventUpdated && len(d.ChangedPaths) == 0
}

// Compute diffs previous against current. Either side may be nil, not both.
// Values compare with models.Value.Equal, the same equality merge uses for
// no-op detection.
func Compute(previous, current *models.Entity) (Descriptor, error) {
	switch {
	case previous == nil && current == nil:
		return Descriptor{}, models.Precondition("diff needs a previous or a current entity")
	case previous == nil:
		return Descriptor{EventType: models.EventCreated, ChangedPaths: current.Attributes.Paths()}, nil
	case current == nil:
		return Descriptor{EventType: models.EventDeleted, ChangedPaths: previous.Attributes.Paths()}, nil
	}
	return Descriptor{EventType: models.EventUpdated, ChangedPaths: Paths(previous.Attributes, current.Attributes)}, nil
}

// Paths returns the sorted paths whose values differ between a and b. Map
// values present on both sides are descended into; anything else is compared
// whole, so a changed list reports the list's own path.
func Paths(a, b models.AttributeMap) []string {
	out := []string{}
	out = appendChanged(out, "", a, b)
	slices.Sort(out)
	return out
}

func appendChanged(out []string, prefix string, a, b map[string]models.Value) []string {
	for k, av := range a {
		path := models.JoinPath(prefix, k)
		bv, ok := b[k]
		if !ok {
			out = appendLeaves(out, path, av)
			continue
		}
		out = appendValueChange(out, path, av, bv)
	}
	for k, bv := range b {
		if _, ok := a[k]; !ok {
			out = appendLeaves(out, models.JoinPath(prefix, k), bv)
		}
	}
	return out
}

func appendValueChange(out []string, path string, a, b models.Value) []string {
	if a.Equal(b) {
		return out
	}
	if a.Kind() == models.KindMap && b.Kind() == models.KindMap && a.Len() > 0 && b.Len() > 0 {
		return appendChanged(out, path, a.Fields(), b.Fields())
	}
	return append(out, path)
}

// appendLeaves reports every leaf of an added or removed value.
func appendLeaves(out []string, path string, v models.Value) []string {
	if v.Kind() != models.KindMap || v.Len() == 0 {
		return append(out, path)
	}
	for _, k := range v.Keys() {
		c, _ := v.Get(k)
		out = appendLeaves(out, models.JoinPath(path, k), c)
	}
	return out
}
