// Package merge reconciles incoming partial attributes with stored entities.
//
// Rules: scalars in the incoming record overwrite, maps merge recursively,
// lists are replaced whole, and attributes the incoming record omits are kept.
// Merge is pure; it never mutates its inputs.
package merge

import (
	"time"

	"entitystore/internal/entity/models"
)

// Incoming is a resolved upsert request.
type Incoming struct {
	Key         models.MergeKey
	EntityID    string
	Identifying models.AttributeMap
	Attributes  models.AttributeMap
	// Condition, when set, must hold on the existing entity for the merge to
	// apply. It is ignored when there is no existing entity.
	Condition *models.Predicate
}

// Result of a merge. Entity is the state to store. Noop means the stored state
// would not change; Skipped means the condition did not hold. In both cases
// Entity is the existing entity.
type Result struct {
	Entity  *models.Entity
	Noop    bool
	Skipped bool
}

// Merge folds in into existing. existingKey is the merge key stored with
// existing and must match in.Key.
func Merge(existing *models.Entity, existingKey string, in Incoming, now time.Time) (Result, error) {
	if err := checkIdentifying(in); err != nil {
		return Result{}, err
	}

	if existing == nil {
		attrs := in.Attributes.Clone()
		for k, v := range in.Identifying {
			attrs[k] = v
		}
		return Result{Entity: &models.Entity{
			TenantID:              in.Key.TenantID,
			EntityType:            in.Key.EntityType,
			EntityID:              in.EntityID,
			IdentifyingAttributes: in.Identifying.Clone(),
			Attributes:            attrs,
			CreatedTime:           now,
			UpdatedTime:           now,
		}}, nil
	}

	if existingKey != in.Key.String() {
		return Result{}, models.IdentityMismatch("entity %s has merge key %s, incoming record resolves to %s",
			existing.EntityID, existingKey, in.Key.String())
	}
	if existing.TenantID != in.Key.TenantID || existing.EntityType != in.Key.EntityType {
		return Result{}, models.IdentityMismatch("entity %s belongs to %s/%s",
			existing.EntityID, existing.TenantID, existing.EntityType)
	}

	if in.Condition != nil && !in.Condition.Matches(existing.Attributes) {
		return Result{Entity: existing, Skipped: true}, nil
	}

	merged := Attributes(existing.Attributes, in.Attributes)
	// Identifying values already stored win over re-spelled but equivalent
	// incoming ones (case-insensitive keys).
	for k, v := range existing.IdentifyingAttributes {
		merged[k] = v
	}
	if merged.Equal(existing.Attributes) {
		return Result{Entity: existing, Noop: true}, nil
	}

	out := existing.Clone()
	out.Attributes = merged
	out.UpdatedTime = now
	return Result{Entity: out}, nil
}

// Attributes merges incoming into existing and returns a new map.
func Attributes(existing, incoming models.AttributeMap) models.AttributeMap {
	out := existing.Clone()
	for k, v := range incoming {
		if cur, ok := out[k]; ok {
			out[k] = Value(cur, v)
			continue
		}
		out[k] = v
	}
	return out
}

// Value merges one incoming value into an existing one. Only map-into-map
// recurses; every other combination takes the incoming value.
func Value(existing, incoming models.Value) models.Value {
	if existing.Kind() != models.KindMap || incoming.Kind() != models.KindMap {
		return incoming
	}
	return models.Map(Attributes(existing.Fields(), incoming.Fields()))
}

// checkIdentifying rejects incoming attributes that restate an identifying key
// with a different value.
func checkIdentifying(in Incoming) error {
	for k, v := range in.Attributes {
		id, ok := in.Identifying[k]
		if ok && !id.Equal(v) {
			return models.IdentityMismatch("attribute %s conflicts with its identifying value", k)
		}
	}
	return nil
}
