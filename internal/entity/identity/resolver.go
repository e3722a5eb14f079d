// Package identity derives merge keys from identifying attributes.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"entitystore/internal/entity/models"
	"entitystore/pkg/platform/sentinel"
	pstrings "entitystore/pkg/platform/strings"
)

// SchemaProvider returns the attribute schema of an entity type. The schema
// cache implements it.
type SchemaProvider interface {
	SchemaFor(ctx context.Context, tenantID, entityType string) (*models.Schema, error)
}

// Resolver computes merge keys.
type Resolver struct {
	schemas SchemaProvider
}

func NewResolver(schemas SchemaProvider) *Resolver {
	return &Resolver{schemas: schemas}
}

// Resolve validates identifying against the entity type's schema and returns
// the merge key. The key does not depend on map order, and string values are
// folded only for attributes the schema marks case-insensitive.
func (r *Resolver) Resolve(ctx context.Context, tenantID, entityType string, identifying models.AttributeMap) (models.MergeKey, error) {
	if strings.TrimSpace(tenantID) == "" {
		return models.MergeKey{}, models.InvalidIdentity("tenant is required")
	}
	if strings.TrimSpace(entityType) == "" {
		return models.MergeKey{}, models.InvalidIdentity("entity type is required")
	}
	if len(identifying) == 0 {
		return models.MergeKey{}, models.InvalidIdentity("identifying attributes are required")
	}

	sc, err := r.schemas.SchemaFor(ctx, tenantID, entityType)
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.MergeKey{}, models.InvalidIdentity("unknown entity type %s", entityType)
	}
	if err != nil {
		return models.MergeKey{}, err
	}
	if len(sc.IdentifyingKeys) == 0 {
		return models.MergeKey{}, models.InvalidIdentity("entity type %s declares no identifying attributes", entityType)
	}

	for _, key := range identifying.Keys() {
		if !sc.IsIdentifying(key) {
			return models.MergeKey{}, models.InvalidIdentity("attribute %s is not identifying for %s", key, entityType)
		}
	}
	for _, key := range sc.IdentifyingKeys {
		if _, ok := identifying[key]; !ok {
			return models.MergeKey{}, models.InvalidIdentity("identifying attribute %s is missing", key)
		}
	}

	canonical, err := Canonicalize(sc, identifying)
	if err != nil {
		return models.MergeKey{}, err
	}
	return models.NewMergeKey(tenantID, entityType, models.IdentityDigest(tenantID, entityType, canonical), canonical), nil
}

// Canonicalize encodes identifying attributes deterministically: keys sorted,
// case-insensitive strings folded, list elements sorted. Map values and nested
// lists are rejected.
func Canonicalize(sc *models.Schema, identifying models.AttributeMap) ([]byte, error) {
	normalized := make(map[string]models.Value, len(identifying))
	for key, v := range identifying {
		n, err := normalize(v, sc.IsCaseInsensitive(key))
		if err != nil {
			return nil, models.InvalidIdentity("identifying attribute %s: %s", key, err.Error())
		}
		if t, ok := sc.AttributeTypes[key]; ok && !kindMatches(t.Kind, n) {
			return nil, models.InvalidIdentity("identifying attribute %s must be %s, got %s", key, t.Kind, v.Kind())
		}
		normalized[key] = n
	}
	// encoding/json writes map keys in sorted order.
	out, err := json.Marshal(normalized)
	if err != nil {
		return nil, models.InvalidIdentity("identifying attributes are not encodable: %s", err.Error())
	}
	return out, nil
}

func normalize(v models.Value, fold bool) (models.Value, error) {
	switch v.Kind() {
	case models.KindString:
		s, _ := v.Str()
		if fold {
			s = pstrings.Fold(s)
		}
		if s == "" {
			return models.Value{}, errors.New("must not be empty")
		}
		return models.String(s), nil
	case models.KindNumber, models.KindBool, models.KindTimestamp:
		return v, nil
	case models.KindList:
		items := v.Items()
		if len(items) == 0 {
			return models.Value{}, errors.New("must not be an empty list")
		}
		for i, item := range items {
			if !item.IsScalar() {
				return models.Value{}, errors.New("list elements must be scalars")
			}
			n, err := normalize(item, fold)
			if err != nil {
				return models.Value{}, err
			}
			items[i] = n
		}
		slices.SortFunc(items, func(a, b models.Value) int {
			return strings.Compare(a.String(), b.String())
		})
		return models.List(items...), nil
	case models.KindMap:
		return models.Value{}, errors.New("maps cannot identify an entity")
	}
	return models.Value{}, errors.New("value is missing")
}

func kindMatches(want models.Kind, v models.Value) bool {
	return want == models.KindInvalid || want == v.Kind()
}
