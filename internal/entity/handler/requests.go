package handler

import (
	"fmt"
	"strings"

	"entitystore/internal/entity/models"
	"entitystore/internal/entity/service"
	dErrors "entitystore/pkg/domain-errors"
)

const (
	maxEntityTypeLength = 128
	maxBulkItems        = 1000
	maxQueryLimit       = 10000
)

// UpsertRequest is the HTTP request body for PUT /v1/entities.
type UpsertRequest struct {
	EntityType            string              `json:"entityType"`
	IdentifyingAttributes models.AttributeMap `json:"identifyingAttributes"`
	Attributes            models.AttributeMap `json:"attributes"`
	Condition             *models.Predicate   `json:"condition,omitempty"`
}

// Validate validates the request shape. Identity rules are enforced by the
// service against the type's schema.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *UpsertRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if err := validateEntityType(&r.EntityType); err != nil {
		return err
	}
	if len(r.IdentifyingAttributes) == 0 {
		return dErrors.New(dErrors.CodeValidation, "identifyingAttributes is required")
	}
	if err := validateAttributeKeys(r.IdentifyingAttributes, r.Attributes); err != nil {
		return err
	}
	if r.Condition != nil {
		q := models.Query{TenantID: "-", EntityType: r.EntityType, Predicates: []models.Predicate{*r.Condition}}
		if err := q.Validate(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, "invalid condition")
		}
	}
	return nil
}

func (r *UpsertRequest) toService(tenantID string) service.UpsertRequest {
	return service.UpsertRequest{
		TenantID:              tenantID,
		EntityType:            r.EntityType,
		IdentifyingAttributes: r.IdentifyingAttributes,
		Attributes:            r.Attributes,
		Condition:             r.Condition,
	}
}

// BulkUpsertRequest is the HTTP request body for POST /v1/entities/bulk.
type BulkUpsertRequest struct {
	Items []UpsertRequest `json:"items"`
}

func (r *BulkUpsertRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Items) == 0 {
		return dErrors.New(dErrors.CodeValidation, "items is required")
	}
	if len(r.Items) > maxBulkItems {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("at most %d items per request", maxBulkItems))
	}
	for i := range r.Items {
		if err := r.Items[i].Validate(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("items[%d]: %s", i, dErrors.Message(err)))
		}
	}
	return nil
}

// QueryRequest is the HTTP request body for POST /v1/entities/query.
type QueryRequest struct {
	EntityType string             `json:"entityType"`
	Predicates []models.Predicate `json:"predicates,omitempty"`
	OrderBy    []models.OrderBy   `json:"orderBy,omitempty"`
	Limit      int                `json:"limit,omitempty"`
	Offset     int                `json:"offset,omitempty"`
}

func (r *QueryRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if err := validateEntityType(&r.EntityType); err != nil {
		return err
	}
	if r.Limit < 0 || r.Limit > maxQueryLimit {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("limit must be between 0 and %d", maxQueryLimit))
	}
	if r.Offset < 0 {
		return dErrors.New(dErrors.CodeValidation, "offset must not be negative")
	}
	return nil
}

func (r *QueryRequest) toQuery(tenantID string) models.Query {
	return models.Query{
		TenantID:   tenantID,
		EntityType: r.EntityType,
		Predicates: r.Predicates,
		OrderBy:    r.OrderBy,
		Limit:      r.Limit,
		Offset:     r.Offset,
	}
}

// LookupRequest is the HTTP request body for POST /v1/entities/lookup.
type LookupRequest struct {
	EntityType            string              `json:"entityType"`
	IdentifyingAttributes models.AttributeMap `json:"identifyingAttributes"`
}

func (r *LookupRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if err := validateEntityType(&r.EntityType); err != nil {
		return err
	}
	if len(r.IdentifyingAttributes) == 0 {
		return dErrors.New(dErrors.CodeValidation, "identifyingAttributes is required")
	}
	return validateAttributeKeys(r.IdentifyingAttributes)
}

// RelationshipRequest is one edge of PUT /v1/relationships.
type RelationshipRequest struct {
	Type         string `json:"relationshipType"`
	FromEntityID string `json:"fromEntityId"`
	ToEntityID   string `json:"toEntityId"`
}

// RelationshipsRequest is the HTTP request body for PUT /v1/relationships.
// Edges missing a type or an endpoint are skipped, not rejected.
type RelationshipsRequest struct {
	Relationships []RelationshipRequest `json:"relationships"`
}

func (r *RelationshipsRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Relationships) == 0 {
		return dErrors.New(dErrors.CodeValidation, "relationships is required")
	}
	if len(r.Relationships) > maxBulkItems {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("at most %d relationships per request", maxBulkItems))
	}
	return nil
}

func (r *RelationshipsRequest) toModels() []models.Relationship {
	rels := make([]models.Relationship, len(r.Relationships))
	for i, rel := range r.Relationships {
		rels[i] = models.Relationship{
			Type:         strings.TrimSpace(rel.Type),
			FromEntityID: strings.TrimSpace(rel.FromEntityID),
			ToEntityID:   strings.TrimSpace(rel.ToEntityID),
		}
	}
	return rels
}

// RelationshipQueryRequest is the HTTP request body for
// POST /v1/relationships/query.
type RelationshipQueryRequest struct {
	Types         []string `json:"relationshipTypes,omitempty"`
	FromEntityIDs []string `json:"fromEntityIds,omitempty"`
	ToEntityIDs   []string `json:"toEntityIds,omitempty"`
	Limit         int      `json:"limit,omitempty"`
}

func (r *RelationshipQueryRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Limit < 0 || r.Limit > maxQueryLimit {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("limit must be between 0 and %d", maxQueryLimit))
	}
	return nil
}

func (r *RelationshipQueryRequest) toQuery(tenantID string) models.RelationshipQuery {
	return models.RelationshipQuery{
		TenantID:      tenantID,
		Types:         r.Types,
		FromEntityIDs: r.FromEntityIDs,
		ToEntityIDs:   r.ToEntityIDs,
		Limit:         r.Limit,
	}
}

// UpdateAttributesRequest is the HTTP request body for
// PATCH /v1/entities/{entityID}.
type UpdateAttributesRequest struct {
	Attributes models.AttributeMap `json:"attributes"`
}

func (r *UpdateAttributesRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Attributes) == 0 {
		return dErrors.New(dErrors.CodeValidation, "attributes is required")
	}
	return validateAttributeKeys(r.Attributes)
}

func validateAttributeKeys(maps ...models.AttributeMap) error {
	for _, m := range maps {
		if err := m.Validate(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
		}
	}
	return nil
}

// SchemaRequest is the HTTP request body for PUT /v1/entity-types/{entityType}.
type SchemaRequest struct {
	IdentifyingKeys []string                        `json:"identifyingKeys"`
	Attributes      map[string]AttributeTypeRequest `json:"attributes,omitempty"`

	// Parsed values (populated by Validate)
	parsedTypes map[string]models.AttributeType
}

// AttributeTypeRequest declares one attribute. An empty kind accepts any kind.
type AttributeTypeRequest struct {
	Kind            string `json:"kind,omitempty"`
	CaseInsensitive bool   `json:"caseInsensitive,omitempty"`
}

func (r *SchemaRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.IdentifyingKeys) == 0 {
		return dErrors.New(dErrors.CodeValidation, "identifyingKeys is required")
	}
	r.parsedTypes = make(map[string]models.AttributeType, len(r.Attributes))
	for name, attr := range r.Attributes {
		kind := models.KindInvalid
		if attr.Kind != "" {
			parsed, err := models.ParseKind(strings.ToLower(attr.Kind))
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("attribute %q: %s", name, err))
			}
			kind = parsed
		}
		r.parsedTypes[name] = models.AttributeType{Kind: kind, CaseInsensitive: attr.CaseInsensitive}
	}
	return nil
}

func (r *SchemaRequest) toSchema(tenantID, entityType string) *models.Schema {
	return &models.Schema{
		TenantID:        tenantID,
		EntityType:      entityType,
		IdentifyingKeys: r.IdentifyingKeys,
		AttributeTypes:  r.parsedTypes,
	}
}

func validateEntityType(entityType *string) error {
	*entityType = strings.TrimSpace(*entityType)
	if *entityType == "" {
		return dErrors.New(dErrors.CodeValidation, "entityType is required")
	}
	if len(*entityType) > maxEntityTypeLength {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("entityType must be at most %d characters", maxEntityTypeLength))
	}
	return nil
}
