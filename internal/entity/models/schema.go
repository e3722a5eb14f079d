package models

import "slices"

// RootTenant holds schemas shared by every tenant.
const RootTenant = "__root"

// AttributeType describes one attribute of an entity type.
type AttributeType struct {
	Kind            Kind `json:"kind"`
	CaseInsensitive bool `json:"caseInsensitive,omitempty"`
}

// Schema is the attribute schema of an entity type.
type Schema struct {
	TenantID        string                   `json:"tenantId"`
	EntityType      string                   `json:"entityType"`
	IdentifyingKeys []string                 `json:"identifyingKeys"`
	AttributeTypes  map[string]AttributeType `json:"attributeTypes,omitempty"`
}

func (s *Schema) IsIdentifying(key string) bool {
	return slices.Contains(s.IdentifyingKeys, key)
}

func (s *Schema) IsCaseInsensitive(key string) bool {
	t, ok := s.AttributeTypes[key]
	return ok && t.CaseInsensitive
}
