package models

import (
	"slices"
	"strings"
	"time"
)

// Relationship is a typed, directed edge between two entities of one tenant.
// (TenantID, Type, FromEntityID, ToEntityID) identifies it; upserting an
// existing edge only refreshes UpdatedTime.
type Relationship struct {
	TenantID     string    `json:"tenantId"`
	Type         string    `json:"relationshipType"`
	FromEntityID string    `json:"fromEntityId"`
	ToEntityID   string    `json:"toEntityId"`
	CreatedTime  time.Time `json:"createdTime"`
	UpdatedTime  time.Time `json:"updatedTime"`
}

// Key is the identity of r within the store.
func (r *Relationship) Key() string {
	return strings.Join([]string{r.TenantID, r.Type, r.FromEntityID, r.ToEntityID}, "\x00")
}

// Complete reports whether the type and both endpoints are set.
func (r *Relationship) Complete() bool {
	return strings.TrimSpace(r.Type) != "" &&
		strings.TrimSpace(r.FromEntityID) != "" &&
		strings.TrimSpace(r.ToEntityID) != ""
}

// RelationshipQuery selects relationships of one tenant. Each non-empty list
// restricts its field to the listed values; the lists are AND-ed.
type RelationshipQuery struct {
	TenantID      string   `json:"-"`
	Types         []string `json:"relationshipTypes,omitempty"`
	FromEntityIDs []string `json:"fromEntityIds,omitempty"`
	ToEntityIDs   []string `json:"toEntityIds,omitempty"`
	Limit         int      `json:"limit,omitempty"`
}

func (q RelationshipQuery) Matches(r *Relationship) bool {
	if r == nil || r.TenantID != q.TenantID {
		return false
	}
	return within(q.Types, r.Type) &&
		within(q.FromEntityIDs, r.FromEntityID) &&
		within(q.ToEntityIDs, r.ToEntityID)
}

// Compare orders relationships by type, source, then target.
func (r *Relationship) Compare(o *Relationship) int {
	if c := strings.Compare(r.Type, o.Type); c != 0 {
		return c
	}
	if c := strings.Compare(r.FromEntityID, o.FromEntityID); c != 0 {
		return c
	}
	return strings.Compare(r.ToEntityID, o.ToEntityID)
}

func within(allowed []string, v string) bool {
	return len(allowed) == 0 || slices.Contains(allowed, v)
}
