package models

import (
	"time"
)

// Entity is a tenant-scoped record. EntityType and EntityID never change after
// creation. Identifying attributes are also present in Attributes.
type Entity struct {
	TenantID              string       `json:"tenantId"`
	EntityType            string       `json:"entityType"`
	EntityID              string       `json:"entityId"`
	IdentifyingAttributes AttributeMap `json:"identifyingAttributes"`
	Attributes            AttributeMap `json:"attributes"`
	CreatedTime           time.Time    `json:"createdTime"`
	UpdatedTime           time.Time    `json:"updatedTime"`
}

// Clone returns a copy that shares no maps with e.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	cp := *e
	cp.IdentifyingAttributes = e.IdentifyingAttributes.Clone()
	cp.Attributes = e.Attributes.Clone()
	return &cp
}

// Document is an entity as held by a document store. Version is the
// compare-and-swap token and doubles as the per-merge-key sequence counter:
// it starts at 1 and grows by one with every committed write, tombstones
// included.
type Document struct {
	Entity    Entity
	MergeKey  string
	Version   int64
	Deleted   bool
	DeletedAt *time.Time
}

// Live returns the entity, or nil for a tombstone.
func (d *Document) Live() *Entity {
	if d == nil || d.Deleted {
		return nil
	}
	return &d.Entity
}
