package models

import "time"

// EventType is the kind of state transition a ChangeEvent announces.
type EventType string

const (
	EventCreated EventType = "CREATED"
	EventUpdated EventType = "UPDATED"
	EventDeleted EventType = "DELETED"
)

// ChangeEvent announces one committed write. PreviousState is nil for CREATED
// and CurrentState is nil for DELETED.
type ChangeEvent struct {
	EventType             EventType    `json:"eventType"`
	TenantID              string       `json:"tenantId"`
	EntityType            string       `json:"entityType"`
	EntityID              string       `json:"entityId"`
	MergeKey              string       `json:"mergeKey"`
	PreviousState         AttributeMap `json:"previousState,omitempty"`
	CurrentState          AttributeMap `json:"currentState,omitempty"`
	ChangedAttributePaths []string     `json:"changedAttributePaths"`
	EventTimestamp        time.Time    `json:"eventTimestamp"`
	SequenceNumber        int64        `json:"sequenceNumber"`
	UserID                string       `json:"userId,omitempty"`
	RequestID             string       `json:"requestId,omitempty"`
}
