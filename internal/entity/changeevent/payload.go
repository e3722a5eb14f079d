package changeevent

import (
	"encoding/json"
	"fmt"
	"strconv"

	"entitystore/internal/entity/models"
)

// Header names attached to every published event.
const (
	HeaderEventType  = "event-type"
	HeaderTenantID   = "tenant-id"
	HeaderEntityType = "entity-type"
	HeaderSequence   = "sequence-number"
)

// Encode renders the wire payload of an event.
func Encode(event *models.ChangeEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode change event: %w", err)
	}
	return payload, nil
}

// Decode parses a wire payload.
func Decode(payload []byte) (*models.ChangeEvent, error) {
	var event models.ChangeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode change event: %w", err)
	}
	return &event, nil
}

// Headers returns the transport headers for a record, so consumers can route
// without decoding the payload.
func Headers(r Record) map[string]string {
	return map[string]string{
		HeaderEventType:  string(r.EventType),
		HeaderTenantID:   r.TenantID,
		HeaderEntityType: r.EntityType,
		HeaderSequence:   strconv.FormatInt(r.Sequence, 10),
	}
}
