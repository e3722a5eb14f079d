package handler

import (
	"entitystore/internal/entity/models"
	"entitystore/internal/entity/service"
	dErrors "entitystore/pkg/domain-errors"
)

// UpsertResponse is the body returned by upsert and attribute updates.
type UpsertResponse struct {
	Entity  *models.Entity `json:"entity"`
	Version int64          `json:"version"`
	Created bool           `json:"created"`
	Noop    bool           `json:"noop,omitempty"`
	Skipped bool           `json:"skipped,omitempty"`
}

func FromUpsertResult(res *service.UpsertResult) UpsertResponse {
	return UpsertResponse{
		Entity:  res.Entity,
		Version: res.Version,
		Created: res.Created,
		Noop:    res.Noop,
		Skipped: res.Skipped,
	}
}

// BulkItemResponse is one item of a bulk response. Either the upsert fields
// or Error are set.
type BulkItemResponse struct {
	*UpsertResponse
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// BulkResponse is the body returned by POST /v1/entities/bulk.
type BulkResponse struct {
	Items  []BulkItemResponse `json:"items"`
	Failed int                `json:"failed"`
}

func FromBulkResults(results []service.BulkResult) BulkResponse {
	resp := BulkResponse{Items: make([]BulkItemResponse, len(results))}
	for i, r := range results {
		if r.Err != nil {
			line := NewErrorLine(r.Err)
			resp.Items[i] = BulkItemResponse{Error: line.Error, ErrorDescription: line.ErrorDescription}
			resp.Failed++
			continue
		}
		ur := FromUpsertResult(r.Result)
		resp.Items[i] = BulkItemResponse{UpsertResponse: &ur}
	}
	return resp
}

// QueryLine is one line of a query stream.
type QueryLine struct {
	Entity *models.Entity `json:"entity"`
}

// RelationshipLine is one line of a relationship query stream.
type RelationshipLine struct {
	Relationship *models.Relationship `json:"relationship"`
}

// RelationshipsResponse is the body returned by PUT /v1/relationships.
type RelationshipsResponse struct {
	Upserted int `json:"upserted"`
	Skipped  int `json:"skipped"`
}

// ErrorLine reports a failure inline, in the same shape as error responses.
type ErrorLine struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// NewErrorLine builds an ErrorLine, omitting internal error details.
func NewErrorLine(err error) ErrorLine {
	code := dErrors.CodeOf(err)
	line := ErrorLine{Error: string(code)}
	if code != dErrors.CodeInternal {
		line.ErrorDescription = dErrors.Message(err)
	}
	return line
}

// PurgeResponse is the body returned by the purge endpoint.
type PurgeResponse struct {
	EntityType string `json:"entityType"`
	Purged     int    `json:"purged"`
}

// SchemaResponse is the body returned by the schema endpoints.
type SchemaResponse struct {
	TenantID        string                          `json:"tenantId"`
	EntityType      string                          `json:"entityType"`
	IdentifyingKeys []string                        `json:"identifyingKeys"`
	Attributes      map[string]AttributeTypeRequest `json:"attributes,omitempty"`
}

func FromSchema(sc *models.Schema) SchemaResponse {
	resp := SchemaResponse{
		TenantID:        sc.TenantID,
		EntityType:      sc.EntityType,
		IdentifyingKeys: sc.IdentifyingKeys,
	}
	if len(sc.AttributeTypes) > 0 {
		resp.Attributes = make(map[string]AttributeTypeRequest, len(sc.AttributeTypes))
		for name, t := range sc.AttributeTypes {
			attr := AttributeTypeRequest{CaseInsensitive: t.CaseInsensitive}
			if t.Kind != models.KindInvalid {
				attr.Kind = t.Kind.String()
			}
			resp.Attributes[name] = attr
		}
	}
	return resp
}
