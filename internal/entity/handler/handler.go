package handler

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"entitystore/internal/entity/models"
	"entitystore/internal/entity/service"
	dErrors "entitystore/pkg/domain-errors"
	"entitystore/pkg/platform/httputil"
	"entitystore/pkg/platform/sentinel"
	"entitystore/pkg/requestcontext"
)

const contentTypeNDJSON = "application/x-ndjson"

// Service defines the entity operations exposed over HTTP.
type Service interface {
	Upsert(ctx context.Context, req service.UpsertRequest) (*service.UpsertResult, error)
	UpsertMany(ctx context.Context, reqs []service.UpsertRequest) ([]service.BulkResult, error)
	UpdateAttributes(ctx context.Context, tenantID, entityID string, attrs models.AttributeMap) (*service.UpsertResult, error)
	Get(ctx context.Context, tenantID, entityID string) (*models.Entity, error)
	Query(ctx context.Context, q models.Query) iter.Seq2[*models.Entity, error]
	Delete(ctx context.Context, tenantID, entityID string) error
	PurgeTenant(ctx context.Context, tenantID, entityType string) (int, error)
	GetByIdentity(ctx context.Context, tenantID, entityType string, identifying models.AttributeMap) (*models.Entity, error)
	UpsertRelationships(ctx context.Context, tenantID string, rels []models.Relationship) (int, error)
	Relationships(ctx context.Context, q models.RelationshipQuery) iter.Seq2[*models.Relationship, error]
}

// SchemaRegistry reads and registers entity type schemas.
type SchemaRegistry interface {
	SchemaFor(ctx context.Context, tenantID, entityType string) (*models.Schema, error)
	Save(ctx context.Context, sc *models.Schema) error
}

// Handler wires entity endpoints to the entity service.
type Handler struct {
	service Service
	schemas SchemaRegistry
	logger  *slog.Logger
}

// New constructs an entity handler with its dependencies.
func New(service Service, schemas SchemaRegistry, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		schemas: schemas,
		logger:  logger,
	}
}

// Register mounts the tenant-scoped entity endpoints. The router is expected
// to carry the tenant authentication middleware.
func (h *Handler) Register(r chi.Router) {
	r.Put("/v1/entities", h.HandleUpsert)
	r.Post("/v1/entities/bulk", h.HandleUpsertMany)
	r.Post("/v1/entities/query", h.HandleQuery)
	r.Post("/v1/entities/lookup", h.HandleLookup)
	r.Get("/v1/entities/{entityID}", h.HandleGet)
	r.Patch("/v1/entities/{entityID}", h.HandleUpdateAttributes)
	r.Delete("/v1/entities/{entityID}", h.HandleDelete)
	r.Post("/v1/entity-types/{entityType}/purge", h.HandlePurge)
	r.Put("/v1/relationships", h.HandleUpsertRelationships)
	r.Post("/v1/relationships/query", h.HandleQueryRelationships)
}

// RegisterAdmin mounts the schema registry endpoints. The router is expected
// to carry the admin token middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Put("/v1/entity-types/{entityType}", h.HandlePutSchema)
	r.Get("/v1/entity-types/{entityType}", h.HandleGetSchema)
}

// HandleUpsert handles PUT /v1/entities.
func (h *Handler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpsertRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.Upsert(ctx, req.toService(tenantID))
	if err != nil {
		h.logFailure(ctx, "upsert failed", err, "entity_type", req.EntityType)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, FromUpsertResult(res))
}

// HandleUpsertMany handles POST /v1/entities/bulk. Per-item failures are
// reported inline; the response is 200 unless the batch itself is rejected.
func (h *Handler) HandleUpsertMany(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[BulkUpsertRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	reqs := make([]service.UpsertRequest, len(req.Items))
	for i := range req.Items {
		reqs[i] = req.Items[i].toService(tenantID)
	}
	results, err := h.service.UpsertMany(ctx, reqs)
	if err != nil {
		h.logFailure(ctx, "bulk upsert failed", err, "items", len(reqs))
		httputil.WriteError(w, err)
		return
	}

	resp := FromBulkResults(results)
	h.logger.InfoContext(ctx, "bulk upsert completed",
		"request_id", requestID,
		"tenant_id", tenantID,
		"items", len(reqs),
		"failed", resp.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleQuery handles POST /v1/entities/query and streams matches as
// newline-delimited JSON.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[QueryRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	streamLines(h, w, r, "query", h.service.Query(ctx, req.toQuery(tenantID)),
		func(e *models.Entity) any { return QueryLine{Entity: e} },
		"entity_type", req.EntityType)
}

// HandleLookup handles POST /v1/entities/lookup: it returns the live entity
// the given identifying attributes resolve to.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[LookupRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	entity, err := h.service.GetByIdentity(ctx, tenantID, req.EntityType, req.IdentifyingAttributes)
	if err != nil {
		h.logFailure(ctx, "lookup failed", err, "entity_type", req.EntityType)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entity)
}

// HandleUpsertRelationships handles PUT /v1/relationships.
func (h *Handler) HandleUpsertRelationships(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RelationshipsRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	n, err := h.service.UpsertRelationships(ctx, tenantID, req.toModels())
	if err != nil {
		h.logFailure(ctx, "upsert relationships failed", err, "relationships", len(req.Relationships))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RelationshipsResponse{
		Upserted: n,
		Skipped:  len(req.Relationships) - n,
	})
}

// HandleQueryRelationships handles POST /v1/relationships/query and streams
// matches as newline-delimited JSON.
func (h *Handler) HandleQueryRelationships(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RelationshipQueryRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	streamLines(h, w, r, "relationship query", h.service.Relationships(ctx, req.toQuery(tenantID)),
		func(rel *models.Relationship) any { return RelationshipLine{Relationship: rel} })
}

// streamLines writes seq as newline-delimited JSON. Errors found before the
// first item produce a regular error response; later errors end the stream
// with an error line.
func streamLines[T any](h *Handler, w http.ResponseWriter, r *http.Request, op string, seq iter.Seq2[T, error], line func(T) any, args ...any) {
	ctx := r.Context()

	next, stop := iter.Pull2(seq)
	defer stop()

	item, err, more := next()
	if err != nil {
		h.logFailure(ctx, op+" failed", err, args...)
		httputil.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentTypeNDJSON)
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	count := 0
	for more {
		if err != nil {
			h.logFailure(ctx, op+" stream interrupted", err, append(args, "streamed", count)...)
			_ = enc.Encode(NewErrorLine(err))
			return
		}
		if encErr := enc.Encode(line(item)); encErr != nil {
			h.logger.WarnContext(ctx, op+" client went away",
				"request_id", requestcontext.RequestID(ctx),
				"error", encErr,
			)
			return
		}
		count++
		if flusher != nil && count%100 == 0 {
			flusher.Flush()
		}
		item, err, more = next()
	}
}

// HandleGet handles GET /v1/entities/{entityID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	entityID := chi.URLParam(r, "entityID")

	entity, err := h.service.Get(ctx, tenantID, entityID)
	if err != nil {
		h.logFailure(ctx, "get entity failed", err, "entity_id", entityID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entity)
}

// HandleUpdateAttributes handles PATCH /v1/entities/{entityID}.
func (h *Handler) HandleUpdateAttributes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	entityID := chi.URLParam(r, "entityID")
	req, ok := httputil.DecodeAndPrepare[UpdateAttributesRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.UpdateAttributes(ctx, tenantID, entityID, req.Attributes)
	if err != nil {
		h.logFailure(ctx, "update attributes failed", err, "entity_id", entityID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromUpsertResult(res))
}

// HandleDelete handles DELETE /v1/entities/{entityID}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	entityID := chi.URLParam(r, "entityID")

	if err := h.service.Delete(ctx, tenantID, entityID); err != nil {
		h.logFailure(ctx, "delete entity failed", err, "entity_id", entityID)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePurge handles POST /v1/entity-types/{entityType}/purge.
func (h *Handler) HandlePurge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	entityType := chi.URLParam(r, "entityType")

	n, err := h.service.PurgeTenant(ctx, tenantID, entityType)
	if err != nil {
		h.logFailure(ctx, "purge failed", err, "entity_type", entityType, "purged", n)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "entity type purged",
		"request_id", requestcontext.RequestID(ctx),
		"tenant_id", tenantID,
		"entity_type", entityType,
		"purged", n,
	)
	httputil.WriteJSON(w, http.StatusOK, PurgeResponse{EntityType: entityType, Purged: n})
}

// HandlePutSchema handles PUT /v1/entity-types/{entityType}. The optional
// tenant query parameter scopes the schema; it defaults to the root tenant.
func (h *Handler) HandlePutSchema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	entityType := chi.URLParam(r, "entityType")
	tenantID := schemaTenant(r)

	req, ok := httputil.DecodeAndPrepare[SchemaRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	sc := req.toSchema(tenantID, entityType)
	if err := h.schemas.Save(ctx, sc); err != nil {
		h.logFailure(ctx, "register schema failed", err, "entity_type", entityType)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "schema registered",
		"request_id", requestID,
		"tenant_id", tenantID,
		"entity_type", entityType,
	)
	httputil.WriteJSON(w, http.StatusOK, FromSchema(sc))
}

// HandleGetSchema handles GET /v1/entity-types/{entityType}.
func (h *Handler) HandleGetSchema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityType := chi.URLParam(r, "entityType")

	sc, err := h.schemas.SchemaFor(ctx, schemaTenant(r), entityType)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			err = dErrors.Wrap(err, dErrors.CodeNotFound, "no schema for entity type "+entityType)
		}
		h.logFailure(ctx, "read schema failed", err, "entity_type", entityType)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSchema(sc))
}

// requireTenant returns the tenant set by the auth middleware.
func (h *Handler) requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := requestcontext.TenantID(r.Context())
	if tenantID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return "", false
	}
	return tenantID, true
}

// logFailure logs at warn for caller errors and at error for server faults.
func (h *Handler) logFailure(ctx context.Context, msg string, err error, args ...any) {
	args = append(args,
		"request_id", requestcontext.RequestID(ctx),
		"tenant_id", requestcontext.TenantID(ctx),
		"error", err,
	)
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeUnavailable, dErrors.CodeTimeout:
		h.logger.ErrorContext(ctx, msg, args...)
	default:
		h.logger.WarnContext(ctx, msg, args...)
	}
}

func schemaTenant(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("tenant")); t != "" {
		return t
	}
	return models.RootTenant
}
