package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"entitystore/internal/entity/handler/mocks"
	"entitystore/internal/entity/models"
	"entitystore/internal/entity/service"
	dErrors "entitystore/pkg/domain-errors"
	"entitystore/pkg/platform/sentinel"
	"entitystore/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service,SchemaRegistry

// Justification for unit tests: status mapping, NDJSON framing and request
// validation are HTTP boundary concerns that do not need a real store.
type HandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	schemas *mocks.MockSchemaRegistry
	router  chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.schemas = mocks.NewMockSchemaRegistry(ctrl)
	h := New(s.service, s.schemas, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.router = chi.NewRouter()
	h.Register(s.router)
	h.RegisterAdmin(s.router)
}

func (s *HandlerSuite) do(method, path, body, tenantID string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if tenantID != "" {
		req = req.WithContext(requestcontext.WithTenantID(req.Context(), tenantID))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlerSuite) decode(w *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func checkout() *models.Entity {
	at := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	return &models.Entity{
		TenantID:              "acme",
		EntityType:            "SERVICE",
		EntityID:              "0b7e3c1e-7f7a-5d2e-9c55-6f9d3e7b1a20",
		IdentifyingAttributes: models.AttributeMap{"name": models.String("checkout")},
		Attributes:            models.AttributeMap{"name": models.String("checkout"), "port": models.Number(443)},
		CreatedTime:           at,
		UpdatedTime:           at,
	}
}

func entities(items ...any) iter.Seq2[*models.Entity, error] {
	return func(yield func(*models.Entity, error) bool) {
		for _, it := range items {
			var ok bool
			switch v := it.(type) {
			case *models.Entity:
				ok = yield(v, nil)
			case error:
				ok = yield(nil, v)
			}
			if !ok {
				return
			}
		}
	}
}

const upsertBody = `{
	"entityType": "SERVICE",
	"identifyingAttributes": {"name": {"string": "checkout"}},
	"attributes": {"port": {"number": 443}}
}`

// ===== Upsert =====

func (s *HandlerSuite) TestUpsert() {
	s.Run("created entities return 201", func() {
		s.service.EXPECT().Upsert(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req service.UpsertRequest) (*service.UpsertResult, error) {
				s.Equal("acme", req.TenantID)
				s.Equal("SERVICE", req.EntityType)
				port, ok := req.Attributes.Lookup("port")
				s.True(ok)
				s.True(port.Equal(models.Number(443)))
				return &service.UpsertResult{Entity: checkout(), Created: true, Version: 1}, nil
			})

		w := s.do(http.MethodPut, "/v1/entities", upsertBody, "acme")
		s.Equal(http.StatusCreated, w.Code)
		body := s.decode(w)
		s.Equal(true, body["created"])
		s.Equal(float64(1), body["version"])
		entity := body["entity"].(map[string]any)
		s.Equal(checkout().EntityID, entity["entityId"])
	})

	s.Run("updates return 200", func() {
		s.service.EXPECT().Upsert(gomock.Any(), gomock.Any()).
			Return(&service.UpsertResult{Entity: checkout(), Noop: true, Version: 4}, nil)

		w := s.do(http.MethodPut, "/v1/entities", upsertBody, "acme")
		s.Equal(http.StatusOK, w.Code)
		s.Equal(true, s.decode(w)["noop"])
	})

	s.Run("missing tenant is unauthorized", func() {
		w := s.do(http.MethodPut, "/v1/entities", upsertBody, "")
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("missing identifying attributes is rejected", func() {
		w := s.do(http.MethodPut, "/v1/entities", `{"entityType":"SERVICE","attributes":{}}`, "acme")
		s.Equal(http.StatusBadRequest, w.Code)
		s.Equal(string(dErrors.CodeValidation), s.decode(w)["error"])
	})

	s.Run("malformed values are rejected", func() {
		w := s.do(http.MethodPut, "/v1/entities", `{"entityType":"SERVICE","identifyingAttributes":{"name":"checkout"}}`, "acme")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("dotted or empty attribute keys are rejected", func() {
		for _, body := range []string{
			`{"entityType":"SERVICE","identifyingAttributes":{"name":{"string":"a"}},"attributes":{"a.b":{"number":1}}}`,
			`{"entityType":"SERVICE","identifyingAttributes":{"name":{"string":"a"}},"attributes":{"labels":{"map":{"":{"string":"x"}}}}}`,
		} {
			w := s.do(http.MethodPut, "/v1/entities", body, "acme")
			s.Equal(http.StatusBadRequest, w.Code, body)
			s.Equal(string(dErrors.CodeValidation), s.decode(w)["error"])
		}
	})

	s.Run("invalid conditions are rejected", func() {
		body := `{"entityType":"SERVICE","identifyingAttributes":{"name":{"string":"a"}},"condition":{"path":"port","op":"BOGUS"}}`
		w := s.do(http.MethodPut, "/v1/entities", body, "acme")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("domain errors map to statuses", func() {
		tests := []struct {
			err    error
			status int
		}{
			{models.InvalidIdentity("unknown identifying key %q", "zone"), http.StatusBadRequest},
			{models.IdentityMismatch("identity differs"), http.StatusUnprocessableEntity},
			{models.ConcurrentModification(5), http.StatusConflict},
			{models.EntityDeleted("e1"), http.StatusConflict},
			{models.Precondition("condition not met"), http.StatusPreconditionFailed},
			{models.StorageUnavailable(errors.New("down")), http.StatusServiceUnavailable},
			{models.StorageUnavailable(context.DeadlineExceeded), http.StatusGatewayTimeout},
			{errors.New("boom"), http.StatusInternalServerError},
		}
		for _, tt := range tests {
			s.service.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil, tt.err)
			w := s.do(http.MethodPut, "/v1/entities", upsertBody, "acme")
			s.Equal(tt.status, w.Code, tt.err.Error())
		}
	})

	s.Run("internal errors hide their message", func() {
		s.service.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil, errors.New("pq: password authentication failed"))
		w := s.do(http.MethodPut, "/v1/entities", upsertBody, "acme")
		s.NotContains(w.Body.String(), "password")
	})
}

// ===== Bulk =====

func (s *HandlerSuite) TestUpsertMany() {
	s.Run("reports per-item outcomes", func() {
		s.service.EXPECT().UpsertMany(gomock.Any(), gomock.Len(2)).Return([]service.BulkResult{
			{Result: &service.UpsertResult{Entity: checkout(), Created: true, Version: 1}},
			{Err: models.InvalidIdentity("identifying attributes are required")},
		}, nil)

		body := fmt.Sprintf(`{"items":[%s,%s]}`, upsertBody, upsertBody)
		w := s.do(http.MethodPost, "/v1/entities/bulk", body, "acme")
		s.Equal(http.StatusOK, w.Code)

		var resp BulkResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal(1, resp.Failed)
		s.Require().Len(resp.Items, 2)
		s.Require().NotNil(resp.Items[0].UpsertResponse)
		s.True(resp.Items[0].Created)
		s.Equal(string(dErrors.CodeInvalidInput), resp.Items[1].Error)
	})

	s.Run("empty batches are rejected", func() {
		w := s.do(http.MethodPost, "/v1/entities/bulk", `{"items":[]}`, "acme")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("invalid items name their index", func() {
		body := fmt.Sprintf(`{"items":[%s,{"entityType":""}]}`, upsertBody)
		w := s.do(http.MethodPost, "/v1/entities/bulk", body, "acme")
		s.Equal(http.StatusBadRequest, w.Code)
		s.Contains(s.decode(w)["error_description"], "items[1]")
	})
}

// ===== Query =====

func (s *HandlerSuite) TestQuery() {
	s.Run("streams one entity per line", func() {
		second := checkout()
		second.EntityID = "1c8f4d2f-8a8b-5e3f-8d66-7a0e4f8c2b31"
		s.service.EXPECT().Query(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, q models.Query) iter.Seq2[*models.Entity, error] {
				s.Equal("acme", q.TenantID)
				s.Equal(10, q.Limit)
				s.Require().Len(q.Predicates, 1)
				s.Equal(models.OpGte, q.Predicates[0].Op)
				return entities(checkout(), second)
			})

		body := `{"entityType":"SERVICE","predicates":[{"path":"port","op":"GTE","value":{"number":100}}],"limit":10}`
		w := s.do(http.MethodPost, "/v1/entities/query", body, "acme")
		s.Equal(http.StatusOK, w.Code)
		s.Equal(contentTypeNDJSON, w.Header().Get("Content-Type"))

		var ids []string
		sc := bufio.NewScanner(w.Body)
		for sc.Scan() {
			var line QueryLine
			s.Require().NoError(json.Unmarshal(sc.Bytes(), &line))
			ids = append(ids, line.Entity.EntityID)
		}
		s.Equal([]string{checkout().EntityID, second.EntityID}, ids)
	})

	s.Run("no matches is an empty stream", func() {
		s.service.EXPECT().Query(gomock.Any(), gomock.Any()).Return(entities())
		w := s.do(http.MethodPost, "/v1/entities/query", `{"entityType":"SERVICE"}`, "acme")
		s.Equal(http.StatusOK, w.Code)
		s.Empty(w.Body.String())
	})

	s.Run("errors before the first match use the status code", func() {
		s.service.EXPECT().Query(gomock.Any(), gomock.Any()).
			Return(entities(dErrors.New(dErrors.CodeBadRequest, "invalid query")))
		w := s.do(http.MethodPost, "/v1/entities/query", `{"entityType":"SERVICE"}`, "acme")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("errors mid-stream end with an error line", func() {
		s.service.EXPECT().Query(gomock.Any(), gomock.Any()).
			Return(entities(checkout(), models.StorageUnavailable(errors.New("reset"))))
		w := s.do(http.MethodPost, "/v1/entities/query", `{"entityType":"SERVICE"}`, "acme")
		s.Equal(http.StatusOK, w.Code)

		lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
		s.Require().Len(lines, 2)
		var last ErrorLine
		s.Require().NoError(json.Unmarshal([]byte(lines[1]), &last))
		s.Equal(string(dErrors.CodeUnavailable), last.Error)
	})

	s.Run("negative limits are rejected", func() {
		w := s.do(http.MethodPost, "/v1/entities/query", `{"entityType":"SERVICE","limit":-1}`, "acme")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("ordering and offset reach the service", func() {
		s.service.EXPECT().Query(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, q models.Query) iter.Seq2[*models.Entity, error] {
				s.Equal([]models.OrderBy{{Path: "port", Kind: models.KindNumber, Order: models.SortDesc}}, q.OrderBy)
				s.Equal(20, q.Offset)
				return entities()
			})
		body := `{"entityType":"SERVICE","orderBy":[{"path":"port","kind":"number","order":"DESC"}],"offset":20}`
		w := s.do(http.MethodPost, "/v1/entities/query", body, "acme")
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("negative offsets are rejected", func() {
		w := s.do(http.MethodPost, "/v1/entities/query", `{"entityType":"SERVICE","offset":-5}`, "acme")
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

// ===== Lookup =====

func (s *HandlerSuite) TestLookup() {
	s.Run("returns the entity the identity resolves to", func() {
		s.service.EXPECT().GetByIdentity(gomock.Any(), "acme", "SERVICE", gomock.Any()).
			DoAndReturn(func(_ context.Context, _, _ string, identifying models.AttributeMap) (*models.Entity, error) {
				s.True(identifying.Equal(models.AttributeMap{"name": models.String("checkout")}))
				return checkout(), nil
			})
		body := `{"entityType":"SERVICE","identifyingAttributes":{"name":{"string":"checkout"}}}`
		w := s.do(http.MethodPost, "/v1/entities/lookup", body, "acme")
		s.Equal(http.StatusOK, w.Code)
		s.Equal(checkout().EntityID, s.decode(w)["entityId"])
	})

	s.Run("unknown identity is not found", func() {
		s.service.EXPECT().GetByIdentity(gomock.Any(), "acme", "SERVICE", gomock.Any()).
			Return(nil, models.EntityNotFound("0b7e3c1e"))
		body := `{"entityType":"SERVICE","identifyingAttributes":{"name":{"string":"billing"}}}`
		w := s.do(http.MethodPost, "/v1/entities/lookup", body, "acme")
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("identity is required", func() {
		w := s.do(http.MethodPost, "/v1/entities/lookup", `{"entityType":"SERVICE"}`, "acme")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("requires a tenant", func() {
		body := `{"entityType":"SERVICE","identifyingAttributes":{"name":{"string":"checkout"}}}`
		w := s.do(http.MethodPost, "/v1/entities/lookup", body, "")
		s.Equal(http.StatusUnauthorized, w.Code)
	})
}

// ===== Relationships =====

func relationships(items ...any) iter.Seq2[*models.Relationship, error] {
	return func(yield func(*models.Relationship, error) bool) {
		for _, it := range items {
			var ok bool
			switch v := it.(type) {
			case *models.Relationship:
				ok = yield(v, nil)
			case error:
				ok = yield(nil, v)
			}
			if !ok {
				return
			}
		}
	}
}

func (s *HandlerSuite) TestRelationships() {
	s.Run("upsert reports written and skipped edges", func() {
		s.service.EXPECT().UpsertRelationships(gomock.Any(), "acme", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, rels []models.Relationship) (int, error) {
				s.Require().Len(rels, 2)
				s.Equal("CALLS", rels[0].Type)
				s.Equal("svc-a", rels[0].FromEntityID)
				s.Equal("svc-b", rels[0].ToEntityID)
				return 1, nil
			})
		body := `{"relationships":[
			{"relationshipType":" CALLS ","fromEntityId":"svc-a","toEntityId":"svc-b"},
			{"relationshipType":"CALLS","fromEntityId":"svc-a"}
		]}`
		w := s.do(http.MethodPut, "/v1/relationships", body, "acme")
		s.Equal(http.StatusOK, w.Code)
		resp := s.decode(w)
		s.Equal(float64(1), resp["upserted"])
		s.Equal(float64(1), resp["skipped"])
	})

	s.Run("upsert requires relationships", func() {
		w := s.do(http.MethodPut, "/v1/relationships", `{"relationships":[]}`, "acme")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("query streams one relationship per line", func() {
		s.service.EXPECT().Relationships(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, q models.RelationshipQuery) iter.Seq2[*models.Relationship, error] {
				s.Equal("acme", q.TenantID)
				s.Equal([]string{"svc-a"}, q.FromEntityIDs)
				s.Equal([]string{"CALLS"}, q.Types)
				return relationships(
					&models.Relationship{TenantID: "acme", Type: "CALLS", FromEntityID: "svc-a", ToEntityID: "svc-b"},
					&models.Relationship{TenantID: "acme", Type: "CALLS", FromEntityID: "svc-a", ToEntityID: "svc-c"},
				)
			})
		body := `{"relationshipTypes":["CALLS"],"fromEntityIds":["svc-a"]}`
		w := s.do(http.MethodPost, "/v1/relationships/query", body, "acme")
		s.Equal(http.StatusOK, w.Code)
		s.Equal(contentTypeNDJSON, w.Header().Get("Content-Type"))

		var targets []string
		sc := bufio.NewScanner(w.Body)
		for sc.Scan() {
			var line RelationshipLine
			s.Require().NoError(json.Unmarshal(sc.Bytes(), &line))
			targets = append(targets, line.Relationship.ToEntityID)
		}
		s.Equal([]string{"svc-b", "svc-c"}, targets)
	})

	s.Run("query errors before the first edge use the status code", func() {
		s.service.EXPECT().Relationships(gomock.Any(), gomock.Any()).
			Return(relationships(dErrors.New(dErrors.CodeUnavailable, "relationships are not enabled")))
		w := s.do(http.MethodPost, "/v1/relationships/query", `{}`, "acme")
		s.Equal(http.StatusServiceUnavailable, w.Code)
	})
}

// ===== Single entity =====

func (s *HandlerSuite) TestEntityByID() {
	id := checkout().EntityID

	s.Run("get", func() {
		s.service.EXPECT().Get(gomock.Any(), "acme", id).Return(checkout(), nil)
		w := s.do(http.MethodGet, "/v1/entities/"+id, "", "acme")
		s.Equal(http.StatusOK, w.Code)
		s.Equal("SERVICE", s.decode(w)["entityType"])
	})

	s.Run("get missing", func() {
		s.service.EXPECT().Get(gomock.Any(), "acme", "nope").Return(nil, models.EntityNotFound("nope"))
		w := s.do(http.MethodGet, "/v1/entities/nope", "", "acme")
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("patch", func() {
		s.service.EXPECT().UpdateAttributes(gomock.Any(), "acme", id, gomock.Any()).
			DoAndReturn(func(_ context.Context, _, _ string, attrs models.AttributeMap) (*service.UpsertResult, error) {
				s.True(attrs.Equal(models.AttributeMap{"owner": models.String("payments")}))
				return &service.UpsertResult{Entity: checkout(), Version: 2}, nil
			})
		w := s.do(http.MethodPatch, "/v1/entities/"+id, `{"attributes":{"owner":{"string":"payments"}}}`, "acme")
		s.Equal(http.StatusOK, w.Code)
		s.Equal(float64(2), s.decode(w)["version"])
	})

	s.Run("patch without attributes", func() {
		w := s.do(http.MethodPatch, "/v1/entities/"+id, `{"attributes":{}}`, "acme")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("delete", func() {
		s.service.EXPECT().Delete(gomock.Any(), "acme", id).Return(nil)
		w := s.do(http.MethodDelete, "/v1/entities/"+id, "", "acme")
		s.Equal(http.StatusNoContent, w.Code)
	})

	s.Run("delete missing", func() {
		s.service.EXPECT().Delete(gomock.Any(), "acme", id).Return(models.EntityNotFound(id))
		w := s.do(http.MethodDelete, "/v1/entities/"+id, "", "acme")
		s.Equal(http.StatusNotFound, w.Code)
	})
}

// ===== Entity types =====

func (s *HandlerSuite) TestPurge() {
	s.service.EXPECT().PurgeTenant(gomock.Any(), "acme", "SERVICE").Return(7, nil)
	w := s.do(http.MethodPost, "/v1/entity-types/SERVICE/purge", "", "acme")
	s.Equal(http.StatusOK, w.Code)
	s.Equal(float64(7), s.decode(w)["purged"])
}

func (s *HandlerSuite) TestSchemas() {
	s.Run("register defaults to the root tenant", func() {
		s.schemas.EXPECT().Save(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, sc *models.Schema) error {
				s.Equal(models.RootTenant, sc.TenantID)
				s.Equal("HOST", sc.EntityType)
				s.Equal([]string{"hostname"}, sc.IdentifyingKeys)
				s.Equal(models.AttributeType{Kind: models.KindString, CaseInsensitive: true}, sc.AttributeTypes["hostname"])
				return nil
			})
		body := `{"identifyingKeys":["hostname"],"attributes":{"hostname":{"kind":"STRING","caseInsensitive":true}}}`
		w := s.do(http.MethodPut, "/v1/entity-types/HOST", body, "")
		s.Equal(http.StatusOK, w.Code)
		s.Equal("HOST", s.decode(w)["entityType"])
	})

	s.Run("register for a tenant", func() {
		s.schemas.EXPECT().Save(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, sc *models.Schema) error {
				s.Equal("acme", sc.TenantID)
				return nil
			})
		w := s.do(http.MethodPut, "/v1/entity-types/HOST?tenant=acme", `{"identifyingKeys":["hostname"]}`, "")
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("unknown kinds are rejected", func() {
		w := s.do(http.MethodPut, "/v1/entity-types/HOST", `{"identifyingKeys":["a"],"attributes":{"a":{"kind":"uuid"}}}`, "")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("read", func() {
		s.schemas.EXPECT().SchemaFor(gomock.Any(), models.RootTenant, "HOST").Return(&models.Schema{
			TenantID:        models.RootTenant,
			EntityType:      "HOST",
			IdentifyingKeys: []string{"hostname"},
			AttributeTypes:  map[string]models.AttributeType{"hostname": {Kind: models.KindString}},
		}, nil)
		w := s.do(http.MethodGet, "/v1/entity-types/HOST", "", "")
		s.Equal(http.StatusOK, w.Code)
		attrs := s.decode(w)["attributes"].(map[string]any)
		s.Equal("string", attrs["hostname"].(map[string]any)["kind"])
	})

	s.Run("read missing", func() {
		s.schemas.EXPECT().SchemaFor(gomock.Any(), models.RootTenant, "NOPE").
			Return(nil, fmt.Errorf("find schema NOPE: %w", sentinel.ErrNotFound))
		w := s.do(http.MethodGet, "/v1/entity-types/NOPE", "", "")
		s.Equal(http.StatusNotFound, w.Code)
	})
}
