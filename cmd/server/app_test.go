package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitystore/internal/entity/handler"
	jwttoken "entitystore/internal/jwt_token"
	"entitystore/internal/platform/config"
	"entitystore/pkg/testutil"
)

const adminToken = "admin-secret"

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Server.AdminToken = adminToken
	cfg.Schema.Static = []config.SchemaDefinition{{
		EntityType:      "SERVICE",
		IdentifyingKeys: []string{"name"},
		Attributes: map[string]config.AttributeDefinition{
			"name": {Kind: "string", CaseInsensitive: true},
		},
	}}
	return cfg
}

func newTestApp(t *testing.T, mutate ...func(*config.Config)) (*app, func(tenantID string) string) {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	a, err := buildApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	issuer := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
	token := func(tenantID string) string {
		tok, err := issuer.GenerateAccessToken(tenantID, "alice", time.Hour)
		require.NoError(t, err)
		return tok
	}
	return a, token
}

func authed(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

const checkoutBody = `{
	"entityType": "SERVICE",
	"identifyingAttributes": {"name": {"string": "checkout"}},
	"attributes": {"port": {"number": 443}}
}`

// TestEntityLifecycle drives the memory deployment through the full
// middleware chain.
func TestEntityLifecycle(t *testing.T) {
	a, token := newTestApp(t)
	acme := token("acme")
	var entityID string

	testutil.Given(t, "no bearer token", func(t *testing.T) {
		rr := testutil.DoRequest(a.router, testutil.NewJSONRequest(t, http.MethodPut, "/v1/entities", checkoutBody))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	testutil.When(t, "a tenant upserts a new entity", func(t *testing.T) {
		rr := testutil.DoRequest(a.router, authed(testutil.NewJSONRequest(t, http.MethodPut, "/v1/entities", checkoutBody), acme))
		testutil.AssertStatus(t, rr, http.StatusCreated)
		resp := testutil.UnmarshalResponse[handler.UpsertResponse](t, rr)
		require.NotNil(t, resp.Entity)
		assert.Equal(t, "acme", resp.Entity.TenantID)
		assert.Equal(t, int64(1), resp.Version)
		assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
		entityID = resp.Entity.EntityID
	})

	testutil.Then(t, "a case variant of the identity resolves to the same entity", func(t *testing.T) {
		body := strings.Replace(checkoutBody, `"checkout"`, `"  CheckOut "`, 1)
		rr := testutil.DoRequest(a.router, authed(testutil.NewJSONRequest(t, http.MethodPut, "/v1/entities", body), acme))
		testutil.AssertStatus(t, rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[handler.UpsertResponse](t, rr)
		assert.Equal(t, entityID, resp.Entity.EntityID)
		assert.False(t, resp.Created)
	})

	testutil.Then(t, "the entity is readable and queryable by its tenant only", func(t *testing.T) {
		rr := testutil.DoRequest(a.router, authed(testutil.NewJSONRequest(t, http.MethodGet, "/v1/entities/"+entityID, nil), acme))
		testutil.AssertStatus(t, rr, http.StatusOK)

		rr = testutil.DoRequest(a.router, authed(testutil.NewJSONRequest(t, http.MethodGet, "/v1/entities/"+entityID, nil), token("globex")))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")

		rr = testutil.DoRequest(a.router, authed(testutil.NewJSONRequest(t, http.MethodPost, "/v1/entities/query", `{"entityType":"SERVICE"}`), acme))
		testutil.AssertStatus(t, rr, http.StatusOK)
		lines := testutil.UnmarshalLines[handler.QueryLine](t, rr)
		require.Len(t, lines, 1)
		assert.Equal(t, entityID, lines[0].Entity.EntityID)
	})

	testutil.Then(t, "committed writes reach the event bus", func(t *testing.T) {
		require.NotNil(t, a.relay)
		n, err := a.relay.Drain(context.Background())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)
	})

	testutil.When(t, "the entity is deleted", func(t *testing.T) {
		rr := testutil.DoRequest(a.router, authed(testutil.NewJSONRequest(t, http.MethodDelete, "/v1/entities/"+entityID, nil), acme))
		testutil.AssertStatus(t, rr, http.StatusNoContent)

		rr = testutil.DoRequest(a.router, authed(testutil.NewJSONRequest(t, http.MethodGet, "/v1/entities/"+entityID, nil), acme))
		testutil.AssertStatus(t, rr, http.StatusNotFound)
	})
}

func TestSchemaAdministration(t *testing.T) {
	a, _ := newTestApp(t)
	body := `{"identifyingKeys":["hostname"],"attributes":{"hostname":{"kind":"string","caseInsensitive":true}}}`

	testutil.Given(t, "no admin token", func(t *testing.T) {
		rr := testutil.DoRequest(a.router, testutil.NewJSONRequest(t, http.MethodPut, "/v1/entity-types/HOST", body))
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})

	testutil.When(t, "an admin registers a schema", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPut, "/v1/entity-types/HOST", body)
		req.Header.Set("X-Admin-Token", adminToken)
		testutil.AssertStatus(t, testutil.DoRequest(a.router, req), http.StatusOK)

		req = testutil.NewJSONRequest(t, http.MethodGet, "/v1/entity-types/HOST", nil)
		req.Header.Set("X-Admin-Token", adminToken)
		rr := testutil.DoRequest(a.router, req)
		testutil.AssertStatus(t, rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[handler.SchemaResponse](t, rr)
		assert.Equal(t, []string{"hostname"}, resp.IdentifyingKeys)
	})
}

func TestTenantRateLimit(t *testing.T) {
	a, token := newTestApp(t, func(c *config.Config) {
		c.RateLimit.ReadRequests = 2
		c.RateLimit.WriteRequests = 1
	})
	acme, globex := token("acme"), token("globex")
	get := func(tok string) *http.Request {
		return authed(testutil.NewJSONRequest(t, http.MethodGet, "/v1/entities/missing", nil), tok)
	}

	testutil.Given(t, "a tenant within its read budget", func(t *testing.T) {
		rr := testutil.DoRequest(a.router, get(acme))
		testutil.AssertStatus(t, rr, http.StatusNotFound)
		assert.Equal(t, "1", rr.Header().Get("X-RateLimit-Remaining"))
	})

	testutil.When(t, "the tenant exhausts its read budget", func(t *testing.T) {
		testutil.DoRequest(a.router, get(acme))
		rr := testutil.DoRequest(a.router, get(acme))
		testutil.AssertStatus(t, rr, http.StatusTooManyRequests)
		assert.NotEmpty(t, rr.Header().Get("Retry-After"))

		testutil.Then(t, "other tenants and the write budget are unaffected", func(t *testing.T) {
			testutil.AssertStatus(t, testutil.DoRequest(a.router, get(globex)), http.StatusNotFound)
			rr := testutil.DoRequest(a.router, authed(testutil.NewJSONRequest(t, http.MethodPut, "/v1/entities", checkoutBody), acme))
			testutil.AssertStatus(t, rr, http.StatusCreated)
		})
	})
}

func TestOpsEndpoints(t *testing.T) {
	a, _ := newTestApp(t)

	rr := testutil.DoRequest(a.router, testutil.NewJSONRequest(t, http.MethodGet, "/health", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)

	rr = testutil.DoRequest(a.router, testutil.NewJSONRequest(t, http.MethodGet, "/metrics", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Contains(t, rr.Body.String(), "entitystore_http_requests_total")
}

func TestHealthReportsFailingChecks(t *testing.T) {
	h := healthHandler([]namedCheck{
		{name: "postgres", check: func(context.Context) error { return nil }},
		{name: "redis", check: func(context.Context) error { return io.ErrUnexpectedEOF }},
	})
	rr := testutil.DoRequest(h, testutil.NewJSONRequest(t, http.MethodGet, "/health", nil))
	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
	assert.Contains(t, rr.Body.String(), `"redis":"unavailable"`)
	assert.Contains(t, rr.Body.String(), `"postgres":"ok"`)
}

func TestRootCommandWiring(t *testing.T) {
	cmd := newRootCommand()
	names := make([]string, 0, len(cmd.Commands()))
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "token"})
}
