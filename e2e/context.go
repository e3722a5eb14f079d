// Package e2e drives a running entitystore server through its HTTP API.
package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestContext holds per-scenario state: the caller identity, the last
// response, and values saved by earlier steps.
type TestContext struct {
	baseURL    string
	adminToken string
	signingKey []byte
	issuer     string
	audience   string
	client     *http.Client

	accessToken string
	lastStatus  int
	lastBody    []byte
	savedIDs    map[string]string
}

// NewTestContext reads the target server from the environment. Defaults
// match the server's development configuration.
func NewTestContext() *TestContext {
	return &TestContext{
		baseURL:    env("E2E_BASE_URL", "http://localhost:8080"),
		adminToken: env("E2E_ADMIN_TOKEN", "e2e-admin-token"),
		signingKey: []byte(env("E2E_JWT_SIGNING_KEY", "dev-secret-key-change-in-production")),
		issuer:     env("E2E_JWT_ISSUER", "entitystore"),
		audience:   env("E2E_JWT_AUDIENCE", "entitystore-api"),
		client:     &http.Client{Timeout: 10 * time.Second},
		savedIDs:   make(map[string]string),
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Reset clears scenario state.
func (tc *TestContext) Reset() {
	tc.accessToken = ""
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.savedIDs = make(map[string]string)
}

// AuthenticateAs signs a short-lived access token for tenantID.
func (tc *TestContext) AuthenticateAs(tenantID string) error {
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"tenant_id": tenantID,
		"sub":       "e2e",
		"iss":       tc.issuer,
		"aud":       []string{tc.audience},
		"iat":       now.Unix(),
		"exp":       now.Add(5 * time.Minute).Unix(),
	}).SignedString(tc.signingKey)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	tc.accessToken = token
	return nil
}

func (tc *TestContext) ClearAccessToken() {
	tc.accessToken = ""
}

// Do sends a request with a JSON body. Tenant routes carry the bearer token;
// admin routes carry the admin token.
func (tc *TestContext) Do(method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, tc.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tc.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+tc.accessToken)
	}
	if strings.HasPrefix(path, "/v1/entity-types/") && method != http.MethodPost {
		req.Header.Set("X-Admin-Token", tc.adminToken)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) GetStatus() int {
	return tc.lastStatus
}

// GetResponseField reads a dotted path out of the last JSON response.
func (tc *TestContext) GetResponseField(path string) (any, error) {
	var doc any
	if err := json.Unmarshal(tc.lastBody, &doc); err != nil {
		return nil, fmt.Errorf("decode response %q: %w", tc.lastBody, err)
	}
	for _, part := range strings.Split(path, ".") {
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q not found in %s", path, tc.lastBody)
		}
		if doc, ok = obj[part]; !ok {
			return nil, fmt.Errorf("field %q not found in %s", path, tc.lastBody)
		}
	}
	return doc, nil
}

// ResponseLines counts the NDJSON lines of the last response.
func (tc *TestContext) ResponseLines() int {
	n := 0
	scanner := bufio.NewScanner(bytes.NewReader(tc.lastBody))
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) > 0 {
			n++
		}
	}
	return n
}

func (tc *TestContext) SaveEntityID(alias, id string) {
	tc.savedIDs[alias] = id
}

func (tc *TestContext) EntityID(alias string) (string, error) {
	id, ok := tc.savedIDs[alias]
	if !ok {
		return "", fmt.Errorf("no entity saved as %q", alias)
	}
	return id, nil
}
