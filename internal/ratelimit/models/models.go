package models

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// EndpointClass groups routes that share a request budget.
type EndpointClass string

const (
	// ClassRead covers lookups and queries.
	ClassRead EndpointClass = "read"
	// ClassWrite covers upserts, patches, deletes and purges.
	ClassWrite EndpointClass = "write"
)

// ClassForRequest maps a request to its endpoint class. Queries and identity
// lookups are POSTs that only read.
func ClassForRequest(r *http.Request) EndpointClass {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ClassRead
	}
	if strings.HasSuffix(r.URL.Path, "/query") || strings.HasSuffix(r.URL.Path, "/lookup") {
		return ClassRead
	}
	return ClassWrite
}

// Limit is a request budget per window.
type Limit struct {
	RequestsPerWindow int
	Window            time.Duration
}

// RateLimitResult is the outcome of one check.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int
}

// NewTenantKey returns the bucket key of a tenant's class budget.
func NewTenantKey(tenantID string, class EndpointClass) string {
	return fmt.Sprintf("ratelimit:tenant:%s:%s", tenantID, class)
}

// RateLimitExceededResponse is the 429 body.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"error_description"`
	RetryAfter int    `json:"retry_after"`
}
