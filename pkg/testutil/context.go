package testutil

import (
	"net/http"

	"entitystore/pkg/requestcontext"
)

// WithTenant adds the tenant and caller to the request context, as the auth
// middleware would for an authenticated request. Empty values are skipped.
func WithTenant(req *http.Request, tenantID, userID string) *http.Request {
	ctx := req.Context()
	if tenantID != "" {
		ctx = requestcontext.WithTenantID(ctx, tenantID)
	}
	if userID != "" {
		ctx = requestcontext.WithUserID(ctx, userID)
	}
	return req.WithContext(ctx)
}
