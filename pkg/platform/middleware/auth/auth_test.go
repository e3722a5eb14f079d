package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"entitystore/pkg/requestcontext"
)

type stubValidator map[string]*JWTClaims

func (v stubValidator) ValidateToken(token string) (*JWTClaims, error) {
	if c, ok := v[token]; ok {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

func TestRequireTenant(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	validator := stubValidator{"good": {TenantID: "acme", Subject: "svc-inventory"}}

	var tenant, user string
	h := RequireTenant(validator, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant = requestcontext.TenantID(r.Context())
		user = requestcontext.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "valid token", header: "Bearer good", status: http.StatusNoContent},
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good", status: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer bad", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tenant, user = "", ""
			req := httptest.NewRequest(http.MethodGet, "/v1/entities/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, "acme", tenant)
				assert.Equal(t, "svc-inventory", user)
			} else {
				assert.Empty(t, tenant)
				assert.Contains(t, w.Body.String(), `"error":"unauthorized"`)
			}
		})
	}
}
