package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitystore/internal/entity/models"
	"entitystore/internal/entity/schema"
	dErrors "entitystore/pkg/domain-errors"
)

func newResolver() *Resolver {
	src := schema.NewStaticSource(
		&models.Schema{
			TenantID:        models.RootTenant,
			EntityType:      "SERVICE",
			IdentifyingKeys: []string{"name", "environment"},
			AttributeTypes: map[string]models.AttributeType{
				"name":        {Kind: models.KindString, CaseInsensitive: true},
				"environment": {Kind: models.KindString},
			},
		},
		&models.Schema{TenantID: models.RootTenant, EntityType: "API", IdentifyingKeys: []string{"ports"}},
		&models.Schema{TenantID: models.RootTenant, EntityType: "UNKEYED"},
	)
	return NewResolver(schema.NewCache(src))
}

func serviceIdentity(name, env string) models.AttributeMap {
	return models.AttributeMap{"name": models.String(name), "environment": models.String(env)}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := newResolver()
	ctx := context.Background()

	first, err := r.Resolve(ctx, "acme", "SERVICE", serviceIdentity("checkout", "prod"))
	require.NoError(t, err)

	for range 10 {
		again, err := r.Resolve(ctx, "acme", "SERVICE", serviceIdentity("checkout", "prod"))
		require.NoError(t, err)
		assert.Equal(t, first.String(), again.String())
		assert.Equal(t, first.EntityID(), again.EntityID())
	}
}

func TestResolveDistinguishesInputs(t *testing.T) {
	r := newResolver()
	ctx := context.Background()

	base, err := r.Resolve(ctx, "acme", "SERVICE", serviceIdentity("checkout", "prod"))
	require.NoError(t, err)

	otherEnv, err := r.Resolve(ctx, "acme", "SERVICE", serviceIdentity("checkout", "staging"))
	require.NoError(t, err)
	otherTenant, err := r.Resolve(ctx, "globex", "SERVICE", serviceIdentity("checkout", "prod"))
	require.NoError(t, err)

	assert.NotEqual(t, base.Digest, otherEnv.Digest)
	assert.NotEqual(t, base.Digest, otherTenant.Digest)
	assert.NotEqual(t, base.String(), otherTenant.String())
	assert.NotEqual(t, base.EntityID(), otherTenant.EntityID())
}

func TestResolveNormalization(t *testing.T) {
	r := newResolver()
	ctx := context.Background()

	t.Run("case-insensitive attribute is folded", func(t *testing.T) {
		a, err := r.Resolve(ctx, "acme", "SERVICE", serviceIdentity(" Checkout ", "prod"))
		require.NoError(t, err)
		b, err := r.Resolve(ctx, "acme", "SERVICE", serviceIdentity("checkout", "prod"))
		require.NoError(t, err)
		assert.Equal(t, a.Digest, b.Digest)
	})

	t.Run("exact-match attribute is not folded", func(t *testing.T) {
		a, err := r.Resolve(ctx, "acme", "SERVICE", serviceIdentity("checkout", "Prod"))
		require.NoError(t, err)
		b, err := r.Resolve(ctx, "acme", "SERVICE", serviceIdentity("checkout", "prod"))
		require.NoError(t, err)
		assert.NotEqual(t, a.Digest, b.Digest)
	})

	t.Run("list order is irrelevant", func(t *testing.T) {
		a, err := r.Resolve(ctx, "acme", "API", models.AttributeMap{"ports": models.List(models.Number(443), models.Number(80))})
		require.NoError(t, err)
		b, err := r.Resolve(ctx, "acme", "API", models.AttributeMap{"ports": models.List(models.Number(80), models.Number(443))})
		require.NoError(t, err)
		assert.Equal(t, a.Digest, b.Digest)
	})
}

func TestResolveRejectsInvalidIdentity(t *testing.T) {
	r := newResolver()
	ctx := context.Background()

	tests := []struct {
		name        string
		tenantID    string
		entityType  string
		identifying models.AttributeMap
	}{
		{"empty identifying attributes", "acme", "SERVICE", models.AttributeMap{}},
		{"missing tenant", "", "SERVICE", serviceIdentity("a", "b")},
		{"undeclared key", "acme", "SERVICE", models.AttributeMap{
			"name": models.String("a"), "environment": models.String("b"), "region": models.String("eu"),
		}},
		{"missing declared key", "acme", "SERVICE", models.AttributeMap{"name": models.String("a")}},
		{"wrong kind", "acme", "SERVICE", models.AttributeMap{"name": models.Number(1), "environment": models.String("b")}},
		{"empty string", "acme", "SERVICE", serviceIdentity("  ", "prod")},
		{"map value", "acme", "API", models.AttributeMap{"ports": models.Map(map[string]models.Value{"a": models.Number(1)})}},
		{"nested list", "acme", "API", models.AttributeMap{"ports": models.List(models.List(models.Number(1)))}},
		{"unknown entity type", "acme", "DATABASE", models.AttributeMap{"name": models.String("a")}},
		{"type without identifying keys", "acme", "UNKEYED", models.AttributeMap{"name": models.String("a")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(ctx, tt.tenantID, tt.entityType, tt.identifying)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrInvalidIdentity))
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}
