package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitystore/internal/entity/models"
	"entitystore/internal/platform/config"
	"entitystore/pkg/platform/sentinel"
)

func TestFromConfig(t *testing.T) {
	t.Run("defaults to the root tenant", func(t *testing.T) {
		schemas, err := FromConfig([]config.SchemaDefinition{{
			EntityType:      "SERVICE",
			IdentifyingKeys: []string{"name"},
			Attributes: map[string]config.AttributeDefinition{
				"name": {Kind: "string", CaseInsensitive: true},
				"tags": {},
			},
		}})
		require.NoError(t, err)
		require.Len(t, schemas, 1)
		sc := schemas[0]
		assert.Equal(t, models.RootTenant, sc.TenantID)
		assert.True(t, sc.IsIdentifying("name"))
		assert.True(t, sc.IsCaseInsensitive("name"))
		assert.Equal(t, models.KindString, sc.AttributeTypes["name"].Kind)
		assert.Equal(t, models.KindInvalid, sc.AttributeTypes["tags"].Kind)
	})

	t.Run("unknown kinds are rejected", func(t *testing.T) {
		_, err := FromConfig([]config.SchemaDefinition{{
			EntityType: "SERVICE",
			Attributes: map[string]config.AttributeDefinition{"port": {Kind: "integer"}},
		}})
		assert.Error(t, err)
	})
}

func TestStaticSourceTenantHierarchy(t *testing.T) {
	ctx := context.Background()
	src := NewStaticSource(
		&models.Schema{TenantID: models.RootTenant, EntityType: "SERVICE", IdentifyingKeys: []string{"name"}},
		&models.Schema{TenantID: "acme", EntityType: "SERVICE", IdentifyingKeys: []string{"name", "region"}},
	)

	sc, err := src.Fetch(ctx, "acme", "SERVICE")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "region"}, sc.IdentifyingKeys)

	sc, err = src.Fetch(ctx, "globex", "SERVICE")
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, sc.IdentifyingKeys)

	_, err = src.Fetch(ctx, "globex", "HOST")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, src.Save(ctx, &models.Schema{TenantID: "globex", EntityType: "HOST", IdentifyingKeys: []string{"hostname"}}))
	_, err = src.Fetch(ctx, "globex", "HOST")
	assert.NoError(t, err)
}
