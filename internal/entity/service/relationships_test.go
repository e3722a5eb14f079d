package service

import (
	"context"
	"errors"
	"time"

	"entitystore/internal/entity/models"
	"entitystore/internal/entity/store"
	dErrors "entitystore/pkg/domain-errors"
)

// ===== Lookup by identity =====

func (s *ServiceSuite) TestGetByIdentity() {
	created := s.upsert(s.ctx, serviceRequest("checkout", "prod", models.AttributeMap{"port": models.Number(8080)}))

	s.Run("resolves the normalized identity", func() {
		found, err := s.svc.GetByIdentity(s.ctx, "acme", "SERVICE", models.AttributeMap{
			"name":        models.String("CHECKOUT"),
			"environment": models.String("prod"),
		})
		s.Require().NoError(err)
		s.Equal(created.Entity.EntityID, found.EntityID)
		port, _ := found.Attributes.Lookup("port")
		s.True(port.Equal(models.Number(8080)))
	})

	s.Run("unknown identity", func() {
		_, err := s.svc.GetByIdentity(s.ctx, "acme", "SERVICE", models.AttributeMap{
			"name":        models.String("checkout"),
			"environment": models.String("dev"),
		})
		s.ErrorIs(err, models.ErrEntityNotFound)
	})

	s.Run("identity is tenant scoped", func() {
		_, err := s.svc.GetByIdentity(s.ctx, "globex", "SERVICE", models.AttributeMap{
			"name":        models.String("checkout"),
			"environment": models.String("prod"),
		})
		s.ErrorIs(err, models.ErrEntityNotFound)
	})

	s.Run("attributes outside the identity are rejected", func() {
		_, err := s.svc.GetByIdentity(s.ctx, "acme", "SERVICE", models.AttributeMap{
			"name":        models.String("checkout"),
			"environment": models.String("prod"),
			"port":        models.Number(8080),
		})
		s.ErrorIs(err, models.ErrInvalidIdentity)
	})

	s.Run("deleted entities are not found", func() {
		s.Require().NoError(s.svc.Delete(s.ctx, "acme", created.Entity.EntityID))
		_, err := s.svc.GetByIdentity(s.ctx, "acme", "SERVICE", models.AttributeMap{
			"name":        models.String("checkout"),
			"environment": models.String("prod"),
		})
		s.ErrorIs(err, models.ErrEntityNotFound)
	})
}

// ===== Ordering =====

func (s *ServiceSuite) TestQueryOrderAndOffset() {
	for i, env := range []string{"prod", "staging", "dev"} {
		s.upsert(s.ctx, serviceRequest("checkout", env, models.AttributeMap{"port": models.Number(float64(8080 + i))}))
	}

	envs := func(q models.Query) []string {
		var out []string
		for e, err := range s.svc.Query(s.ctx, q) {
			s.Require().NoError(err)
			env, _ := e.Attributes.Lookup("environment")
			str, _ := env.Str()
			out = append(out, str)
		}
		return out
	}

	q := models.Query{
		TenantID:   "acme",
		EntityType: "SERVICE",
		OrderBy:    []models.OrderBy{{Path: "port", Kind: models.KindNumber, Order: models.SortDesc}},
	}
	s.Equal([]string{"dev", "staging", "prod"}, envs(q))

	q.OrderBy[0].Order = models.SortAsc
	q.Offset, q.Limit = 1, 1
	s.Equal([]string{"staging"}, envs(q))

	q.OrderBy = []models.OrderBy{{Path: "labels", Kind: models.KindMap}}
	for _, err := range s.svc.Query(s.ctx, q) {
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	}
}

// ===== Relationships =====

// failingRelationships writes and then fails, so the surrounding transaction
// has to undo the write.
type failingRelationships struct {
	*store.InMemoryRelationshipStore
}

func (f failingRelationships) UpsertRelationships(ctx context.Context, rels []*models.Relationship) error {
	if err := f.InMemoryRelationshipStore.UpsertRelationships(ctx, rels); err != nil {
		return err
	}
	return errors.New("connection reset")
}

func (s *ServiceSuite) collectRelationships(svc *Service, q models.RelationshipQuery) []*models.Relationship {
	var out []*models.Relationship
	for r, err := range svc.Relationships(s.ctx, q) {
		s.Require().NoError(err)
		out = append(out, r)
	}
	return out
}

func (s *ServiceSuite) TestUpsertRelationships() {
	rels := store.NewInMemoryRelationships()
	svc := s.newService(WithRelationships(rels))

	s.Run("skips incomplete and repeated edges", func() {
		n, err := svc.UpsertRelationships(s.ctx, "acme", []models.Relationship{
			{Type: "CALLS", FromEntityID: "svc-a", ToEntityID: "svc-b"},
			{Type: "CALLS", FromEntityID: "svc-a", ToEntityID: "svc-b"},
			{Type: "CALLS", FromEntityID: "svc-a"},
			{Type: " ", FromEntityID: "svc-a", ToEntityID: "svc-c"},
			{Type: "CALLS", FromEntityID: "svc-a", ToEntityID: "svc-c", TenantID: "globex"},
		})
		s.Require().NoError(err)
		s.Equal(2, n)

		got := s.collectRelationships(svc, models.RelationshipQuery{TenantID: "acme"})
		s.Require().Len(got, 2)
		for _, r := range got {
			s.Equal("acme", r.TenantID, "the caller's tenant wins")
			s.Equal(s.now, r.CreatedTime)
			s.Equal(s.now, r.UpdatedTime)
		}
		s.Empty(s.collectRelationships(svc, models.RelationshipQuery{TenantID: "globex"}))
	})

	s.Run("re-upserting refreshes the update time only", func() {
		_, err := svc.UpsertRelationships(s.at(time.Hour), "acme", []models.Relationship{
			{Type: "CALLS", FromEntityID: "svc-a", ToEntityID: "svc-b"},
		})
		s.Require().NoError(err)

		got := s.collectRelationships(svc, models.RelationshipQuery{TenantID: "acme", ToEntityIDs: []string{"svc-b"}})
		s.Require().Len(got, 1)
		s.Equal(s.now, got[0].CreatedTime)
		s.Equal(s.now.Add(time.Hour), got[0].UpdatedTime)
	})

	s.Run("an empty batch is rejected", func() {
		_, err := svc.UpsertRelationships(s.ctx, "acme", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("a batch of only incomplete edges writes nothing", func() {
		n, err := svc.UpsertRelationships(s.ctx, "acme", []models.Relationship{{Type: "CALLS"}})
		s.Require().NoError(err)
		s.Zero(n)
	})

	s.Run("a failed write is rolled back", func() {
		failing := s.newService(WithRelationships(failingRelationships{rels}))
		_, err := failing.UpsertRelationships(s.ctx, "acme", []models.Relationship{
			{Type: "OWNS", FromEntityID: "team", ToEntityID: "svc-a"},
		})
		s.ErrorIs(err, models.ErrStorageUnavailable)
		s.Empty(s.collectRelationships(svc, models.RelationshipQuery{TenantID: "acme", Types: []string{"OWNS"}}))
	})
}

func (s *ServiceSuite) TestRelationshipsDisabled() {
	_, err := s.svc.UpsertRelationships(s.ctx, "acme", []models.Relationship{
		{Type: "CALLS", FromEntityID: "svc-a", ToEntityID: "svc-b"},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	for _, err := range s.svc.Relationships(s.ctx, models.RelationshipQuery{TenantID: "acme"}) {
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	}
}
