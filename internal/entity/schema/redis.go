package schema

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"entitystore/internal/entity/models"
)

const redisKeyPrefix = "entitystore:schema:"

// RedisSource is a shared second-level cache in front of another source, so
// replicas do not each hit the schema table after a restart. Redis failures
// degrade to the underlying source.
type RedisSource struct {
	next   Store
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisSource(next Store, client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *RedisSource {
	if next == nil {
		panic("schema.NewRedisSource: next source is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSource{next: next, client: client, ttl: ttl, logger: logger}
}

func redisKey(tenantID, entityType string) string {
	return redisKeyPrefix + tenantID + ":" + entityType
}

func (s *RedisSource) Fetch(ctx context.Context, tenantID, entityType string) (*models.Schema, error) {
	key := redisKey(tenantID, entityType)
	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var sc models.Schema
		if jsonErr := json.Unmarshal(raw, &sc); jsonErr == nil {
			return &sc, nil
		}
		s.logger.WarnContext(ctx, "discarding undecodable cached schema", "key", key)
	case !errors.Is(err, redis.Nil):
		s.logger.WarnContext(ctx, "schema cache read failed", "key", key, "error", err)
	}

	sc, err := s.next.Fetch(ctx, tenantID, entityType)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, sc)
	return sc, nil
}

// Save writes through and evicts every cached copy the change may affect.
func (s *RedisSource) Save(ctx context.Context, sc *models.Schema) error {
	if err := s.next.Save(ctx, sc); err != nil {
		return err
	}
	s.evict(ctx, sc.TenantID, sc.EntityType)
	return nil
}

func (s *RedisSource) store(ctx context.Context, key string, sc *models.Schema) {
	raw, err := json.Marshal(sc)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "schema cache write failed", "key", key, "error", err)
	}
}

// evict removes the tenant's key, or for the root tenant every tenant's key of
// the type since all of them may have inherited the root schema.
func (s *RedisSource) evict(ctx context.Context, tenantID, entityType string) {
	if tenantID != models.RootTenant {
		if err := s.client.Del(ctx, redisKey(tenantID, entityType)).Err(); err != nil {
			s.logger.WarnContext(ctx, "schema cache evict failed", "tenant_id", tenantID, "error", err)
		}
		return
	}
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*:"+entityType, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			s.logger.WarnContext(ctx, "schema cache evict failed", "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		s.logger.WarnContext(ctx, "schema cache scan failed", "error", err)
	}
}
