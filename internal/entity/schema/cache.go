package schema

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"entitystore/internal/entity/models"
	"entitystore/pkg/platform/sentinel"
)

const (
	defaultTTL          = 15 * time.Minute
	defaultFetchTimeout = 2 * time.Second
)

// Source is the attribute-schema collaborator. Fetch returns
// sentinel.ErrNotFound when no schema exists for the type.
type Source interface {
	Fetch(ctx context.Context, tenantID, entityType string) (*models.Schema, error)
}

// Store is a Source that also accepts schema registrations.
type Store interface {
	Source
	Save(ctx context.Context, sc *models.Schema) error
}

// Metrics is the subset of collectors the cache reports to.
type Metrics interface {
	IncSchemaCacheHit()
	IncSchemaCacheMiss()
	IncSchemaCacheStale()
	IncSchemaFetchError()
}

type entry struct {
	schema    *models.Schema
	fetchedAt time.Time
}

// Cache is a TTL read-through cache in front of a Source. Concurrent misses
// for one key share a single fetch. When a refresh fails, an expired entry is
// served instead of an error.
type Cache struct {
	source       Source
	ttl          time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger
	metrics      Metrics
	now          func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	// gens and typeGens only grow. A fetch stores its result only if their
	// sum for the key is unchanged since it started.
	gens     map[string]uint64
	typeGens map[string]uint64
	inflight map[string]int
	group    singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithFetchTimeout bounds each fetch against the source.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a cache over source.
func NewCache(source Source, opts ...Option) *Cache {
	c := &Cache{
		source:       source,
		ttl:          defaultTTL,
		fetchTimeout: defaultFetchTimeout,
		logger:       slog.Default(),
		now:          time.Now,
		entries:      make(map[string]entry),
		gens:         make(map[string]uint64),
		typeGens:     make(map[string]uint64),
		inflight:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(tenantID, entityType string) string {
	return tenantID + "\x00" + entityType
}

// SchemaFor returns the schema of entityType as seen by tenantID.
//
// A fresh entry is returned directly. Otherwise one fetch per key runs; if it
// fails or outlasts ctx while an expired entry exists, the expired entry is
// returned. With nothing cached, fetch failures yield ErrSchemaUnavailable and
// a missing schema yields sentinel.ErrNotFound.
func (c *Cache) SchemaFor(ctx context.Context, tenantID, entityType string) (*models.Schema, error) {
	key := cacheKey(tenantID, entityType)

	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.now().Sub(cached.fetchedAt) < c.ttl {
		c.incHit()
		return cached.schema, nil
	}
	c.incMiss()

	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetch(ctx, key, tenantID, entityType)
	})

	select {
	case res := <-ch:
		if res.Err == nil {
			return res.Val.(*models.Schema), nil
		}
		return c.fallback(ctx, cached, ok, entityType, res.Err)
	case <-ctx.Done():
		return c.fallback(ctx, cached, ok, entityType, ctx.Err())
	}
}

// fetch runs once per in-flight key. It is detached from the first caller's
// cancellation so one impatient caller cannot fail the others.
func (c *Cache) fetch(ctx context.Context, key, tenantID, entityType string) (*models.Schema, error) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	c.mu.Lock()
	gen := c.generation(key, entityType)
	c.inflight[key]++
	c.mu.Unlock()

	s, err := c.source.Fetch(fetchCtx, tenantID, entityType)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[key]--; c.inflight[key] == 0 {
		delete(c.inflight, key)
	}
	if err != nil {
		return nil, err
	}
	if c.generation(key, entityType) == gen {
		c.entries[key] = entry{schema: s, fetchedAt: c.now()}
	}
	return s, nil
}

// generation must be called with mu held.
func (c *Cache) generation(key, entityType string) uint64 {
	return c.gens[key] + c.typeGens[entityType]
}

func (c *Cache) fallback(ctx context.Context, cached entry, ok bool, entityType string, err error) (*models.Schema, error) {
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}
	c.incFetchError()
	if ok {
		c.incStale()
		c.logger.WarnContext(ctx, "serving stale schema after refresh failure",
			"entity_type", entityType,
			"age", c.now().Sub(cached.fetchedAt).String(),
			"error", err,
		)
		return cached.schema, nil
	}
	c.logger.ErrorContext(ctx, "schema fetch failed",
		"entity_type", entityType,
		"error", err,
	)
	return nil, models.SchemaUnavailable(entityType, err)
}

// Invalidate drops the cached schema so the next read fetches. Invalidating
// the root tenant drops the type for every tenant, since they inherit it.
// Fetches already in flight for the dropped keys do not store their result.
func (c *Cache) Invalidate(tenantID, entityType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tenantID == models.RootTenant {
		c.typeGens[entityType]++
	}
	target := cacheKey(tenantID, entityType)
	c.gens[target]++
	matches := func(key string) bool {
		return key == target || (tenantID == models.RootTenant && strings.HasSuffix(key, "\x00"+entityType))
	}
	for key := range c.entries {
		if matches(key) {
			delete(c.entries, key)
			c.group.Forget(key)
		}
	}
	for key := range c.inflight {
		if matches(key) {
			c.group.Forget(key)
		}
	}
	c.group.Forget(target)
}

func (c *Cache) incHit() {
	if c.metrics != nil {
		c.metrics.IncSchemaCacheHit()
	}
}

func (c *Cache) incMiss() {
	if c.metrics != nil {
		c.metrics.IncSchemaCacheMiss()
	}
}

func (c *Cache) incStale() {
	if c.metrics != nil {
		c.metrics.IncSchemaCacheStale()
	}
}

func (c *Cache) incFetchError() {
	if c.metrics != nil {
		c.metrics.IncSchemaFetchError()
	}
}
