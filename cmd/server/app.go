package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"entitystore/internal/entity/changeevent"
	"entitystore/internal/entity/handler"
	"entitystore/internal/entity/identity"
	entitymetrics "entitystore/internal/entity/metrics"
	"entitystore/internal/entity/schema"
	"entitystore/internal/entity/service"
	"entitystore/internal/entity/store"
	jwttoken "entitystore/internal/jwt_token"
	"entitystore/internal/platform/config"
	"entitystore/internal/platform/kafka"
	httpmetrics "entitystore/internal/platform/metrics"
	"entitystore/internal/platform/nats"
	"entitystore/internal/platform/postgres"
	"entitystore/internal/platform/redis"
	ratelimitmetrics "entitystore/internal/ratelimit/metrics"
	ratelimit "entitystore/internal/ratelimit/middleware"
	ratelimitmodels "entitystore/internal/ratelimit/models"
	"entitystore/internal/ratelimit/store/bucket"
	"entitystore/pkg/platform/httputil"
	"entitystore/pkg/platform/middleware/admin"
	"entitystore/pkg/platform/middleware/auth"
	"entitystore/pkg/platform/middleware/request"
	"entitystore/pkg/platform/middleware/requesttime"
	"entitystore/pkg/platform/tx"
)

// healthChecker is implemented by every backing dependency the service can
// report on.
type healthChecker interface {
	Health(ctx context.Context) error
}

type namedCheck struct {
	name  string
	check func(ctx context.Context) error
}

// app holds the wired service: the HTTP router, the outbox relay (nil when
// events are disabled) and the resources to release on shutdown.
type app struct {
	router  http.Handler
	relay   *changeevent.Relay
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires every component for cfg. On error, resources opened so far
// are released.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger, reg *prometheus.Registry) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	metrics := entitymetrics.New(reg)
	var checks []namedCheck

	var (
		docs     service.DocumentStore
		rels     service.RelationshipStore
		txRunner service.TxRunner
		outbox   changeevent.Outbox
		schemas  schema.Store
		db       *sql.DB
	)
	switch cfg.Store {
	case config.StorePostgres:
		db, err = postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		checks = append(checks, namedCheck{name: "postgres", check: db.PingContext})

		docs = store.NewPostgres(db)
		rels = store.NewPostgresRelationships(db)
		txRunner = tx.NewPostgresRunner(db, cfg.Repository.TxTimeout)
		outbox = changeevent.NewPostgresOutbox(db)
		schemas = schema.NewPostgresSource(db)
	default:
		docs = store.NewInMemory()
		rels = store.NewInMemoryRelationships()
		txRunner = &store.MemoryTx{}
		outbox = changeevent.NewInMemoryOutbox()
		schemas = schema.NewStaticSource()
	}

	static, err := schema.FromConfig(cfg.Schema.Static)
	if err != nil {
		return nil, fmt.Errorf("load static schemas: %w", err)
	}
	for _, sc := range static {
		if err := schemas.Save(ctx, sc); err != nil {
			return nil, fmt.Errorf("seed schema %s: %w", sc.EntityType, err)
		}
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		checks = append(checks, namedCheck{name: "redis", check: rdb.Health})
		schemas = schema.NewRedisSource(schemas, rdb, cfg.Schema.RedisTTL, logger)
	}

	cache := schema.NewCache(schemas,
		schema.WithTTL(cfg.Schema.CacheTTL),
		schema.WithFetchTimeout(cfg.Schema.FetchTimeout),
		schema.WithLogger(logger),
		schema.WithMetrics(metrics),
	)

	var events service.EventGenerator
	if cfg.Events.Bus != config.BusNone {
		publisher, err := newPublisher(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if c, ok := publisher.(interface{ Close() }); ok {
			a.closers = append(a.closers, c.Close)
		}
		if h, ok := publisher.(healthChecker); ok {
			checks = append(checks, namedCheck{name: "event_bus", check: h.Health})
		}
		events = changeevent.NewGenerator(outbox,
			changeevent.WithGeneratorLogger(logger),
			changeevent.WithGeneratorMetrics(metrics),
			changeevent.WithEnabledEntityTypes(cfg.Events.EnabledEntityTypes...),
			changeevent.WithSkipAttributes(cfg.Events.SkipAttributes),
		)
		a.relay = changeevent.NewRelay(outbox, publisher,
			changeevent.WithRelayLogger(logger),
			changeevent.WithRelayMetrics(metrics),
			changeevent.WithInterval(cfg.Events.RelayInterval),
			changeevent.WithBatchSize(cfg.Events.BatchSize),
			changeevent.WithRetry(cfg.Events.MaxRetries, cfg.Events.RetryInitial, cfg.Events.RetryMax),
			changeevent.WithMaxDeliveries(cfg.Events.MaxDeliveries),
		)
	}

	svc := service.New(docs, txRunner, identity.NewResolver(cache), events,
		service.WithLogger(logger),
		service.WithMetrics(metrics),
		service.WithRelationships(rels),
		service.WithMaxAttempts(cfg.Repository.MaxConflictRetries),
		service.WithOpTimeout(cfg.Repository.OpTimeout),
		service.WithBulkConcurrency(cfg.Repository.BulkConcurrency),
	)

	var primary ratelimit.BucketStore = bucket.New()
	if rdb != nil {
		primary = bucket.NewRedis(rdb)
	}
	limiter := ratelimit.New(primary, map[ratelimitmodels.EndpointClass]ratelimitmodels.Limit{
		ratelimitmodels.ClassRead:  {RequestsPerWindow: cfg.RateLimit.ReadRequests, Window: cfg.RateLimit.Window},
		ratelimitmodels.ClassWrite: {RequestsPerWindow: cfg.RateLimit.WriteRequests, Window: cfg.RateLimit.Window},
	}, logger,
		ratelimit.WithDisabled(!cfg.RateLimit.Enabled),
		ratelimit.WithFallback(bucket.New()),
		ratelimit.WithMetrics(ratelimitmetrics.New(reg)),
	)

	h := handler.New(svc, schema.NewRegistry(schemas, cache), logger)
	validator := jwttoken.NewJWTServiceAdapter(
		jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience),
	)
	a.router = newRouter(routerDeps{
		handler:        h,
		validator:      validator,
		adminToken:     cfg.Server.AdminToken,
		requestTimeout: cfg.Server.RequestTimeout,
		rateLimit:      limiter.RateLimitByClass(),
		logger:         logger,
		metrics:        httpmetrics.New(reg),
		gatherer:       reg,
		checks:         checks,
	})
	return a, nil
}

func newPublisher(ctx context.Context, cfg config.Config, logger *slog.Logger) (changeevent.Publisher, error) {
	switch cfg.Events.Bus {
	case config.BusKafka:
		p, err := kafka.NewProducer(cfg.Kafka, logger)
		if err != nil {
			return nil, err
		}
		if err := p.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	case config.BusNATS:
		p, err := nats.NewPublisher(cfg.NATS, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return changeevent.NewMemoryPublisher(), nil
	}
}

type routerDeps struct {
	handler        *handler.Handler
	validator      auth.JWTValidator
	adminToken     string
	requestTimeout time.Duration
	rateLimit      func(http.Handler) http.Handler
	logger         *slog.Logger
	metrics        *httpmetrics.Metrics
	gatherer       prometheus.Gatherer
	checks         []namedCheck
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.ClientMetadata)
	r.Use(request.Logger(d.logger))
	r.Use(request.Recovery(d.logger))
	r.Use(requesttime.Middleware)
	r.Use(httpmetrics.LatencyMiddleware(d.metrics))

	r.Get("/health", healthHandler(d.checks))
	r.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		if d.requestTimeout > 0 {
			r.Use(chimw.Timeout(d.requestTimeout))
		}
		r.Use(auth.RequireTenant(d.validator, d.logger))
		if d.rateLimit != nil {
			r.Use(d.rateLimit)
		}
		d.handler.Register(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(d.adminToken, d.logger))
		d.handler.RegisterAdmin(r)
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks []namedCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		var failed error
		for _, c := range checks {
			if resp.Checks == nil {
				resp.Checks = make(map[string]string, len(checks))
			}
			if err := c.check(ctx); err != nil {
				resp.Checks[c.name] = "unavailable"
				failed = errors.Join(failed, fmt.Errorf("%s: %w", c.name, err))
				continue
			}
			resp.Checks[c.name] = "ok"
		}
		if failed != nil {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, resp)
	}
}
