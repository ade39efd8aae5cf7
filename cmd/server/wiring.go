package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nser/internal/audit"
	crossrefhandler "nser/internal/crossref/handler"
	crossrefmodels "nser/internal/crossref/models"
	crossrefservice "nser/internal/crossref/service"
	crossrefstore "nser/internal/crossref/store"
	"nser/internal/events"
	exclhandler "nser/internal/exclusion/handler"
	exclmetrics "nser/internal/exclusion/metrics"
	exclservice "nser/internal/exclusion/service"
	exclstore "nser/internal/exclusion/store"
	"nser/internal/lookup/cache"
	lookuphandler "nser/internal/lookup/handler"
	lookupmetrics "nser/internal/lookup/metrics"
	lookupservice "nser/internal/lookup/service"
	ophandler "nser/internal/operator/handler"
	opservice "nser/internal/operator/service"
	opstore "nser/internal/operator/store"
	"nser/internal/platform/config"
	"nser/internal/platform/kafka"
	"nser/internal/platform/metrics"
	"nser/internal/platform/postgres"
	platformredis "nser/internal/platform/redis"
	prophandler "nser/internal/propagation/handler"
	propmetrics "nser/internal/propagation/metrics"
	propqueue "nser/internal/propagation/queue"
	propsender "nser/internal/propagation/sender"
	propservice "nser/internal/propagation/service"
	propstore "nser/internal/propagation/store"
	ratelimitmetrics "nser/internal/ratelimit/metrics"
	ratelimit "nser/internal/ratelimit/middleware"
	ratelimitmodels "nser/internal/ratelimit/models"
	ratelimitstore "nser/internal/ratelimit/store"
	tokencrypto "nser/internal/token/crypto"
	tokenhandler "nser/internal/token/handler"
	tokenmetrics "nser/internal/token/metrics"
	tokenservice "nser/internal/token/service"
	tokenstore "nser/internal/token/store"
	httptransport "nser/internal/transport/http"
	trail "nser/pkg/platform/audit"
	"nser/pkg/platform/audit/outbox"
	auditmemory "nser/pkg/platform/audit/store/memory"
	auditpostgres "nser/pkg/platform/audit/store/postgres"
	"nser/pkg/platform/circuit"
	"nser/pkg/platform/tx"
)

const (
	operatorAudience    = "nser-operators"
	cacheSweepInterval  = 30 * time.Second
	topicPartitions     = 6
	topicReplication    = 1
	outboxRelayInterval = time.Second
)

type worker func(ctx context.Context) error

type application struct {
	router  http.Handler
	workers map[string]worker
	closers []func()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// storage groups the persistence choices so the services below do not care
// whether Postgres is configured.
type storage struct {
	db         *sql.DB
	tx         tx.Runner
	tokens     tokenservice.Store
	usage      tokenservice.UsageStore
	exclusions exclservice.Store
	crossrefs  crossrefservice.Store
	deliveries propservice.Store
	operators  opservice.Store
	audit      trail.Store
}

func openStorage(ctx context.Context, cfg config.Postgres, log *slog.Logger) (*storage, error) {
	if cfg.DSN == "" {
		log.Warn("DATABASE_URL not set; using in-memory stores")
		tokens := tokenstore.NewInMemory()
		return &storage{
			tx:         tx.NewInMemory(),
			tokens:     tokens,
			usage:      tokens,
			exclusions: exclstore.NewInMemory(),
			crossrefs:  crossrefstore.NewInMemory(),
			deliveries: propstore.NewInMemory(),
			operators:  opstore.NewInMemory(),
			audit:      auditmemory.NewInMemoryStore(),
		}, nil
	}

	db, err := postgres.Open(ctx, postgres.Config{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	gdb, err := postgres.OpenGorm(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	tokens := tokenstore.NewPostgres(db)
	return &storage{
		db:         db,
		tx:         tx.NewPostgres(db),
		tokens:     tokens,
		usage:      tokens,
		exclusions: exclstore.NewPostgres(db),
		crossrefs:  crossrefstore.NewPostgres(db),
		deliveries: propstore.NewPostgres(db),
		operators:  opstore.NewGorm(gdb),
		audit:      auditpostgres.New(db),
	}, nil
}

// build wires every component. Anything returned in workers runs until the
// context is cancelled.
func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*application, error) {
	app := &application{workers: map[string]worker{}}
	health := map[string]httptransport.HealthCheck{}

	st, err := openStorage(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if st.db != nil {
		app.closers = append(app.closers, func() { st.db.Close() })
		health["postgres"] = st.db.PingContext
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	memoryCache := cache.NewMemory()
	var lookupCache cache.Cache = memoryCache
	var retryQueue propservice.Queue = propqueue.NewMemory()
	var limitStore ratelimit.Store
	if redisClient != nil {
		app.closers = append(app.closers, func() { redisClient.Close() })
		health["redis"] = redisClient.Health
		breaker := circuit.New("lookup-cache",
			circuit.WithFailureThreshold(3),
			circuit.WithCooldown(10*time.Second),
		)
		lookupCache = cache.NewGuarded(cache.NewRedis(redisClient), memoryCache, breaker, cache.WithGuardLogger(log))
		retryQueue = propqueue.NewRedis(redisClient)
		limitStore = ratelimitstore.NewRedis(redisClient)
	} else {
		buckets := ratelimitstore.NewInMemory()
		limitStore = buckets
		app.workers["ratelimit-sweeper"] = every(cacheSweepInterval, func() { buckets.Sweep() })
	}
	app.workers["cache-sweeper"] = every(cacheSweepInterval, func() { memoryCache.Sweep() })

	producer, err := kafka.NewProducer(ctx, kafka.Config{Brokers: cfg.Kafka.Brokers, ClientID: cfg.Kafka.ClientID})
	if err != nil {
		app.close()
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	if producer != nil {
		app.closers = append(app.closers, producer.Close)
		health["kafka"] = producer.Health
		if err := producer.EnsureTopics(ctx, topicPartitions, topicReplication, cfg.Kafka.AuditTopic, cfg.Kafka.EventsTopic); err != nil {
			log.Warn("could not ensure kafka topics", "error", err)
		}
	}

	auditTrail := trail.NewTrail(st.audit, trail.WithLogger(log), trail.WithMetrics(trail.NewMetrics()))
	if st.db != nil {
		if producer != nil {
			relay := outbox.NewRelay(outbox.NewPostgresStore(st.db), producer, cfg.Kafka.AuditTopic,
				outbox.WithInterval(outboxRelayInterval),
				outbox.WithLogger(log),
				outbox.WithMetrics(outbox.NewMetrics()),
			)
			app.workers["audit-relay"] = relay.Run
		} else {
			log.Warn("KAFKA_BROKERS not set; audit outbox rows are kept but not relayed")
		}
	}

	bus := events.NewBus(events.WithLogger(log), events.WithMetrics(events.NewMetrics()))
	bus.Subscribe(events.NewNotificationHook(events.NewLogNotifier(log)))
	if producer != nil {
		bus.Subscribe(events.NewKafkaSubscriber(producer, cfg.Kafka.EventsTopic))
	}
	app.workers["event-bus"] = bus.Run

	// Operators and propagation.
	operators := opservice.New(st.operators, st.tx, auditTrail,
		opservice.WithLogger(log),
		opservice.WithAccessTokens(opservice.NewAccessTokens(
			cfg.Keys.OperatorJWTKey, cfg.Server.Issuer, operatorAudience, cfg.Server.AccessTokenTTL,
		)),
	)
	engine := propservice.New(st.deliveries, operators, propsender.NewHTTP(cfg.Server.Issuer), st.tx, auditTrail,
		propservice.WithConfig(propservice.Config{
			MaxRetries:     cfg.Propagation.MaxRetries,
			BackoffCap:     cfg.Propagation.BackoffCap,
			AttemptTimeout: cfg.Propagation.AttemptTimeout,
			FanOut:         cfg.Propagation.FanOut,
			MaxInFlight:    cfg.Propagation.MaxInFlight,
			PollInterval:   cfg.Propagation.PollInterval,
		}),
		propservice.WithQueue(retryQueue),
		propservice.WithLogger(log),
		propservice.WithMetrics(propmetrics.New()),
	)
	operators.AddLicenseListener(engine)
	app.workers["propagation"] = engine.Run

	if cfg.OperatorsFile != "" {
		seed, err := opservice.LoadSeedFile(cfg.OperatorsFile)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("load operator seed: %w", err)
		}
		n, err := operators.Seed(ctx, seed)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("seed operators: %w", err)
		}
		log.Info("operator seed applied", "created", n, "file", cfg.OperatorsFile)
	}

	// Tokens.
	generator, err := tokencrypto.NewGenerator([]byte(cfg.Keys.TokenHashKey), cfg.Keys.TokenPrefix)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("token generator: %w", err)
	}
	tokMetrics := tokenmetrics.New()
	usage := tokenservice.NewUsageRecorder(st.usage,
		tokenservice.WithUsageLogger(log),
		tokenservice.WithUsageMetrics(tokMetrics),
	)
	app.workers["token-usage"] = usage.Run
	tokens := tokenservice.New(st.tokens, st.tx, generator, auditTrail,
		tokenservice.WithCache(lookupCache, cfg.Lookup.CacheTTL),
		tokenservice.WithUsageRecorder(usage),
		tokenservice.WithLogger(log),
		tokenservice.WithMetrics(tokMetrics),
	)

	// Exclusions.
	exclusions := exclservice.New(st.exclusions, tokens, st.tx, auditTrail,
		exclservice.WithDispatcher(engine),
		exclservice.WithComplianceReader(engine),
		exclservice.WithEventPublisher(bus),
		exclservice.WithCache(lookupCache),
		exclservice.WithLogger(log),
		exclservice.WithMetrics(exclmetrics.New()),
	)
	tokens.AddRotationListener(exclusions)
	app.workers["exclusion-sweeper"] = func(ctx context.Context) error {
		return exclusions.RunSweeper(ctx, cfg.SweepInterval)
	}

	// Cross-references.
	hasher, err := crossrefmodels.NewHasher([]byte(cfg.Keys.CrossrefHashKey))
	if err != nil {
		app.close()
		return nil, fmt.Errorf("crossref hasher: %w", err)
	}
	crossrefs := crossrefservice.New(st.crossrefs, tokens, hasher, st.tx, auditTrail,
		crossrefservice.WithCache(lookupCache),
		crossrefservice.WithLogger(log),
	)
	tokens.AddRotationListener(crossrefs)

	lookups := lookupservice.New(tokens, crossrefs, exclusions,
		lookupservice.WithCache(lookupCache, cfg.Lookup.CacheTTL),
		lookupservice.WithLogger(log),
		lookupservice.WithMetrics(lookupmetrics.New()),
	)

	auditQuery := audit.NewService(st.audit)

	tokenRoutes := tokenhandler.New(tokens, log)
	operatorRoutes := ophandler.New(operators, log)
	propagationRoutes := prophandler.New(engine, log)

	limiter := ratelimit.New(limitStore, log, ratelimit.WithMetrics(ratelimitmetrics.New()))

	app.router = httptransport.NewRouter(httptransport.Config{
		AdminToken:   cfg.Server.AdminToken,
		OperatorAuth: operators,
		Admin: []httptransport.AdminRoutes{
			tokenRoutes,
			exclhandler.New(exclusions, log),
			crossrefhandler.New(crossrefs, log),
			operatorRoutes,
			propagationRoutes,
			audit.NewHandler(auditQuery, log),
		},
		Operator: []httptransport.OperatorRoutes{
			tokenRoutes,
			lookuphandler.New(lookups, log),
			propagationRoutes,
		},
		Public:         []httptransport.PublicRoutes{operatorRoutes},
		OperatorLimit:  limiter.PerOperator(perMinute(cfg.RateLimit.OperatorPerMinute)),
		PublicLimit:    limiter.PerClientIP(perMinute(cfg.RateLimit.TokenPerMinute)),
		HealthChecks:   health,
		Metrics:        metrics.New(version),
		MetricsHandler: metrics.Handler(),
		Logger:         log,
	})
	return app, nil
}

func perMinute(limit int) ratelimitmodels.Policy {
	return ratelimitmodels.Policy{Limit: limit, Window: time.Minute}
}

// every runs fn on a ticker until ctx is done.
func every(interval time.Duration, fn func()) worker {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				fn()
			}
		}
	}
}
