package bootstrap

import (
	"context"
	"net/http"
	"time"

	"costwatch/internal/adapters/cache"
	"costwatch/internal/adapters/channels"
	chclient "costwatch/internal/adapters/clickhouse"
	"costwatch/internal/adapters/config"
	errnoop "costwatch/internal/adapters/errors/noop"
	"costwatch/internal/adapters/errors/sentry"
	pgclient "costwatch/internal/adapters/postgres"
	redisclient "costwatch/internal/adapters/redis"
	"costwatch/internal/api"
	"costwatch/internal/api/health"
	"costwatch/internal/domain/cost"
	"costwatch/internal/metrics"
	chrepo "costwatch/internal/repository/clickhouse"
	memrepo "costwatch/internal/repository/memory"
	pgrepo "costwatch/internal/repository/postgres"
	redisrepo "costwatch/internal/repository/redis"
	"costwatch/internal/services/alerting"
	anomalyservice "costwatch/internal/services/anomaly"
	"costwatch/internal/services/attribution"
	"costwatch/internal/services/engine"
	"costwatch/internal/services/eventstore"
	mitigationservice "costwatch/internal/services/mitigation"
	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
)

const connectTimeout = 10 * time.Second

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	// Initialize logger
	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s %s in %s mode", cfg.App.Name, cfg.App.Version, cfg.App.Env)

	// Initialize error tracker
	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure connects only the data stores the selected backends use
func (c *Container) MustInitInfrastructure() {
	var err error
	cfg := c.Config

	if cfg.Store.Backend == "postgres" {
		c.Log.Info("Connecting to PostgreSQL...")
		ctx, cancel := context.WithTimeout(c.Context, connectTimeout)
		c.PG, err = pgclient.NewClient(ctx, cfg.Postgres)
		if err == nil && cfg.Store.Migrate {
			err = c.PG.Migrate(ctx)
		}
		cancel()
		if err != nil {
			c.Log.Fatalf("failed to connect postgres: %v", err)
		}
		c.Log.Info("✓ PostgreSQL connected")
	}

	if cfg.Store.Backend == "clickhouse" {
		c.Log.Info("Connecting to ClickHouse...")
		ctx, cancel := context.WithTimeout(c.Context, connectTimeout)
		c.CH, err = chclient.NewClient(ctx, cfg.ClickHouse)
		if err == nil && cfg.Store.Migrate {
			err = c.CH.Migrate(ctx)
		}
		cancel()
		if err != nil {
			c.Log.Fatalf("failed to connect clickhouse: %v", err)
		}
		c.Log.Info("✓ ClickHouse connected")
	}

	if cfg.Redis.Enabled {
		c.Log.Info("Connecting to Redis...")
		ctx, cancel := context.WithTimeout(c.Context, connectTimeout)
		c.Redis, err = redisclient.NewClient(ctx, cfg.Redis)
		cancel()
		if err != nil {
			c.Log.Fatalf("failed to connect redis: %v", err)
		}
		c.Log.Info("✓ Redis connected")
	}
}

// ========================================
// Phase 3: Telemetry
// ========================================

// MustInitTelemetry builds the metrics emitter over the configured backend
func (c *Container) MustInitTelemetry() {
	cfg := c.Config.Metrics

	var sink metrics.Sink = metrics.NoopSink{}
	switch cfg.Backend {
	case "prometheus":
		prom := metrics.NewPrometheusSink(cfg.Namespace)
		c.Telemetry.Prometheus = prom
		sink = prom
	case "otel":
		provider, err := metrics.NewOTLPMeterProvider(c.Context, cfg.OTLPEndpoint, c.Config.App.Name, cfg.ExportInterval)
		if err != nil {
			c.Log.Fatalf("failed to init otel metrics: %v", err)
		}
		otelSink, err := metrics.NewOTelSink(provider, cfg.Namespace)
		if err != nil {
			c.Log.Fatalf("failed to init otel metrics: %v", err)
		}
		c.Telemetry.MeterProvider = provider
		sink = otelSink
	}

	c.Telemetry.Emitter = metrics.NewEmitter(c.Log, sink)
	c.Log.Infow("✓ Metrics initialized", "backend", cfg.Backend)
}

// ========================================
// Phase 4: Stores
// ========================================

// MustInitStores selects the event repository, cache and shared state stores
func (c *Container) MustInitStores() {
	var err error

	c.Stores.CostEvents, err = provideCostRepository(c.Config.Store.Backend, c.PG, c.CH)
	if err != nil {
		c.Log.Fatalf("failed to init cost event store: %v", err)
	}

	c.Stores.Cache, err = cache.New(c.Config.Cache, c.redisClient())
	if err != nil {
		c.Log.Fatalf("failed to init cache: %v", err)
	}

	if rdb := c.redisClient(); rdb != nil {
		c.Stores.Mitigation = redisrepo.NewMitigationStateRepository(rdb)
		c.Stores.Dedup = redisrepo.NewAlertDeduplicator(rdb)
		c.Stores.Limiter = redisrepo.NewRateLimiter(rdb, "alerts", c.Config.Alerting.RateLimitPerMinute)
	} else {
		c.Stores.Mitigation = memrepo.NewMitigationStateRepository()
	}

	c.Log.Infow("✓ Stores initialized",
		"events", c.Config.Store.Backend,
		"cache", c.Config.Cache.Backend,
		"shared_state", c.redisClient() != nil,
	)
}

// ========================================
// Phase 5: Services
// ========================================

// MustInitServices builds the engine and its components
func (c *Container) MustInitServices() {
	cfg := c.Config
	emitter := c.Telemetry.Emitter

	c.Services.EventStore = eventstore.NewService(c.Stores.CostEvents, eventstore.Config{
		QueueSize:      cfg.Store.QueueSize,
		MaxBatchSize:   cfg.Store.MaxBatchSize,
		MaxBatchAge:    cfg.Store.MaxBatchAge,
		FlushTimeout:   cfg.Store.WriteTimeout,
		LatencyTarget:  cfg.Store.LatencyTarget,
		LatencyCeiling: cfg.Store.LatencyCeiling,
		DefaultLimit:   cfg.Store.DefaultQueryCap,
	}, emitter, c.Log)

	if c.Telemetry.Prometheus != nil {
		collector := metrics.NewStoreCollector(cfg.Metrics.Namespace, c.Services.EventStore)
		if err := c.Telemetry.Prometheus.Register(collector); err != nil {
			c.Log.Warnw("Failed to register store collector", "error", err)
		}
	}

	// Ledger rebuilds read the repository directly: a unit's history must
	// not be cut by the store's default query limit.
	c.Services.Attributor = attribution.NewService(c.Stores.CostEvents, c.Stores.Cache, cfg.Cache.TTL, c.Log)

	c.Services.Monitor = anomalyservice.NewMonitor(anomalyservice.NewConfig(cfg.Detection), c.Log)

	httpClient := channels.NewHTTPClient(cfg.Alerting.ChannelTimeout)
	c.Adapters.Channels = channels.FromConfig(cfg.Alerting, httpClient)
	c.Adapters.Operator = channels.NewOperatorWebhook(cfg.Alerting.Operator.WebhookURL, httpClient)

	c.Services.Router = alerting.NewRouter(
		c.Adapters.Channels,
		alerting.NewConfig(cfg.Alerting),
		c.Stores.Dedup,
		c.Stores.Limiter,
		emitter,
		c.Log,
	)

	c.Services.Breaker = mitigationservice.NewCircuitBreaker(
		mitigationservice.NewConfig(cfg.Mitigation),
		c.Stores.Mitigation,
		mitigationservice.NewChannelNotifier(c.Adapters.Operator, c.Log),
		emitter,
		c.Log,
	)

	c.Services.Engine = engine.New(
		c.Services.EventStore,
		c.Services.Attributor,
		c.Services.Monitor,
		c.Services.Router,
		c.Services.Breaker,
		emitter,
		c.Log,
	)

	configured := make([]string, 0, len(c.Adapters.Channels))
	for name, ch := range c.Adapters.Channels {
		if ch.Configured() {
			configured = append(configured, name)
		}
	}
	c.Log.Infow("✓ Engine initialized",
		"channels", configured,
		"operator_notifications", c.Adapters.Operator.Configured(),
	)
}

// ========================================
// Phase 7: Application Layer
// ========================================

// MustInitApplication builds the ops HTTP server
func (c *Container) MustInitApplication() {
	checks := make(map[string]health.Checker)
	if c.PG != nil {
		checks["postgres"] = c.PG
	}
	if c.CH != nil {
		checks["clickhouse"] = c.CH
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis
	}

	var metricsHandler http.Handler
	if c.Telemetry.Prometheus != nil {
		metricsHandler = c.Telemetry.Prometheus.Handler()
	}

	c.Application.HTTPServer = api.NewServer(api.ServerConfig{
		Addr:           c.Config.Server.Addr,
		ServiceName:    c.Config.App.Name,
		Version:        c.Config.App.Version,
		MetricsHandler: metricsHandler,
	}, health.New(c.Log, checks, c.Background.WorkerScheduler, c.Config.App.Name, c.Config.App.Version), c.Log)
}

// ========================================
// Helper Provider Functions
// ========================================

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Version)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("✓ Error tracking initialized (Sentry)")
	return tracker
}

func provideCostRepository(backend string, pg *pgclient.Client, ch *chclient.Client) (cost.Repository, error) {
	switch backend {
	case "", "memory":
		return memrepo.NewCostEventRepository(), nil
	case "postgres":
		if pg == nil {
			return nil, errors.NewConfigurationError("STORE_BACKEND", "postgres backend requires a postgres connection")
		}
		return pgrepo.NewCostEventRepository(pg.DB()), nil
	case "clickhouse":
		if ch == nil {
			return nil, errors.NewConfigurationError("STORE_BACKEND", "clickhouse backend requires a clickhouse connection")
		}
		return chrepo.NewCostEventRepository(ch.Conn()), nil
	default:
		return nil, errors.NewConfigurationError("STORE_BACKEND", "unknown backend "+backend)
	}
}
