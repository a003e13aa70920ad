package bootstrap

import (
	"context"
	"sync"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"costwatch/internal/adapters/cache"
	"costwatch/internal/adapters/channels"
	chclient "costwatch/internal/adapters/clickhouse"
	"costwatch/internal/adapters/config"
	"costwatch/internal/adapters/kafka"
	pgclient "costwatch/internal/adapters/postgres"
	redisclient "costwatch/internal/adapters/redis"
	"costwatch/internal/api"
	"costwatch/internal/consumers"
	"costwatch/internal/domain/cost"
	"costwatch/internal/domain/mitigation"
	"costwatch/internal/metrics"
	"costwatch/internal/services/alerting"
	anomalyservice "costwatch/internal/services/anomaly"
	"costwatch/internal/services/attribution"
	"costwatch/internal/services/engine"
	"costwatch/internal/services/eventstore"
	mitigationservice "costwatch/internal/services/mitigation"
	"costwatch/internal/workers"
	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
)

// Container holds all application dependencies
// Organized by layers for clear dependency management
type Container struct {
	// Core
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure (nil when the selected backends do not need them)
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	// Layers
	Telemetry   *Telemetry
	Stores      *Stores
	Services    *Services
	Adapters    *Adapters
	Background  *Background
	Application *Application

	// Lifecycle
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Telemetry holds the metrics emitter and whichever backend feeds it
type Telemetry struct {
	Emitter       *metrics.Emitter
	Prometheus    *metrics.PrometheusSink  // set for METRICS_BACKEND=prometheus
	MeterProvider *sdkmetric.MeterProvider // set for METRICS_BACKEND=otel
}

// Stores holds persistence for events, breakdown cache and mitigation state
type Stores struct {
	CostEvents cost.Repository
	Mitigation mitigation.Repository
	Cache      cache.Cache
	Dedup      alerting.Deduplicator // nil falls back to in-process
	Limiter    alerting.RateLimiter  // nil falls back to in-process
}

// Services holds the engine and its components
type Services struct {
	EventStore *eventstore.Service
	Attributor *attribution.Service
	Monitor    *anomalyservice.Monitor
	Router     *alerting.Router
	Breaker    *mitigationservice.CircuitBreaker
	Engine     *engine.Engine
}

// Adapters holds external integrations
type Adapters struct {
	Channels      map[string]channels.Channel
	Operator      channels.Channel
	KafkaConsumer *kafka.Consumer
	KafkaProducer *kafka.Producer
}

// Background holds background processing components
type Background struct {
	WorkerScheduler *workers.Scheduler
	CostConsumer    *consumers.CostEventConsumer
}

// Application holds the ops HTTP server
type Application struct {
	HTTPServer *api.Server
}

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Telemetry:   &Telemetry{},
		Stores:      &Stores{},
		Services:    &Services{},
		Adapters:    &Adapters{},
		Background:  &Background{},
		Application: &Application{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in the correct order
// Panics on any initialization error (fail-fast at startup)
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitComponents()
}

// MustInitComponents builds everything after Config, Log and ErrorTracker are set
func (c *Container) MustInitComponents() {
	c.MustInitInfrastructure()
	c.MustInitTelemetry()
	c.MustInitStores()
	c.MustInitServices()
	c.MustInitBackground()
	c.MustInitApplication()
}

// Start starts all background components
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	// The writer outlives the app context: it is stopped by Lifecycle once
	// the consumer has drained, so in-flight events still get flushed.
	c.Services.EventStore.Start(context.WithoutCancel(c.Context))

	if err := c.Background.WorkerScheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start workers")
	}

	c.startConsumers()

	// Start HTTP server
	if c.Application.HTTPServer != nil {
		c.WG.Add(1)
		go func() {
			defer c.WG.Done()
			if err := c.Application.HTTPServer.Start(); err != nil {
				c.Log.Errorf("HTTP server failed: %v", err)
				c.Cancel() // Trigger shutdown on fatal HTTP error
			}
		}()
	}

	c.Log.Info("✓ All systems operational")
	return nil
}

// startConsumers starts Kafka ingestion in a background goroutine
func (c *Container) startConsumers() {
	if c.Background.CostConsumer == nil {
		c.Log.Info("Kafka ingestion disabled")
		return
	}

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Background.CostConsumer.Start(c.Context); err != nil && c.Context.Err() == nil {
			c.Log.Errorw("cost event consumer failed", "error", err)
		}
	}()

	c.Log.Infow("✓ Event consumers started", "consumers", []string{"cost_events"})
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	// Cancel application context to signal all components to stop
	c.Cancel()

	c.Lifecycle.Shutdown(ShutdownTargets{
		WG:            c.WG,
		HTTPServer:    c.Application.HTTPServer,
		Scheduler:     c.Background.WorkerScheduler,
		KafkaConsumer: c.Adapters.KafkaConsumer,
		EventStore:    c.Services.EventStore,
		KafkaProducer: c.Adapters.KafkaProducer,
		MeterProvider: c.Telemetry.MeterProvider,
		Cache:         c.Stores.Cache,
		PG:            c.PG,
		CH:            c.CH,
		Redis:         c.Redis,
		ErrorTracker:  c.ErrorTracker,
	}, c.Log)
}
