package bootstrap

import (
	"context"
	"sync"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"costwatch/internal/adapters/cache"
	chclient "costwatch/internal/adapters/clickhouse"
	"costwatch/internal/adapters/kafka"
	pgclient "costwatch/internal/adapters/postgres"
	redisclient "costwatch/internal/adapters/redis"
	"costwatch/internal/api"
	"costwatch/internal/services/eventstore"
	"costwatch/internal/workers"
	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
)

// Lifecycle manages graceful startup and shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 60 * time.Second,
	}
}

// ShutdownTargets lists what Shutdown closes. Nil entries are skipped.
type ShutdownTargets struct {
	WG            *sync.WaitGroup
	HTTPServer    *api.Server
	Scheduler     *workers.Scheduler
	KafkaConsumer *kafka.Consumer
	EventStore    *eventstore.Service
	KafkaProducer *kafka.Producer
	MeterProvider *sdkmetric.MeterProvider
	Cache         cache.Cache
	PG            *pgclient.Client
	CH            *chclient.Client
	Redis         *redisclient.Client
	ErrorTracker  errors.Tracker
}

// Shutdown performs coordinated cleanup of all components in the correct order.
// Every accepted cost event must reach storage, so:
// 1. No new HTTP requests accepted
// 2. Workers finish their current sweep
// 3. Kafka consumer unblocks and finishes its in-flight message
// 4. Event store flushes its queue after the last producer is gone
// 5. DLQ producer closes after the consumer
// 6. Metrics, errors and logs flushed
// 7. Cache and database connections last
func (l *Lifecycle) Shutdown(t ShutdownTargets, log *logger.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	// ========================================
	// Step 1: Stop HTTP Server (5s timeout)
	// ========================================
	log.Info("[1/9] Stopping HTTP server...")
	if t.HTTPServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		if err := t.HTTPServer.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		}
		httpCancel()
	}

	// ========================================
	// Step 2: Stop Background Workers
	// ========================================
	log.Info("[2/9] Stopping background workers...")
	if t.Scheduler != nil && t.Scheduler.IsRunning() {
		if err := t.Scheduler.Stop(); err != nil {
			log.Errorw("Workers shutdown failed", "error", err)
		} else {
			log.Info("✓ Workers stopped")
		}
	}

	// ========================================
	// Step 3: Close Kafka Consumer
	// Critical: close BEFORE waiting for goroutines, this unblocks FetchMessage
	// ========================================
	log.Info("[3/9] Closing Kafka consumer...")
	if t.KafkaConsumer != nil {
		if err := t.KafkaConsumer.Close(); err != nil {
			log.Errorw("Kafka consumer close failed", "error", err)
		} else {
			log.Info("✓ Kafka consumer closed")
		}
	}

	// ========================================
	// Step 4: Wait for Consumer Goroutines
	// ========================================
	log.Info("[4/9] Waiting for consumer goroutines...")
	if t.WG != nil {
		l.waitForGoroutines(t.WG, 10*time.Second, log)
	}

	// ========================================
	// Step 5: Flush Event Store
	// ========================================
	log.Info("[5/9] Flushing event store...")
	if t.EventStore != nil {
		storeCtx, storeCancel := context.WithTimeout(shutdownCtx, 15*time.Second)
		if err := t.EventStore.Stop(storeCtx); err != nil {
			log.Errorw("Event store flush failed", "error", err)
		}
		storeCancel()
	}

	// ========================================
	// Step 6: Close Kafka Producer
	// ========================================
	log.Info("[6/9] Closing Kafka producer...")
	if t.KafkaProducer != nil {
		if err := t.KafkaProducer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		} else {
			log.Info("✓ Kafka producer closed")
		}
	}

	// ========================================
	// Step 7: Flush Metrics and Error Tracker
	// ========================================
	log.Info("[7/9] Flushing telemetry...")
	if t.MeterProvider != nil {
		metricsCtx, metricsCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		if err := t.MeterProvider.Shutdown(metricsCtx); err != nil {
			log.Errorw("Meter provider shutdown failed", "error", err)
		}
		metricsCancel()
	}
	l.flushErrorTracker(shutdownCtx, t.ErrorTracker, log)

	// ========================================
	// Step 8: Sync Logs
	// ========================================
	log.Info("[8/9] Syncing logs...")
	if err := logger.Sync(); err != nil {
		log.Warn("Log sync completed with warnings")
	} else {
		log.Info("✓ Logs synced")
	}

	// ========================================
	// Step 9: Close Cache and Database Connections
	// LAST - other components may need them during shutdown
	// ========================================
	log.Info("[9/9] Closing database connections...")
	if closer, ok := t.Cache.(interface{ Close() }); ok {
		closer.Close()
	}
	l.closeDatabases(t.PG, t.CH, t.Redis, log)

	log.Info("✅ Graceful shutdown complete")
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✓ All goroutines finished")
	case <-time.After(timeout):
		log.Warnw("⚠ Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

// flushErrorTracker flushes the error tracker (Sentry, etc.)
func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	} else {
		log.Info("✓ Error tracker flushed")
	}
}

// closeDatabases closes all database connections
func (l *Lifecycle) closeDatabases(
	pgClient *pgclient.Client,
	chClient *chclient.Client,
	redisClient *redisclient.Client,
	log *logger.Logger,
) {
	var dbErrors errors.MultiError

	if pgClient != nil {
		if err := pgClient.Close(); err != nil {
			dbErrors.Add(errors.Wrap(err, "postgres"))
		}
	}

	if chClient != nil {
		if err := chClient.Close(); err != nil {
			dbErrors.Add(errors.Wrap(err, "clickhouse"))
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			dbErrors.Add(errors.Wrap(err, "redis"))
		}
	}

	if err := dbErrors.ToError(); err != nil {
		log.Errorw("Database close errors", "error", err)
	} else {
		log.Info("✓ Database connections closed")
	}
}
