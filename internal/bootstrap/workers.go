package bootstrap

import (
	goredis "github.com/redis/go-redis/v9"

	"costwatch/internal/adapters/config"
	"costwatch/internal/adapters/kafka"
	"costwatch/internal/consumers"
	"costwatch/internal/metrics"
	"costwatch/internal/services/engine"
	"costwatch/internal/workers"
	"costwatch/pkg/logger"
)

// ========================================
// Phase 6: Background Processing
// ========================================

// MustInitBackground builds the worker scheduler and Kafka ingestion
func (c *Container) MustInitBackground() {
	c.Background.WorkerScheduler = provideWorkers(c.Config.Workers, c.Services.Engine, c.Telemetry.Emitter, c.Log)

	if c.Config.Kafka.Enabled {
		c.Adapters.KafkaConsumer = provideKafkaConsumer(c.Config.Kafka, c.Log)
		c.Adapters.KafkaProducer = provideKafkaProducer(c.Config.Kafka, c.Log)

		consumerCfg := consumers.DefaultCostEventConsumerConfig()
		consumerCfg.DLQTopic = dlqTopic(c.Config.Kafka.Topic)

		c.Background.CostConsumer = consumers.NewCostEventConsumer(
			c.Adapters.KafkaConsumer,
			c.Services.Engine,
			c.Adapters.KafkaProducer,
			consumerCfg,
			c.Log,
		)
	}

	c.Log.Info("✓ Background processing initialized")
}

// provideWorkers registers the periodic workers
func provideWorkers(cfg config.WorkerConfig, eng *engine.Engine, emitter *metrics.Emitter, log *logger.Logger) *workers.Scheduler {
	scheduler := workers.NewScheduler(emitter, log)

	scheduler.RegisterWorker(workers.NewAnomalyMonitor(
		eng,
		cfg.AnomalyMonitorInterval,
		cfg.MaxConcurrency,
		cfg.AnomalyMonitorEnabled,
		log,
	))

	return scheduler
}

func provideKafkaProducer(cfg config.KafkaConfig, log *logger.Logger) *kafka.Producer {
	log.Info("Initializing Kafka producer...")
	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: cfg.Brokers,
		Async:   false,
	}, log)
	log.Info("✓ Kafka producer initialized")
	return producer
}

func provideKafkaConsumer(cfg config.KafkaConfig, log *logger.Logger) *kafka.Consumer {
	log.Infow("Initializing Kafka consumer", "topic", cfg.Topic)
	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
	}, log)
	log.Infow("✓ Kafka consumer initialized", "topic", cfg.Topic)
	return consumer
}

func dlqTopic(topic string) string {
	if topic == "" || topic == kafka.TopicCostEvents {
		return kafka.TopicCostEventsDLQ
	}
	return topic + ".dlq"
}

func (c *Container) redisClient() *goredis.Client {
	if c.Redis == nil {
		return nil
	}
	return c.Redis.Client()
}
