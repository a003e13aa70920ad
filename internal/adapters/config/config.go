package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"costwatch/pkg/errors"
)

type Config struct {
	App           AppConfig
	Server        ServerConfig
	Store         StoreConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Cache         CacheConfig
	Detection     DetectionConfig
	Alerting      AlertingConfig
	Mitigation    MitigationConfig
	Metrics       MetricsConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"costwatch"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
}

// ServerConfig is the ops HTTP server: health probes and /metrics
type ServerConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"5s"`
}

// StoreConfig selects the cost event backend and the group-commit writer limits
type StoreConfig struct {
	Backend         string        `envconfig:"STORE_BACKEND" default:"memory"` // memory|postgres|clickhouse
	QueueSize       int           `envconfig:"STORE_QUEUE_SIZE" default:"1024"`
	MaxBatchSize    int           `envconfig:"STORE_MAX_BATCH_SIZE" default:"200"`
	MaxBatchAge     time.Duration `envconfig:"STORE_MAX_BATCH_AGE" default:"20ms"`
	LatencyTarget   time.Duration `envconfig:"STORE_LATENCY_TARGET" default:"200ms"`
	LatencyCeiling  time.Duration `envconfig:"STORE_LATENCY_CEILING" default:"500ms"`
	WriteTimeout    time.Duration `envconfig:"STORE_WRITE_TIMEOUT" default:"5s"`
	DefaultQueryCap int           `envconfig:"STORE_QUERY_LIMIT" default:"1000"`
	Migrate         bool          `envconfig:"STORE_MIGRATE" default:"true"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"costwatch"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB" default:"costwatch"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"costwatch"`
}

// RedisConfig enables the shared dedup, rate-limit and mitigation state stores
type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"costwatch"`
	Topic   string   `envconfig:"KAFKA_COST_TOPIC" default:"cost.events"`
}

// CacheConfig selects where hot lookups and dedup/rate-limit counters live
type CacheConfig struct {
	Backend      string        `envconfig:"CACHE_BACKEND" default:"ristretto"` // none|ristretto|redis
	TTL          time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	MaxCostBytes int64         `envconfig:"CACHE_MAX_BYTES" default:"67108864"`
}

// DetectionConfig holds the alerting threshold ladder and baseline settings
type DetectionConfig struct {
	BaselineLookback        int           `envconfig:"BASELINE_LOOKBACK" default:"20"`
	BaselineMinSamples      int           `envconfig:"BASELINE_MIN_SAMPLES" default:"3"`
	SpikeMultiplier         float64       `envconfig:"SPIKE_MULTIPLIER" default:"3.0"`
	SpikeHighMultiplier     float64       `envconfig:"SPIKE_HIGH_MULTIPLIER" default:"3.5"`
	SpikeCriticalMultiplier float64       `envconfig:"SPIKE_CRITICAL_MULTIPLIER" default:"5.0"`
	EfficiencyDropThreshold float64       `envconfig:"EFFICIENCY_DROP_THRESHOLD" default:"0.30"`
	EfficiencyDropHigh      float64       `envconfig:"EFFICIENCY_DROP_HIGH" default:"0.50"`
	ROIThreshold            float64       `envconfig:"ROI_THRESHOLD" default:"-50"`
	ROICriticalThreshold    float64       `envconfig:"ROI_CRITICAL_THRESHOLD" default:"-80"`
	BudgetThreshold         float64       `envconfig:"BUDGET_THRESHOLD" default:"80"`
	BudgetHigh              float64       `envconfig:"BUDGET_HIGH" default:"85"`
	BudgetCritical          float64       `envconfig:"BUDGET_CRITICAL" default:"95"`
	EngagementThreshold     float64       `envconfig:"ENGAGEMENT_THRESHOLD" default:"70"`
	EngagementCritical      float64       `envconfig:"ENGAGEMENT_CRITICAL" default:"40"`
	FatigueThreshold        float64       `envconfig:"FATIGUE_THRESHOLD" default:"0.80"`
	FatigueHigh             float64       `envconfig:"FATIGUE_HIGH" default:"0.90"`
	FatigueCritical         float64       `envconfig:"FATIGUE_CRITICAL" default:"0.95"`
	CheckInterval           time.Duration `envconfig:"ANOMALY_CHECK_INTERVAL" default:"30s"`
	BudgetDefaultLimitUSD   float64       `envconfig:"BUDGET_DEFAULT_LIMIT_USD" default:"0"`
	BudgetOwnerLimits       OwnerLimits   `envconfig:"BUDGET_OWNER_LIMITS"`
}

// OwnerLimits parses "owner:amount,owner:amount"
type OwnerLimits map[string]float64

// Decode implements envconfig.Decoder
func (o *OwnerLimits) Decode(value string) error {
	limits := make(OwnerLimits)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		owner, amount, ok := strings.Cut(pair, ":")
		if !ok {
			return errors.NewConfigurationError("BUDGET_OWNER_LIMITS", fmt.Sprintf("entry %q is not owner:amount", pair))
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(amount), 64)
		if err != nil || v < 0 {
			return errors.NewConfigurationError("BUDGET_OWNER_LIMITS", fmt.Sprintf("entry %q has invalid amount", pair))
		}
		limits[strings.TrimSpace(owner)] = v
	}
	*o = limits
	return nil
}

// ModelMap parses "expensive=cheaper,expensive=cheaper"
type ModelMap map[string]string

// Decode implements envconfig.Decoder
func (m *ModelMap) Decode(value string) error {
	models := make(ModelMap)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		from, to, ok := strings.Cut(pair, "=")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			return errors.NewConfigurationError("MITIGATION_DOWNGRADE_MAP", fmt.Sprintf("entry %q is not model=model", pair))
		}
		models[from] = to
	}
	*m = models
	return nil
}

// AlertingConfig holds routing, suppression and per-channel delivery settings
type AlertingConfig struct {
	DedupWindow        time.Duration `envconfig:"ALERT_DEDUP_WINDOW" default:"5m"`
	RateLimitPerMinute int           `envconfig:"ALERT_RATE_LIMIT_PER_MINUTE" default:"10"`
	ChannelTimeout     time.Duration `envconfig:"ALERT_CHANNEL_TIMEOUT" default:"30s"`
	MaxAttempts        int           `envconfig:"ALERT_MAX_ATTEMPTS" default:"3"`
	BackoffBase        time.Duration `envconfig:"ALERT_BACKOFF_BASE" default:"1s"`
	DispatchTimeout    time.Duration `envconfig:"ALERT_DISPATCH_TIMEOUT" default:"25s"`

	RouteCritical []string `envconfig:"ALERT_ROUTE_CRITICAL" default:"slack,pagerduty,email"`
	RouteHigh     []string `envconfig:"ALERT_ROUTE_HIGH" default:"slack,pagerduty"`
	RouteMedium   []string `envconfig:"ALERT_ROUTE_MEDIUM" default:"slack"`
	RouteLow      []string `envconfig:"ALERT_ROUTE_LOW" default:"email"`
	RouteDefault  []string `envconfig:"ALERT_ROUTE_DEFAULT" default:"slack"`

	Slack     SlackConfig
	Discord   DiscordConfig
	Telegram  TelegramConfig
	PagerDuty PagerDutyConfig
	Email     EmailConfig
	Webhook   WebhookConfig
	Operator  OperatorConfig
}

type SlackConfig struct {
	WebhookURL string `envconfig:"SLACK_WEBHOOK_URL"`
}

type DiscordConfig struct {
	WebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
}

type TelegramConfig struct {
	BotToken    string `envconfig:"TELEGRAM_BOT_TOKEN"`
	ChatID      int64  `envconfig:"TELEGRAM_CHAT_ID"`
	APIEndpoint string `envconfig:"TELEGRAM_API_ENDPOINT"`
}

type PagerDutyConfig struct {
	RoutingKey string `envconfig:"PAGERDUTY_ROUTING_KEY"`
	EventsURL  string `envconfig:"PAGERDUTY_EVENTS_URL" default:"https://events.pagerduty.com/v2/enqueue"`
}

type EmailConfig struct {
	APIKey string   `envconfig:"EMAIL_API_KEY"`
	APIURL string   `envconfig:"EMAIL_API_URL" default:"https://api.sendgrid.com/v3/mail/send"`
	From   string   `envconfig:"EMAIL_FROM"`
	To     []string `envconfig:"EMAIL_TO"`
}

type WebhookConfig struct {
	URL    string `envconfig:"ALERT_WEBHOOK_URL"`
	Secret string `envconfig:"ALERT_WEBHOOK_SECRET"`
}

// OperatorConfig is the audience of circuit-breaker notifications, distinct from alert channels
type OperatorConfig struct {
	WebhookURL string `envconfig:"OPERATOR_WEBHOOK_URL"`
}

// MitigationConfig holds the circuit breaker ladder and action toggles
type MitigationConfig struct {
	SpikeMultiplier   float64       `envconfig:"MITIGATION_SPIKE_MULTIPLIER" default:"4.0"`
	EfficiencyDrop    float64       `envconfig:"MITIGATION_EFFICIENCY_DROP" default:"0.50"`
	ROIPercent        float64       `envconfig:"MITIGATION_ROI_PERCENT" default:"-75"`
	BudgetPercent     float64       `envconfig:"MITIGATION_BUDGET_PERCENT" default:"90"`
	EngagementPercent float64       `envconfig:"MITIGATION_ENGAGEMENT_PERCENT" default:"50"`
	FatigueScore      float64       `envconfig:"MITIGATION_FATIGUE_SCORE" default:"0.90"`
	ThrottleEnabled   bool          `envconfig:"MITIGATION_THROTTLE_ENABLED" default:"true"`
	DowngradeEnabled  bool          `envconfig:"MITIGATION_DOWNGRADE_ENABLED" default:"true"`
	PauseEnabled      bool          `envconfig:"MITIGATION_PAUSE_ENABLED" default:"false"`
	PauseDuration     time.Duration `envconfig:"MITIGATION_PAUSE_DURATION" default:"60m"`
	StateTTL          time.Duration `envconfig:"MITIGATION_STATE_TTL" default:"24h"`
	MaxAttempts       int           `envconfig:"MITIGATION_MAX_ATTEMPTS" default:"3"`
	ActionTimeout     time.Duration `envconfig:"MITIGATION_ACTION_TIMEOUT" default:"10s"`
	DefaultModelTier  string        `envconfig:"MITIGATION_DEFAULT_MODEL" default:"gpt-4o"`
	DowngradeMap      ModelMap      `envconfig:"MITIGATION_DOWNGRADE_MAP" default:"gpt-4o=gpt-4o-mini,gpt-4-turbo=gpt-4o-mini,o1=o3-mini,claude-3-opus=claude-3-5-sonnet,claude-3-5-sonnet=claude-3-5-haiku"`
}

type MetricsConfig struct {
	Backend        string        `envconfig:"METRICS_BACKEND" default:"prometheus"` // prometheus|otel|none
	Namespace      string        `envconfig:"METRICS_NAMESPACE" default:"costwatch"`
	OTLPEndpoint   string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	ExportInterval time.Duration `envconfig:"OTEL_METRIC_EXPORT_INTERVAL" default:"15s"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

type WorkerConfig struct {
	AnomalyMonitorInterval time.Duration `envconfig:"ANOMALY_MONITOR_INTERVAL" default:"1m"`
	AnomalyMonitorEnabled  bool          `envconfig:"ANOMALY_MONITOR_ENABLED" default:"true"`
	MaxConcurrency         int           `envconfig:"ANOMALY_MONITOR_MAX_CONCURRENCY" default:"8"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects combinations the engine cannot run with.
// Missing channel credentials are not errors: those channels are skipped at dispatch.
func (c *Config) Validate() error {
	var errs errors.MultiError

	switch c.Store.Backend {
	case "memory", "postgres", "clickhouse":
	default:
		errs.Add(errors.NewConfigurationError("STORE_BACKEND", fmt.Sprintf("unknown backend %q", c.Store.Backend)))
	}
	switch c.Cache.Backend {
	case "none", "ristretto", "redis":
	default:
		errs.Add(errors.NewConfigurationError("CACHE_BACKEND", fmt.Sprintf("unknown backend %q", c.Cache.Backend)))
	}
	switch c.Metrics.Backend {
	case "prometheus", "otel", "none":
	default:
		errs.Add(errors.NewConfigurationError("METRICS_BACKEND", fmt.Sprintf("unknown backend %q", c.Metrics.Backend)))
	}
	if c.Detection.BaselineLookback <= 0 {
		errs.Add(errors.NewConfigurationError("BASELINE_LOOKBACK", "must be positive"))
	}
	if c.Detection.SpikeMultiplier <= 1 {
		errs.Add(errors.NewConfigurationError("SPIKE_MULTIPLIER", "must be greater than 1"))
	}
	if c.Alerting.RateLimitPerMinute <= 0 {
		errs.Add(errors.NewConfigurationError("ALERT_RATE_LIMIT_PER_MINUTE", "must be positive"))
	}
	if c.Alerting.MaxAttempts <= 0 {
		errs.Add(errors.NewConfigurationError("ALERT_MAX_ATTEMPTS", "must be positive"))
	}
	if c.Cache.Backend == "redis" && !c.Redis.Enabled {
		errs.Add(errors.NewConfigurationError("CACHE_BACKEND", "redis backend requires REDIS_ENABLED"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs.Add(errors.NewConfigurationError("KAFKA_BROKERS", "required when KAFKA_ENABLED"))
	}
	if c.Store.LatencyTarget > c.Store.LatencyCeiling {
		errs.Add(errors.NewConfigurationError("STORE_LATENCY_TARGET", "must not exceed STORE_LATENCY_CEILING"))
	}

	return errs.ToError()
}

// BudgetLimit returns the budget for an owner, falling back to the default
func (d DetectionConfig) BudgetLimit(ownerID string) float64 {
	if limit, ok := d.BudgetOwnerLimits[ownerID]; ok {
		return limit
	}
	return d.BudgetDefaultLimitUSD
}
