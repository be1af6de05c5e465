package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

// Config is loaded once at process start and handed to constructors by value or pointer.
// Nothing mutates it after Load returns.
type Config struct {
	App        AppConfig
	Service    ServiceConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Gateway    GatewayConfig
	Settlement SettlementConfig
	Pickup     PickupConfig
	GCP        GCPConfig
	PubSub     PubSubConfig
	Outbox     OutboxConfig
	Cron       CronConfig
	Features   FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	err := multierr.Combine(
		cfg.DB.ensureDSN(),
		cfg.Gateway.validate(),
		cfg.Pickup.validate(),
		cfg.Outbox.validate(),
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"HANDOFF_APP_ENV" required:"true"`
	Port         string `envconfig:"HANDOFF_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"HANDOFF_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"HANDOFF_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"HANDOFF_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string      `envconfig:"HANDOFF_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	RateLimit          int           `envconfig:"HANDOFF_RATE_LIMIT" default:"30"`
	RateLimitWindow    time.Duration `envconfig:"HANDOFF_RATE_LIMIT_WINDOW" default:"1m"`
	ShutdownTimeout    time.Duration `envconfig:"HANDOFF_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"HANDOFF_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"HANDOFF_DB_DSN"`
	Driver string `envconfig:"HANDOFF_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"HANDOFF_DB_HOST"`
	Port     int    `envconfig:"HANDOFF_DB_PORT" default:"5432"`
	User     string `envconfig:"HANDOFF_DB_USER"`
	Password string `envconfig:"HANDOFF_DB_PASSWORD"`
	Name     string `envconfig:"HANDOFF_DB_NAME"`
	SSLMode  string `envconfig:"HANDOFF_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"HANDOFF_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"HANDOFF_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"HANDOFF_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"HANDOFF_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"HANDOFF_REDIS_URL"`
	Address      string        `envconfig:"HANDOFF_REDIS_ADDR"`
	Password     string        `envconfig:"HANDOFF_REDIS_PASSWORD"`
	DB           int           `envconfig:"HANDOFF_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"HANDOFF_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"HANDOFF_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"HANDOFF_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"HANDOFF_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"HANDOFF_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"HANDOFF_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"HANDOFF_JWT_ISSUER" required:"true"`
}

// GatewayConfig holds the payment gateway credentials. The key secret signs checkout
// callbacks, the webhook secret signs server-to-server deliveries.
type GatewayConfig struct {
	BaseURL       string        `envconfig:"HANDOFF_GATEWAY_BASE_URL" default:"https://api.razorpay.com/v1"`
	KeyID         string        `envconfig:"HANDOFF_GATEWAY_KEY_ID" required:"true"`
	KeySecret     string        `envconfig:"HANDOFF_GATEWAY_KEY_SECRET" required:"true"`
	WebhookSecret string        `envconfig:"HANDOFF_GATEWAY_WEBHOOK_SECRET" required:"true"`
	Timeout       time.Duration `envconfig:"HANDOFF_GATEWAY_TIMEOUT" default:"10s"`
	Currency      string        `envconfig:"HANDOFF_GATEWAY_CURRENCY" default:"INR"`
}

func (g GatewayConfig) validate() error {
	if !strings.EqualFold(g.Currency, CurrencyINR) {
		return fmt.Errorf("%s must be %s", EnvGatewayCurrency, CurrencyINR)
	}
	if g.KeySecret == g.WebhookSecret {
		return fmt.Errorf("%s and %s must differ", EnvGatewayKeySecret, EnvGatewayWebhookSecret)
	}
	return nil
}

type SettlementConfig struct {
	WebhookDedupeTTL   time.Duration `envconfig:"HANDOFF_WEBHOOK_DEDUPE_TTL" default:"72h"`
	AutoRefundOversold bool          `envconfig:"HANDOFF_AUTO_REFUND_OVERSOLD" default:"true"`
}

type PickupConfig struct {
	ConfirmAttemptLimit  int           `envconfig:"HANDOFF_PICKUP_CONFIRM_ATTEMPT_LIMIT" default:"5"`
	ConfirmAttemptWindow time.Duration `envconfig:"HANDOFF_PICKUP_CONFIRM_ATTEMPT_WINDOW" default:"15m"`
}

func (p PickupConfig) validate() error {
	if p.ConfirmAttemptLimit < 1 || p.ConfirmAttemptWindow <= 0 {
		return fmt.Errorf("pickup confirm limit must allow at least one attempt per positive window")
	}
	return nil
}

type GCPConfig struct {
	ProjectID string `envconfig:"HANDOFF_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	TransactionsTopic string `envconfig:"HANDOFF_PUBSUB_TRANSACTIONS_TOPIC" default:"handoff-transaction-events"`
	NotificationTopic string `envconfig:"HANDOFF_PUBSUB_NOTIFICATION_TOPIC" default:"handoff-notification-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"HANDOFF_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"HANDOFF_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"HANDOFF_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"HANDOFF_OUTBOX_RETENTION_DAYS" default:"30"`
}

func (o OutboxConfig) validate() error {
	var err error
	if o.BatchSize < 1 {
		err = multierr.Append(err, fmt.Errorf("outbox batch size must be positive"))
	}
	if o.MaxAttempts < 1 {
		err = multierr.Append(err, fmt.Errorf("outbox max attempts must be positive"))
	}
	if o.RetentionDays < 1 {
		err = multierr.Append(err, fmt.Errorf("outbox retention must be at least one day"))
	}
	return err
}

type CronConfig struct {
	Interval           time.Duration `envconfig:"HANDOFF_CRON_INTERVAL" default:"5m"`
	PickupBackfillAge  time.Duration `envconfig:"HANDOFF_CRON_PICKUP_BACKFILL_AGE" default:"2m"`
	RefundReconcileAge time.Duration `envconfig:"HANDOFF_CRON_REFUND_RECONCILE_AGE" default:"10m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"HANDOFF_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range splitDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
