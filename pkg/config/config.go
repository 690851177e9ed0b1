package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Cache        CacheConfig
	Events       EventsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Sweeper      SweeperConfig
	Retry        RetryConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Cache.Backend {
	case CacheBackendRedis, CacheBackendMemory:
	default:
		return fmt.Errorf("%s must be one of %s|%s, got %q", EnvCacheBackend, CacheBackendRedis, CacheBackendMemory, c.Cache.Backend)
	}

	switch c.Events.Backend {
	case EventsBackendRedis, EventsBackendInProcess, EventsBackendNoop:
	case EventsBackendRabbitMQ:
		if c.Events.AMQPURL == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvEventsAMQPURL, EnvEventsBackend, EventsBackendRabbitMQ)
		}
	case EventsBackendPubSub:
		if c.GCP.ProjectID == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvGCPProjectID, EnvEventsBackend, EventsBackendPubSub)
		}
	default:
		return fmt.Errorf("%s must be one of redis|rabbitmq|pubsub|inprocess|noop, got %q", EnvEventsBackend, c.Events.Backend)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("%s must be >= 0", EnvRetryMax)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("%s must be >= 1", EnvRetryMultiplier)
	}
	if c.Sweeper.Interval <= 0 || c.Sweeper.HeartbeatInterval <= 0 {
		return fmt.Errorf("sweeper intervals must be positive")
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"ENTITLEMENTS_APP_ENV" required:"true"`
	Port         string `envconfig:"ENTITLEMENTS_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"ENTITLEMENTS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ENTITLEMENTS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Name string `envconfig:"ENTITLEMENTS_SERVICE_NAME" default:"entitlements"`
	Kind string `envconfig:"ENTITLEMENTS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ENTITLEMENTS_DB_DSN"`
	Driver string `envconfig:"ENTITLEMENTS_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"ENTITLEMENTS_DB_HOST"`
	Port     int    `envconfig:"ENTITLEMENTS_DB_PORT" default:"5432"`
	User     string `envconfig:"ENTITLEMENTS_DB_USER"`
	Password string `envconfig:"ENTITLEMENTS_DB_PASSWORD"`
	Name     string `envconfig:"ENTITLEMENTS_DB_NAME"`
	SSLMode  string `envconfig:"ENTITLEMENTS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ENTITLEMENTS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ENTITLEMENTS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ENTITLEMENTS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ENTITLEMENTS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the store runs on the embedded sqlite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"ENTITLEMENTS_REDIS_URL"`
	Address      string        `envconfig:"ENTITLEMENTS_REDIS_ADDR"`
	Password     string        `envconfig:"ENTITLEMENTS_REDIS_PASSWORD"`
	DB           int           `envconfig:"ENTITLEMENTS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ENTITLEMENTS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ENTITLEMENTS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ENTITLEMENTS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ENTITLEMENTS_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"ENTITLEMENTS_REDIS_WRITE_TIMEOUT" default:"3s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ENTITLEMENTS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ENTITLEMENTS_JWT_ISSUER" default:"entitlements"`
	ExpirationMinutes int    `envconfig:"ENTITLEMENTS_JWT_EXPIRATION_MINUTES" default:"1440"`
}

// Expiration returns the access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ENTITLEMENTS_AUTO_MIGRATE" default:"false"`
}

type CacheConfig struct {
	Backend          string        `envconfig:"ENTITLEMENTS_CACHE_BACKEND" default:"redis"`
	SubscriptionTTL  time.Duration `envconfig:"ENTITLEMENTS_CACHE_SUBSCRIPTION_TTL" default:"300s"`
	PlanTTL          time.Duration `envconfig:"ENTITLEMENTS_CACHE_PLAN_TTL" default:"600s"`
	StatsTTL         time.Duration `envconfig:"ENTITLEMENTS_CACHE_STATS_TTL" default:"300s"`
	RevalidateExpiry bool          `envconfig:"ENTITLEMENTS_CACHE_REVALIDATE_EXPIRY" default:"false"`
	BreakerFailures  uint32        `envconfig:"ENTITLEMENTS_CACHE_BREAKER_FAILURES" default:"5"`
	BreakerCooldown  time.Duration `envconfig:"ENTITLEMENTS_CACHE_BREAKER_COOLDOWN" default:"30s"`
}

type EventsConfig struct {
	Backend      string `envconfig:"ENTITLEMENTS_EVENTS_BACKEND" default:"redis"`
	AMQPURL      string `envconfig:"ENTITLEMENTS_EVENTS_AMQP_URL"`
	AMQPExchange string `envconfig:"ENTITLEMENTS_EVENTS_AMQP_EXCHANGE" default:"entitlements.lifecycle"`
	AMQPQueue    string `envconfig:"ENTITLEMENTS_EVENTS_AMQP_QUEUE" default:"entitlements.lifecycle.listener"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"ENTITLEMENTS_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"ENTITLEMENTS_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	TopicPrefix  string `envconfig:"ENTITLEMENTS_PUBSUB_TOPIC_PREFIX" default:"entitlements-"`
	Subscription string `envconfig:"ENTITLEMENTS_PUBSUB_SUBSCRIPTION" default:"entitlements-lifecycle-listener"`
}

type SweeperConfig struct {
	Interval          time.Duration `envconfig:"ENTITLEMENTS_SWEEPER_INTERVAL" default:"1h"`
	HeartbeatInterval time.Duration `envconfig:"ENTITLEMENTS_SWEEPER_HEARTBEAT_INTERVAL" default:"5m"`
	HeartbeatTTL      time.Duration `envconfig:"ENTITLEMENTS_SWEEPER_HEARTBEAT_TTL" default:"60s"`
	LockTTL           time.Duration `envconfig:"ENTITLEMENTS_SWEEPER_LOCK_TTL" default:"10m"`
}

type RetryConfig struct {
	MaxRetries   int           `envconfig:"ENTITLEMENTS_RETRY_MAX" default:"3"`
	InitialDelay time.Duration `envconfig:"ENTITLEMENTS_RETRY_INITIAL_DELAY" default:"500ms"`
	Multiplier   float64       `envconfig:"ENTITLEMENTS_RETRY_MULTIPLIER" default:"2"`
}

type RateLimitConfig struct {
	Window time.Duration `envconfig:"ENTITLEMENTS_RATE_LIMIT_WINDOW" default:"15m"`
	Max    int           `envconfig:"ENTITLEMENTS_RATE_LIMIT_MAX" default:"100"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file::memory:?cache=shared"
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
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

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"ENTITLEMENTS_CORS_ALLOWED_ORIGINS"`
}
