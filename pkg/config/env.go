package config

const EnvPrefix = "ENTITLEMENTS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"

	EventsBackendRedis     = "redis"
	EventsBackendRabbitMQ  = "rabbitmq"
	EventsBackendPubSub    = "pubsub"
	EventsBackendInProcess = "inprocess"
	EventsBackendNoop      = "noop"
)

const (
	EnvAppEnv   = "ENTITLEMENTS_APP_ENV"
	EnvPort     = "ENTITLEMENTS_APP_PORT"
	EnvLogLevel = "ENTITLEMENTS_LOG_LEVEL"

	EnvDBDSN    = "ENTITLEMENTS_DB_DSN"
	EnvDBDriver = "ENTITLEMENTS_DB_DRIVER"
	EnvDBHost   = "ENTITLEMENTS_DB_HOST"
	EnvDBUser   = "ENTITLEMENTS_DB_USER"
	EnvDBName   = "ENTITLEMENTS_DB_NAME"

	EnvRedisURL  = "ENTITLEMENTS_REDIS_URL"
	EnvRedisAddr = "ENTITLEMENTS_REDIS_ADDR"

	EnvJWTSecret = "ENTITLEMENTS_JWT_SECRET"
	EnvJWTIssuer = "ENTITLEMENTS_JWT_ISSUER"

	EnvCacheBackend         = "ENTITLEMENTS_CACHE_BACKEND"
	EnvCacheSubscriptionTTL = "ENTITLEMENTS_CACHE_SUBSCRIPTION_TTL"
	EnvCacheRevalidate      = "ENTITLEMENTS_CACHE_REVALIDATE_EXPIRY"

	EnvEventsBackend = "ENTITLEMENTS_EVENTS_BACKEND"
	EnvEventsAMQPURL = "ENTITLEMENTS_EVENTS_AMQP_URL"
	EnvGCPProjectID  = "ENTITLEMENTS_GCP_PROJECT_ID"

	EnvSweeperInterval = "ENTITLEMENTS_SWEEPER_INTERVAL"

	EnvRetryMax        = "ENTITLEMENTS_RETRY_MAX"
	EnvRetryMultiplier = "ENTITLEMENTS_RETRY_MULTIPLIER"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
