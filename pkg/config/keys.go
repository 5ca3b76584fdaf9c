package config

const (
	EnvPrefix = "STOREFRONT"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv         = "STOREFRONT_APP_ENV"
	EnvLogLevel       = "STOREFRONT_LOG_LEVEL"
	EnvGatewayBaseURL = "STOREFRONT_GATEWAY_BASE_URL"
	EnvGatewayTimeout = "STOREFRONT_GATEWAY_TIMEOUT"
	EnvSessionDBPath  = "STOREFRONT_SESSION_DB_PATH"
	EnvCacheRedisURL  = "STOREFRONT_CACHE_REDIS_URL"
)
