package config

// EnvPrefix is unused by the explicit envconfig tags but required by Process.
const EnvPrefix = "FIELDOPS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Environment variable names referenced outside struct tags.
const (
	EnvAppEnv              = "FIELDOPS_APP_ENV"
	EnvPort                = "FIELDOPS_APP_PORT"
	EnvDBDSN               = "FIELDOPS_DB_DSN"
	EnvDBHost              = "FIELDOPS_DB_HOST"
	EnvDBUser              = "FIELDOPS_DB_USER"
	EnvDBName              = "FIELDOPS_DB_NAME"
	EnvRedisURL            = "FIELDOPS_REDIS_URL"
	EnvDirectoryBaseURL    = "FIELDOPS_DIRECTORY_BASE_URL"
	EnvOrderGatewayBaseURL = "FIELDOPS_ORDER_GATEWAY_BASE_URL"
)
