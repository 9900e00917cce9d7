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
	Reaper       ReaperConfig
	Directory    DirectoryConfig
	OrderGateway OrderGatewayConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FIELDOPS_APP_ENV" required:"true"`
	Port         string `envconfig:"FIELDOPS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FIELDOPS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FIELDOPS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FIELDOPS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FIELDOPS_DB_DSN"`
	Driver string `envconfig:"FIELDOPS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FIELDOPS_DB_HOST"`
	LegacyPort     int    `envconfig:"FIELDOPS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FIELDOPS_DB_USER"`
	LegacyPassword string `envconfig:"FIELDOPS_DB_PASSWORD"`
	LegacyName     string `envconfig:"FIELDOPS_DB_NAME"`
	LegacySSLMode  string `envconfig:"FIELDOPS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FIELDOPS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FIELDOPS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FIELDOPS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FIELDOPS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	var missing []string
	if db.LegacyHost == "" {
		missing = append(missing, EnvDBHost)
	}
	if db.LegacyUser == "" {
		missing = append(missing, EnvDBUser)
	}
	if db.LegacyName == "" {
		missing = append(missing, EnvDBName)
	}
	if len(missing) > 0 {
		return fmt.Errorf("database config incomplete: set %s or %s", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	dsn := url.URL{
		Scheme:   "postgres",
		User:     userInfo,
		Host:     fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:     "/" + db.LegacyName,
		RawQuery: url.Values{"sslmode": {db.LegacySSLMode}}.Encode(),
	}
	db.DSN = dsn.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"FIELDOPS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FIELDOPS_REDIS_ADDR"`
	Password     string        `envconfig:"FIELDOPS_REDIS_PASSWORD"`
	DB           int           `envconfig:"FIELDOPS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FIELDOPS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FIELDOPS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FIELDOPS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FIELDOPS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FIELDOPS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// ReaperConfig controls the assignment expiration worker.
type ReaperConfig struct {
	Interval time.Duration `envconfig:"FIELDOPS_REAPER_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"FIELDOPS_REAPER_LOCK_TTL" default:"50m"`
}

// DirectoryConfig points at the installer directory service.
type DirectoryConfig struct {
	BaseURL string        `envconfig:"FIELDOPS_DIRECTORY_BASE_URL" required:"true"`
	APIKey  string        `envconfig:"FIELDOPS_DIRECTORY_API_KEY"`
	Timeout time.Duration `envconfig:"FIELDOPS_DIRECTORY_TIMEOUT" default:"5s"`
}

// OrderGatewayConfig points at the order subsystem.
type OrderGatewayConfig struct {
	BaseURL string        `envconfig:"FIELDOPS_ORDER_GATEWAY_BASE_URL" required:"true"`
	APIKey  string        `envconfig:"FIELDOPS_ORDER_GATEWAY_API_KEY"`
	Timeout time.Duration `envconfig:"FIELDOPS_ORDER_GATEWAY_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FIELDOPS_AUTO_MIGRATE" default:"false"`
}
