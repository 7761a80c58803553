package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "showroom"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "SHOWROOM_APP_ENV"
	EnvPort     = "SHOWROOM_APP_PORT"
	EnvRedisURL = "SHOWROOM_REDIS_URL"

	EnvDBDSN  = "SHOWROOM_DB_DSN"
	EnvDBHost = "SHOWROOM_DB_HOST"
	EnvDBUser = "SHOWROOM_DB_USER"
	EnvDBName = "SHOWROOM_DB_NAME"

	EnvGCPProjectID          = "SHOWROOM_GCP_PROJECT_ID"
	EnvPubSubGenerationTopic = "SHOWROOM_PUBSUB_GENERATION_TOPIC"
	EnvPubSubGenerationSub   = "SHOWROOM_PUBSUB_GENERATION_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Ledger       LedgerConfig
	Generation   GenerationConfig
	Dispatch     DispatchConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
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
	Env          string `envconfig:"SHOWROOM_APP_ENV" required:"true"`
	Port         string `envconfig:"SHOWROOM_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SHOWROOM_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SHOWROOM_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SHOWROOM_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SHOWROOM_DB_DSN"`
	Driver string `envconfig:"SHOWROOM_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHOWROOM_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOWROOM_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOWROOM_DB_USER"`
	LegacyPassword string `envconfig:"SHOWROOM_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOWROOM_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOWROOM_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOWROOM_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOWROOM_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOWROOM_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOWROOM_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOWROOM_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SHOWROOM_REDIS_ADDR"`
	Password     string        `envconfig:"SHOWROOM_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOWROOM_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOWROOM_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOWROOM_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOWROOM_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOWROOM_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOWROOM_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SHOWROOM_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SHOWROOM_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"SHOWROOM_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SHOWROOM_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	GenerationTopic        string `envconfig:"SHOWROOM_PUBSUB_GENERATION_TOPIC" required:"true"`
	GenerationSubscription string `envconfig:"SHOWROOM_PUBSUB_GENERATION_SUBSCRIPTION" required:"true"`
}

// RateLimitConfig throttles the job-creation surface per client IP.
type RateLimitConfig struct {
	GenerationWindow time.Duration `envconfig:"SHOWROOM_RATE_LIMIT_GENERATION_WINDOW" default:"1m"`
	GenerationLimit  int           `envconfig:"SHOWROOM_RATE_LIMIT_GENERATION_LIMIT" default:"30"`
}

// LedgerConfig tunes the credit reservation ledger.
type LedgerConfig struct {
	// SandboxFallback makes Reserve succeed with a synthetic reservation when
	// a store has no financials row or incomplete billing configuration.
	// The system then degrades to "unlimited credits" instead of blocking
	// callers on unconfigured billing.
	SandboxFallback bool `envconfig:"SHOWROOM_LEDGER_SANDBOX_FALLBACK" default:"true"`
}

// GenerationConfig tunes job processing and the external backend client.
type GenerationConfig struct {
	BackendURL        string        `envconfig:"SHOWROOM_GENERATION_BACKEND_URL"`
	BackendAPIKey     string        `envconfig:"SHOWROOM_GENERATION_BACKEND_API_KEY"`
	RequestTimeout    time.Duration `envconfig:"SHOWROOM_GENERATION_REQUEST_TIMEOUT" default:"120s"`
	ProcessingTimeout time.Duration `envconfig:"SHOWROOM_GENERATION_PROCESSING_TIMEOUT" default:"10m"`
	MaxRetries        int           `envconfig:"SHOWROOM_GENERATION_MAX_RETRIES" default:"3"`
	ScenarioCacheTTL  time.Duration `envconfig:"SHOWROOM_SCENARIO_CACHE_TTL" default:"5m"`
}

// DispatchConfig tunes the fire-and-forget job triggers.
type DispatchConfig struct {
	WorkerBaseURL  string        `envconfig:"SHOWROOM_DISPATCH_WORKER_BASE_URL"`
	TriggerTimeout time.Duration `envconfig:"SHOWROOM_DISPATCH_TRIGGER_TIMEOUT" default:"5s"`
}

// CronConfig tunes the recovery sweeps.
type CronConfig struct {
	Interval         time.Duration `envconfig:"SHOWROOM_CRON_INTERVAL" default:"5m"`
	PendingAge       time.Duration `envconfig:"SHOWROOM_CRON_PENDING_AGE" default:"2m"`
	SweepBatchSize   int           `envconfig:"SHOWROOM_CRON_SWEEP_BATCH_SIZE" default:"100"`
	ExpiredRetention time.Duration `envconfig:"SHOWROOM_CRON_EXPIRED_RETENTION" default:"168h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
