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
	Square       SquareConfig
	Orders       OrdersConfig
	Notify       NotifyConfig
	Outbox       OutboxConfig
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
	Env          string `envconfig:"KEYHAVEN_APP_ENV" required:"true"`
	Port         string `envconfig:"KEYHAVEN_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"KEYHAVEN_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"KEYHAVEN_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"KEYHAVEN_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"KEYHAVEN_DB_DSN"`
	Driver string `envconfig:"KEYHAVEN_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"KEYHAVEN_DB_HOST"`
	LegacyPort     int    `envconfig:"KEYHAVEN_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"KEYHAVEN_DB_USER"`
	LegacyPassword string `envconfig:"KEYHAVEN_DB_PASSWORD"`
	LegacyName     string `envconfig:"KEYHAVEN_DB_NAME"`
	LegacySSLMode  string `envconfig:"KEYHAVEN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"KEYHAVEN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KEYHAVEN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KEYHAVEN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KEYHAVEN_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"KEYHAVEN_REDIS_URL" required:"true"`
	Address      string        `envconfig:"KEYHAVEN_REDIS_ADDR"`
	Password     string        `envconfig:"KEYHAVEN_REDIS_PASSWORD"`
	DB           int           `envconfig:"KEYHAVEN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KEYHAVEN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KEYHAVEN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KEYHAVEN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KEYHAVEN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"KEYHAVEN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type SquareConfig struct {
	AccessToken string `envconfig:"KEYHAVEN_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"KEYHAVEN_SQUARE_ENV" default:"sandbox"`
	LocationID  string `envconfig:"KEYHAVEN_SQUARE_LOCATION_ID"`
	Currency    string `envconfig:"KEYHAVEN_SQUARE_CURRENCY" default:"USD"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type OrdersConfig struct {
	PendingTimeout time.Duration `envconfig:"KEYHAVEN_ORDERS_PENDING_TIMEOUT" default:"10m"`
	SweepInterval  time.Duration `envconfig:"KEYHAVEN_ORDERS_SWEEP_INTERVAL" default:"2m"`
}

type NotifyConfig struct {
	MailAPIURL      string        `envconfig:"KEYHAVEN_NOTIFY_MAIL_API_URL"`
	MailAPIKey      string        `envconfig:"KEYHAVEN_NOTIFY_MAIL_API_KEY"`
	FromEmail       string        `envconfig:"KEYHAVEN_NOTIFY_FROM_EMAIL" default:"orders@keyhaven.app"`
	StaffEmail      string        `envconfig:"KEYHAVEN_NOTIFY_STAFF_EMAIL"`
	ChatWebhookURL  string        `envconfig:"KEYHAVEN_NOTIFY_CHAT_WEBHOOK_URL"`
	StorefrontURL   string        `envconfig:"KEYHAVEN_NOTIFY_STOREFRONT_URL" default:"https://keyhaven.app"`
	DispatchTimeout time.Duration `envconfig:"KEYHAVEN_NOTIFY_DISPATCH_TIMEOUT" default:"10s"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"KEYHAVEN_OUTBOX_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"KEYHAVEN_OUTBOX_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"KEYHAVEN_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"KEYHAVEN_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"KEYHAVEN_AUTO_MIGRATE" default:"false"`
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
