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
	FeatureFlags FeatureFlagsConfig
	Portal       PortalConfig
	Sync         SyncConfig
	Merge        MergeConfig
	Run          RunConfig
	Worker       WorkerConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
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
	Env          string `envconfig:"RANKPULL_APP_ENV" default:"dev"`
	LogLevel     string `envconfig:"RANKPULL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RANKPULL_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"RANKPULL_SERVICE_KIND" default:"pull-rankings"`
}

type DBConfig struct {
	DSN    string `envconfig:"RANKPULL_DB_DSN"`
	Driver string `envconfig:"RANKPULL_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"RANKPULL_DB_HOST"`
	LegacyPort     int    `envconfig:"RANKPULL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RANKPULL_DB_USER"`
	LegacyPassword string `envconfig:"RANKPULL_DB_PASSWORD"`
	LegacyName     string `envconfig:"RANKPULL_DB_NAME"`
	LegacySSLMode  string `envconfig:"RANKPULL_DB_SSLMODE" default:"require"`

	MaxOpenConns    int           `envconfig:"RANKPULL_DB_MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int           `envconfig:"RANKPULL_DB_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime time.Duration `envconfig:"RANKPULL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RANKPULL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the configured driver targets a SQLite file.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

// RedisConfig is optional; an empty URL and address disables the run lock.
type RedisConfig struct {
	URL          string        `envconfig:"RANKPULL_REDIS_URL"`
	Address      string        `envconfig:"RANKPULL_REDIS_ADDR"`
	Password     string        `envconfig:"RANKPULL_REDIS_PASSWORD"`
	DB           int           `envconfig:"RANKPULL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RANKPULL_REDIS_POOL_SIZE" default:"4"`
	MinIdleConns int           `envconfig:"RANKPULL_REDIS_MIN_IDLE_CONNS" default:"1"`
	DialTimeout  time.Duration `envconfig:"RANKPULL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RANKPULL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RANKPULL_REDIS_WRITE_TIMEOUT" default:"5s"`
	LockTTL      time.Duration `envconfig:"RANKPULL_REDIS_LOCK_TTL" default:"6h"`
}

// Enabled reports whether a Redis endpoint has been configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"RANKPULL_AUTO_MIGRATE" default:"false"`
}

type PortalConfig struct {
	BaseURL         string        `envconfig:"RANKPULL_PORTAL_BASE_URL" default:"https://portal.scaleinsights.com"`
	Email           string        `envconfig:"RANKPULL_PORTAL_EMAIL"`
	Password        string        `envconfig:"RANKPULL_PORTAL_PASSWORD"`
	UserAgent       string        `envconfig:"RANKPULL_PORTAL_USER_AGENT" default:"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
	TokenField      string        `envconfig:"RANKPULL_PORTAL_TOKEN_FIELD" default:"__RequestVerificationToken"`
	LoginTimeout    time.Duration `envconfig:"RANKPULL_PORTAL_LOGIN_TIMEOUT" default:"30s"`
	DownloadTimeout time.Duration `envconfig:"RANKPULL_PORTAL_DOWNLOAD_TIMEOUT" default:"120s"`
	MaxAttempts     int           `envconfig:"RANKPULL_PORTAL_MAX_ATTEMPTS" default:"3"`
	RetryBackoff    time.Duration `envconfig:"RANKPULL_PORTAL_RETRY_BACKOFF" default:"5s"`
}

// Validate reports missing portal credentials. Only commands that talk to the portal call it.
func (p PortalConfig) Validate() error {
	missing := []string{}
	if strings.TrimSpace(p.Email) == "" {
		missing = append(missing, EnvPortalEmail)
	}
	if p.Password == "" {
		missing = append(missing, EnvPortalPassword)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required portal settings: %s", strings.Join(missing, ", "))
	}
	if _, err := url.Parse(p.BaseURL); err != nil || strings.TrimSpace(p.BaseURL) == "" {
		return fmt.Errorf("invalid portal base url %q", p.BaseURL)
	}
	return nil
}

type SyncConfig struct {
	KeywordBatchSize int           `envconfig:"RANKPULL_SYNC_KEYWORD_BATCH_SIZE" default:"500"`
	RankBatchSize    int           `envconfig:"RANKPULL_SYNC_RANK_BATCH_SIZE" default:"2000"`
	ResolvePageSize  int           `envconfig:"RANKPULL_SYNC_RESOLVE_PAGE_SIZE" default:"10000"`
	ConsistencyMode  string        `envconfig:"RANKPULL_SYNC_CONSISTENCY_MODE" default:"fixed"`
	ConsistencyWait  time.Duration `envconfig:"RANKPULL_SYNC_CONSISTENCY_WAIT" default:"3s"`
	PollAttempts     int           `envconfig:"RANKPULL_SYNC_POLL_ATTEMPTS" default:"5"`
	BatchMaxRetries  int           `envconfig:"RANKPULL_SYNC_BATCH_MAX_RETRIES" default:"3"`
	BatchBackoff     time.Duration `envconfig:"RANKPULL_SYNC_BATCH_BACKOFF" default:"1s"`
}

type MergeConfig struct {
	TrackedOrSpendOnly bool `envconfig:"RANKPULL_MERGE_TRACKED_OR_SPEND_ONLY" default:"false"`
}

type RunConfig struct {
	DefaultDays       int           `envconfig:"RANKPULL_RUN_DEFAULT_DAYS" default:"7"`
	InterCountryDelay time.Duration `envconfig:"RANKPULL_RUN_INTER_COUNTRY_DELAY" default:"5s"`
	CountriesFile     string        `envconfig:"RANKPULL_COUNTRIES_FILE" default:"countries.yaml"`
}

type WorkerConfig struct {
	Interval    time.Duration `envconfig:"RANKPULL_WORKER_INTERVAL" default:"24h"`
	JobTimeout  time.Duration `envconfig:"RANKPULL_WORKER_JOB_TIMEOUT" default:"4h"`
	LockTTL     time.Duration `envconfig:"RANKPULL_WORKER_LOCK_TTL" default:"6h"`
	RunOnStart  bool          `envconfig:"RANKPULL_WORKER_RUN_ON_START" default:"true"`
	MetricsAddr string        `envconfig:"RANKPULL_WORKER_METRICS_ADDR" default:":9102"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"RANKPULL_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	SummaryTopic string `envconfig:"RANKPULL_PUBSUB_SUMMARY_TOPIC"`
}

// Enabled reports whether run summaries should be published to Pub/Sub.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.SummaryTopic) != ""
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
