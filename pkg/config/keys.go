package config

const (
	EnvPrefix = "RANKPULL"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	EnvAppEnv         = "RANKPULL_APP_ENV"
	EnvDBDSN          = "RANKPULL_DB_DSN"
	EnvDBDriver       = "RANKPULL_DB_DRIVER"
	EnvDBHost         = "RANKPULL_DB_HOST"
	EnvDBUser         = "RANKPULL_DB_USER"
	EnvDBName         = "RANKPULL_DB_NAME"
	EnvDBPassword     = "RANKPULL_DB_PASSWORD"
	EnvPortalEmail    = "RANKPULL_PORTAL_EMAIL"
	EnvPortalPassword = "RANKPULL_PORTAL_PASSWORD"
	EnvRedisURL       = "RANKPULL_REDIS_URL"
	EnvSyncMode       = "RANKPULL_SYNC_CONSISTENCY_MODE"
	EnvCountriesFile  = "RANKPULL_COUNTRIES_FILE"
	EnvSummaryTopic   = "RANKPULL_PUBSUB_SUMMARY_TOPIC"
	EnvGCPProjectID   = "RANKPULL_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
