package config

// EnvPrefix is the envconfig prefix for all KeyHaven settings.
const EnvPrefix = "KEYHAVEN"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "KEYHAVEN_DB_DSN"
	EnvDBHost = "KEYHAVEN_DB_HOST"
	EnvDBUser = "KEYHAVEN_DB_USER"
	EnvDBName = "KEYHAVEN_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
