package config

const (
	EnvPrefix = "HANDOFF"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	CurrencyINR = "INR"
)

const (
	EnvAppEnv   = "HANDOFF_APP_ENV"
	EnvPort     = "HANDOFF_APP_PORT"
	EnvLogLevel = "HANDOFF_LOG_LEVEL"

	EnvDBDSN  = "HANDOFF_DB_DSN"
	EnvDBHost = "HANDOFF_DB_HOST"
	EnvDBUser = "HANDOFF_DB_USER"
	EnvDBName = "HANDOFF_DB_NAME"

	EnvRedisURL = "HANDOFF_REDIS_URL"

	EnvJWTSecret = "HANDOFF_JWT_SECRET"
	EnvJWTIssuer = "HANDOFF_JWT_ISSUER"

	EnvGatewayKeyID         = "HANDOFF_GATEWAY_KEY_ID"
	EnvGatewayKeySecret     = "HANDOFF_GATEWAY_KEY_SECRET"
	EnvGatewayWebhookSecret = "HANDOFF_GATEWAY_WEBHOOK_SECRET"
	EnvGatewayCurrency      = "HANDOFF_GATEWAY_CURRENCY"

	EnvGCPProjectID = "HANDOFF_GCP_PROJECT_ID"

	EnvPubSubTransactionsTopic = "HANDOFF_PUBSUB_TRANSACTIONS_TOPIC"
	EnvPubSubNotificationTopic = "HANDOFF_PUBSUB_NOTIFICATION_TOPIC"

	EnvPickupAttemptLimit = "HANDOFF_PICKUP_CONFIRM_ATTEMPT_LIMIT"
)

var splitDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
