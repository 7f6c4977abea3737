package constants

const (
	// Environment constants
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"

	// Pagination for history listings
	DefaultListLimit = 20
	MaxListLimit     = 100

	// HTTP Headers
	HeaderContentType   = "Content-Type"
	HeaderAuthorization = "Authorization"
	HeaderXRequestID    = "X-Request-ID"

	ContentTypeJSON = "application/json"

	// Context keys
	ContextKeyRequestID = "request_id"

	// Database table names
	TableNotificationLogs = "notification_logs"

	// Database drivers
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)
