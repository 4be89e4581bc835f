package constants

// Default polling configuration values
const (
	DefaultPollMaxDurationSec = 30
	DefaultPollInitialMs      = 1000
	DefaultPollMaxIntervalMs  = 3000
	DefaultPollBackoffFactor  = 1.5
)

// Default retry values
const (
	DefaultRetryBackoffMs = 1000
	DefaultMaxBackoffMs   = 60000
	DefaultMaxAttempts    = 5
)

// Default server values
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
)

// Default timeout values
const (
	DefaultEngineTimeoutSec      = 30
	DefaultWebhookTimeoutSec     = 10
	DefaultDatabaseRetryAttempts = 3
	DefaultDatabaseOpenWaitSec   = 15
)

// Default rate limit values
const (
	DefaultSendMessagesPerMinute = 30
	DefaultSendBurst             = 10
)
