package models

// Config holds the application configuration
type Config struct {
	Engine    EngineConfig    `json:"engine"`
	Database  DatabaseConfig  `json:"database"`
	Server    ServerConfig    `json:"server"`
	Webhook   WebhookConfig   `json:"webhook"`
	RateLimit RateLimitConfig `json:"rateLimit"`
	Retry     RetryConfig     `json:"retry"`
	Tracing   TracingConfig   `json:"tracing"`
	Channels  []ChannelConfig `json:"channels"`
	LogLevel  string          `json:"log_level"`
}

// EngineConfig holds the WhatsApp engine (connection driver backend) settings
type EngineConfig struct {
	APIBaseURL    string `json:"api_base_url"`
	APIKey        string `json:"api_key"`
	TimeoutSec    int    `json:"timeout_sec"`
	WebhookSecret string `json:"webhook_secret"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec"`
}

// WebhookConfig holds outbound notification delivery settings
type WebhookConfig struct {
	TimeoutSec int `json:"timeout_sec"`
}

// RateLimitConfig bounds outbound sends per chatbot
type RateLimitConfig struct {
	MessagesPerMinute int `json:"messagesPerMinute"`
	Burst             int `json:"burst"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

// ChannelConfig binds a chatbot tenant to its notification callback.
// A chatbot without a channel entry gets no webhook deliveries.
type ChannelConfig struct {
	ChatbotID  string `json:"chatbotId"`
	WebhookURL string `json:"webhookUrl"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
