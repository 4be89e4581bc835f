package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"wagate/internal/constants"
	"wagate/internal/models"
	"wagate/internal/security"
)

var (
	ErrMissingEngineURL = models.ConfigError{Message: "missing engine API base URL"}
	ErrMissingDBPath    = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Engine.APIBaseURL == "" {
		return ErrMissingEngineURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	chatbots := make(map[string]bool)
	for i, channel := range c.Channels {
		if channel.ChatbotID == "" {
			return models.ConfigError{Message: fmt.Sprintf("empty chatbot id in channel %d", i)}
		}
		if chatbots[channel.ChatbotID] {
			return models.ConfigError{Message: fmt.Sprintf("duplicate chatbot id %q in channels", channel.ChatbotID)}
		}
		chatbots[channel.ChatbotID] = true

		if channel.WebhookURL != "" {
			parsed, err := url.Parse(channel.WebhookURL)
			if err != nil || parsed.Scheme == "" || parsed.Host == "" {
				return models.ConfigError{Message: fmt.Sprintf("invalid webhook URL for chatbot %q", channel.ChatbotID)}
			}
		}
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("WAGATE_ENGINE_API_URL"); url != "" {
		c.Engine.APIBaseURL = url
	}
	if key := os.Getenv("WAGATE_ENGINE_API_KEY"); key != "" {
		c.Engine.APIKey = key
	}
	if secret := os.Getenv("WAGATE_ENGINE_WEBHOOK_SECRET"); secret != "" {
		c.Engine.WebhookSecret = secret
	}
	if path := os.Getenv("WAGATE_DB_PATH"); path != "" {
		c.Database.Path = path
	}
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Engine.TimeoutSec == 0 {
		c.Engine.TimeoutSec = constants.DefaultEngineTimeoutSec
	}
	if c.Webhook.TimeoutSec == 0 {
		c.Webhook.TimeoutSec = constants.DefaultWebhookTimeoutSec
	}
	if c.RateLimit.MessagesPerMinute == 0 {
		c.RateLimit.MessagesPerMinute = constants.DefaultSendMessagesPerMinute
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = constants.DefaultSendBurst
	}
	if c.Retry.InitialBackoffMs == 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs == 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
}
