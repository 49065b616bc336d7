package config

import (
	"encoding/json"
	"errors"
	"time"
)

// Config represents the main pagerelay configuration
type Config struct {
	// Messenger Platform credentials and Send API settings
	Messenger MessengerConfig `json:"messenger" mapstructure:"messenger"`

	// Completion provider
	Completion CompletionConfig `json:"completion" mapstructure:"completion"`

	// Session lifetime
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Webhook server
	Webhook WebhookConfig `json:"webhook" mapstructure:"webhook"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// SystemPrompt is used verbatim when set; otherwise it is read from SystemPromptFile.
	SystemPrompt     string `json:"system_prompt" mapstructure:"system_prompt"`
	SystemPromptFile string `json:"system_prompt_file" mapstructure:"system_prompt_file"`
}

// MessengerConfig holds Messenger Platform settings
type MessengerConfig struct {
	VerifyToken     string        `json:"verify_token" mapstructure:"verify_token"`
	PageAccessToken string        `json:"page_access_token" mapstructure:"page_access_token"`
	AppSecret       string        `json:"app_secret" mapstructure:"app_secret"` // enables X-Hub-Signature-256 checks
	APIVersion      string        `json:"api_version" mapstructure:"api_version"`
	BaseURL         string        `json:"base_url" mapstructure:"base_url"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
}

// CompletionConfig holds language model settings
type CompletionConfig struct {
	Provider        string        `json:"provider" mapstructure:"provider"` // gemini, openai, anthropic
	APIKey          string        `json:"api_key" mapstructure:"api_key"`
	Model           string        `json:"model" mapstructure:"model"`
	MaxOutputTokens int           `json:"max_output_tokens" mapstructure:"max_output_tokens"`
	BaseURL         string        `json:"base_url" mapstructure:"base_url"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
}

// SessionConfig holds session store settings
type SessionConfig struct {
	Timeout          time.Duration `json:"timeout" mapstructure:"timeout"`
	EvictionInterval time.Duration `json:"eviction_interval" mapstructure:"eviction_interval"`
	MaxTurns         int           `json:"max_turns" mapstructure:"max_turns"` // 0 keeps every turn
}

// WebhookConfig holds webhook server configuration
type WebhookConfig struct {
	Host               string        `json:"host" mapstructure:"host"`
	Port               int           `json:"port" mapstructure:"port"`
	Path               string        `json:"path" mapstructure:"path"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	DedupTTL           time.Duration `json:"dedup_ttl" mapstructure:"dedup_ttl"`
	ShutdownTimeout    time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Messenger: MessengerConfig{
			APIVersion: "v18.0",
			BaseURL:    "https://graph.facebook.com",
			Timeout:    10 * time.Second,
		},
		Completion: CompletionConfig{
			Provider:        "gemini",
			Model:           "gemini-2.5-flash-lite",
			MaxOutputTokens: 200,
			Timeout:         30 * time.Second,
		},
		Session: SessionConfig{
			Timeout:          30 * time.Minute,
			EvictionInterval: 10 * time.Minute,
		},
		Webhook: WebhookConfig{
			Host:               "0.0.0.0",
			Port:               3000,
			Path:               "/facebook",
			RateLimitPerMinute: 600,
			DedupTTL:           10 * time.Minute,
			ShutdownTimeout:    30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    false,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "pagerelay",
		},
		SystemPromptFile: "systemPrompt.txt",
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.Messenger.VerifyToken = mask(c.Messenger.VerifyToken)
	masked.Messenger.PageAccessToken = mask(c.Messenger.PageAccessToken)
	masked.Messenger.AppSecret = mask(c.Messenger.AppSecret)
	masked.Completion.APIKey = mask(c.Completion.APIKey)
	if len(masked.SystemPrompt) > 40 {
		masked.SystemPrompt = masked.SystemPrompt[:40] + "..."
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// Validate checks if the configuration is valid. All problems are reported
// together.
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
