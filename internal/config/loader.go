package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultConfigPath = "pagerelay.json"
	DefaultEnvFile    = ".env"
	envPrefix         = "PAGERELAY"
)

// legacyEnv maps config keys to the unprefixed variable names accepted for
// compatibility with existing deployments.
var legacyEnv = map[string]string{
	"messenger.verify_token":      "VERIFY_TOKEN",
	"messenger.page_access_token": "PAGE_ACCESS_TOKEN",
	"messenger.app_secret":        "APP_SECRET",
	"completion.api_key":          "GEMINI_API_KEY",
	"webhook.port":                "PORT",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFile:    DefaultEnvFile,
	}
}

// WithEnvFile sets the dotenv file read before the environment. An empty
// path disables it.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// Load builds the configuration from defaults, the optional JSON file, the
// optional dotenv file and the environment, in increasing precedence.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		if err := loadDotEnv(l.envFile); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", legacy, err)
		}
	}

	configPath := l.GetConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) || l.configPath != "" {
		// an explicitly requested file must exist
		return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.loadSystemPrompt(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	return DefaultConfigPath
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

func (c *Config) loadSystemPrompt() error {
	if strings.TrimSpace(c.SystemPrompt) != "" || c.SystemPromptFile == "" {
		return nil
	}

	data, err := os.ReadFile(c.SystemPromptFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read system prompt: %w", err)
	}
	c.SystemPrompt = string(data)
	return nil
}

// loadDotEnv exports variables from a dotenv file without overriding ones
// already present in the environment.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat env file: %w", err)
	}

	dv := viper.New()
	dv.SetConfigFile(path)
	dv.SetConfigType("env")
	if err := dv.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read env file: %w", err)
	}

	for key, value := range dv.AllSettings() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, fmt.Sprint(value)); err != nil {
			return fmt.Errorf("failed to export %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("messenger.verify_token", d.Messenger.VerifyToken)
	v.SetDefault("messenger.page_access_token", d.Messenger.PageAccessToken)
	v.SetDefault("messenger.app_secret", d.Messenger.AppSecret)
	v.SetDefault("messenger.api_version", d.Messenger.APIVersion)
	v.SetDefault("messenger.base_url", d.Messenger.BaseURL)
	v.SetDefault("messenger.timeout", d.Messenger.Timeout)

	v.SetDefault("completion.provider", d.Completion.Provider)
	v.SetDefault("completion.api_key", d.Completion.APIKey)
	v.SetDefault("completion.model", d.Completion.Model)
	v.SetDefault("completion.max_output_tokens", d.Completion.MaxOutputTokens)
	v.SetDefault("completion.base_url", d.Completion.BaseURL)
	v.SetDefault("completion.timeout", d.Completion.Timeout)

	v.SetDefault("session.timeout", d.Session.Timeout)
	v.SetDefault("session.eviction_interval", d.Session.EvictionInterval)
	v.SetDefault("session.max_turns", d.Session.MaxTurns)

	v.SetDefault("webhook.host", d.Webhook.Host)
	v.SetDefault("webhook.port", d.Webhook.Port)
	v.SetDefault("webhook.path", d.Webhook.Path)
	v.SetDefault("webhook.rate_limit_per_minute", d.Webhook.RateLimitPerMinute)
	v.SetDefault("webhook.dedup_ttl", d.Webhook.DedupTTL)
	v.SetDefault("webhook.shutdown_timeout", d.Webhook.ShutdownTimeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.console", d.Logging.Console)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.redaction", d.Logging.Redaction)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetDefault("system_prompt", d.SystemPrompt)
	v.SetDefault("system_prompt_file", d.SystemPromptFile)
}
