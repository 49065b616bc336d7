package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMissingVerifyToken     = errors.New("messenger verify token is required (VERIFY_TOKEN)")
	ErrMissingPageAccessToken = errors.New("messenger page access token is required (PAGE_ACCESS_TOKEN)")
	ErrMissingAPIKey          = errors.New("completion API key is required (GEMINI_API_KEY)")
	ErrMissingSystemPrompt    = errors.New("system prompt is required (system_prompt or system_prompt_file)")
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider validates a completion provider name
func (v *Validator) ValidateProvider(provider string) error {
	validProviders := []string{"gemini", "openai", "anthropic"}
	for _, valid := range validProviders {
		if strings.EqualFold(provider, valid) {
			return nil
		}
	}
	return fmt.Errorf("invalid completion provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return ErrMissingAPIKey
	}

	switch strings.ToLower(provider) {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateMaxTokens validates max output tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max output tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max output tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

// ValidatePath validates the webhook path
func (v *Validator) ValidatePath(path string) error {
	if !strings.HasPrefix(path, "/") || path == "/" {
		return fmt.Errorf("webhook path must start with / and not be the root: %q", path)
	}
	switch path {
	case "/health", "/metrics":
		return fmt.Errorf("webhook path %s is reserved", path)
	}
	return nil
}

// ValidatePositiveDuration validates a duration setting
func (v *Validator) ValidatePositiveDuration(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if cfg.Messenger.VerifyToken == "" {
		errs = append(errs, ErrMissingVerifyToken)
	}
	if cfg.Messenger.PageAccessToken == "" {
		errs = append(errs, ErrMissingPageAccessToken)
	}
	if err := v.ValidatePositiveDuration("messenger.timeout", cfg.Messenger.Timeout); err != nil {
		errs = append(errs, err)
	}

	if err := v.ValidateProvider(cfg.Completion.Provider); err != nil {
		errs = append(errs, err)
	} else if err := v.ValidateAPIKey(cfg.Completion.APIKey, cfg.Completion.Provider); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateMaxTokens(cfg.Completion.MaxOutputTokens); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidatePositiveDuration("completion.timeout", cfg.Completion.Timeout); err != nil {
		errs = append(errs, err)
	}

	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		errs = append(errs, ErrMissingSystemPrompt)
	}

	if err := v.ValidatePositiveDuration("session.timeout", cfg.Session.Timeout); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidatePositiveDuration("session.eviction_interval", cfg.Session.EvictionInterval); err != nil {
		errs = append(errs, err)
	}
	if cfg.Session.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("session.max_turns must be >= 0"))
	}

	if err := v.ValidatePort(cfg.Webhook.Port); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidatePath(cfg.Webhook.Path); err != nil {
		errs = append(errs, err)
	}
	if cfg.Webhook.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("webhook.rate_limit_per_minute must be >= 0"))
	}
	if cfg.Webhook.DedupTTL < 0 {
		errs = append(errs, fmt.Errorf("webhook.dedup_ttl must be >= 0"))
	}
	if err := v.ValidatePositiveDuration("webhook.shutdown_timeout", cfg.Webhook.ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
