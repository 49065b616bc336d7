package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Messenger.VerifyToken = "verify"
	cfg.Messenger.PageAccessToken = "EAApage"
	cfg.Completion.APIKey = "AIzaKey"
	cfg.SystemPrompt = "You are a helpful assistant."
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "gemini", cfg.Completion.Provider)
	assert.Equal(t, "gemini-2.5-flash-lite", cfg.Completion.Model)
	assert.Equal(t, 200, cfg.Completion.MaxOutputTokens)
	assert.Equal(t, 30*time.Second, cfg.Completion.Timeout)
	assert.Equal(t, "v18.0", cfg.Messenger.APIVersion)
	assert.Equal(t, 10*time.Second, cfg.Messenger.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Session.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Session.EvictionInterval)
	assert.Equal(t, 0, cfg.Session.MaxTurns)
	assert.Equal(t, 3000, cfg.Webhook.Port)
	assert.Equal(t, "/facebook", cfg.Webhook.Path)
	assert.Equal(t, "systemPrompt.txt", cfg.SystemPromptFile)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("defaults are missing required values", func(t *testing.T) {
		err := DefaultConfig().Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMissingVerifyToken))
		assert.True(t, errors.Is(err, ErrMissingPageAccessToken))
		assert.True(t, errors.Is(err, ErrMissingAPIKey))
		assert.True(t, errors.Is(err, ErrMissingSystemPrompt))
	})

	t.Run("blank system prompt", func(t *testing.T) {
		cfg := validConfig()
		cfg.SystemPrompt = "   \n"
		assert.ErrorIs(t, cfg.Validate(), ErrMissingSystemPrompt)
	})

	t.Run("invalid provider", func(t *testing.T) {
		cfg := validConfig()
		cfg.Completion.Provider = "mystery"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid completion provider")
	})

	t.Run("invalid durations", func(t *testing.T) {
		cfg := validConfig()
		cfg.Session.Timeout = 0
		cfg.Session.EvictionInterval = -time.Second
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "session.timeout")
		assert.Contains(t, err.Error(), "session.eviction_interval")
	})

	t.Run("negative max turns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Session.MaxTurns = -1
		assert.Error(t, cfg.Validate())
	})
}

func TestConfigStringMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Messenger.AppSecret = "appsecret"

	out := cfg.String()
	assert.NotContains(t, out, "EAApage")
	assert.NotContains(t, out, "AIzaKey")
	assert.NotContains(t, out, "appsecret")
	assert.Contains(t, out, "****")
	assert.Equal(t, "EAApage", cfg.Messenger.PageAccessToken)
}
