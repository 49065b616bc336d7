package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateProvider(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateProvider("gemini"))
	assert.NoError(t, v.ValidateProvider("OpenAI"))
	assert.NoError(t, v.ValidateProvider("anthropic"))
	assert.Error(t, v.ValidateProvider(""))
	assert.Error(t, v.ValidateProvider("llama"))
}

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		key      string
		provider string
		wantErr  bool
	}{
		{"empty key", "", "gemini", true},
		{"gemini key", "AIzaSyExample", "gemini", false},
		{"valid anthropic", "sk-ant-abc", "anthropic", false},
		{"invalid anthropic", "sk-abc", "anthropic", true},
		{"valid openai", "sk-abc", "openai", false},
		{"invalid openai", "abc", "openai", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateAPIKey(tt.key, tt.provider)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateMaxTokens(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateMaxTokens(200))
	assert.Error(t, v.ValidateMaxTokens(0))
	assert.Error(t, v.ValidateMaxTokens(200001))
}

func TestValidatePort(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidatePort(3000))
	assert.Error(t, v.ValidatePort(0))
	assert.Error(t, v.ValidatePort(70000))
}

func TestValidatePath(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidatePath("/facebook"))
	assert.Error(t, v.ValidatePath("facebook"))
	assert.Error(t, v.ValidatePath("/"))
	assert.Error(t, v.ValidatePath("/health"))
	assert.Error(t, v.ValidatePath("/metrics"))
}

func TestValidatePositiveDuration(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidatePositiveDuration("x", time.Second))
	assert.Error(t, v.ValidatePositiveDuration("x", 0))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()
	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level))
	}
	assert.Error(t, v.ValidateLogLevel("verbose"))
}

func TestValidateConfigCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Webhook.Port = 0
	cfg.Logging.Level = "loud"

	errs := NewValidator().ValidateConfig(cfg)
	// verify token, page token, api key, system prompt, port, log level
	assert.Len(t, errs, 6)
}
