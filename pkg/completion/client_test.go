package completion

import (
	"errors"
	"fmt"
	"testing"

	"github.com/harun/pagerelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cases := []struct {
		provider string
		want     string
	}{
		{"", ProviderGemini},
		{"gemini", ProviderGemini},
		{"OpenAI", ProviderOpenAI},
		{"anthropic", ProviderAnthropic},
	}
	for _, tc := range cases {
		t.Run(tc.provider, func(t *testing.T) {
			client, err := New(config.CompletionConfig{Provider: tc.provider, APIKey: "k"})
			require.NoError(t, err)
			assert.Equal(t, tc.want, client.Provider())
		})
	}

	_, err := New(config.CompletionConfig{Provider: "mystery", APIKey: "k"})
	assert.Error(t, err)
}

func TestRequestMaxTokens(t *testing.T) {
	assert.Equal(t, DefaultMaxOutputTokens, Request{}.maxTokens())
	assert.Equal(t, 64, Request{MaxOutputTokens: 64}.maxTokens())
}

func TestRemoteError(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("wrapped: %w", remoteErr(ProviderGemini, cause))

	assert.True(t, IsRemote(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "gemini completion failed")
	assert.False(t, IsRemote(ErrNoContent))
}
