package completion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/harun/pagerelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicClient_Success(t *testing.T) {
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.set(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude",
			"content":[{"type":"text","text":"hi from claude"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":4}}`))
	}))
	defer srv.Close()

	client := NewAnthropicClient(config.CompletionConfig{APIKey: "k", BaseURL: srv.URL})
	assert.Equal(t, ProviderAnthropic, client.Provider())

	text, err := client.Complete(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "hi from claude", text)

	path, body := captured.get()
	assert.True(t, strings.HasSuffix(path, "/v1/messages"), path)
	assert.Contains(t, body, "system")

	messages, ok := body["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 3)
	assert.Equal(t, "assistant", messages[1].(map[string]interface{})["role"])
	assert.Equal(t, float64(DefaultMaxOutputTokens), body["max_tokens"])
}

func TestAnthropicClient_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude",
			"content":[],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":0}}`))
	}))
	defer srv.Close()

	_, err := NewAnthropicClient(config.CompletionConfig{APIKey: "k", BaseURL: srv.URL}).
		Complete(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestAnthropicClient_ServerErrorIsSingleAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
	}))
	defer srv.Close()

	_, err := NewAnthropicClient(config.CompletionConfig{APIKey: "k", BaseURL: srv.URL}).
		Complete(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, IsRemote(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
