package daemon

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/pagerelay/internal/config"
	"github.com/harun/pagerelay/internal/logger"
	"github.com/harun/pagerelay/pkg/completion"
	"github.com/harun/pagerelay/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompletion struct {
	mu       sync.Mutex
	requests []completion.Request
}

func (s *stubCompletion) Complete(ctx context.Context, req completion.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return "reply to " + req.History[len(req.History)-1].Text, nil
}

func (s *stubCompletion) Provider() string { return "stub" }

type stubSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *stubSender) Send(ctx context.Context, recipientID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, recipientID+":"+text)
	return nil
}

func (s *stubSender) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Messenger.VerifyToken = "verify"
	cfg.Messenger.PageAccessToken = "EAAtoken"
	cfg.Completion.APIKey = "AIzaTestKey"
	cfg.SystemPrompt = "You are a helpful page assistant."
	cfg.Webhook.Host = "127.0.0.1"
	cfg.Webhook.ShutdownTimeout = 5 * time.Second
	cfg.Logging.Console = false
	return cfg
}

func createTestDaemon(t *testing.T) (*Daemon, *stubCompletion, *stubSender) {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "info", Output: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	client := &stubCompletion{}
	sender := &stubSender{}
	d, err := New(testConfig(), log, WithCompletionClient(client), WithSender(sender), WithListener(ln))
	require.NoError(t, err)

	return d, client, sender
}

func TestNew(t *testing.T) {
	d, _, _ := createTestDaemon(t)

	assert.NotNil(t, d.store)
	assert.NotNil(t, d.evictor)
	assert.NotNil(t, d.queue)
	assert.NotNil(t, d.pipeline)
	assert.NotNil(t, d.dispatcher)
	assert.NotNil(t, d.webhookServer)
	assert.NotNil(t, d.eventLoop)
	assert.Equal(t, 30*time.Minute, d.GetStore().Timeout())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "info", Output: io.Discard})
	require.NoError(t, err)
	defer log.Close()

	cfg := testConfig()
	cfg.Messenger.VerifyToken = ""
	cfg.SystemPrompt = ""
	cfg.SystemPromptFile = ""

	_, err = New(cfg, log)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMissingVerifyToken)
	assert.ErrorIs(t, err, config.ErrMissingSystemPrompt)
}

func TestNewBuildsConfiguredProvider(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "info", Output: io.Discard})
	require.NoError(t, err)
	defer log.Close()

	cfg := testConfig()
	cfg.Completion.Provider = "openai"
	cfg.Completion.APIKey = "sk-test"

	d, err := New(cfg, log)
	require.NoError(t, err)
	assert.Equal(t, completion.ProviderOpenAI, d.completion.Provider())
	require.NoError(t, d.queue.Close())
}

func TestDaemonStartStop(t *testing.T) {
	d, _, _ := createTestDaemon(t)

	require.NoError(t, d.Start())
	assert.Error(t, d.Start(), "second start should fail")

	status := d.Status()
	assert.True(t, status.Running)
	assert.True(t, d.evictor.IsRunning())

	require.NoError(t, d.Stop())

	status = d.Status()
	assert.False(t, status.Running)
	assert.False(t, d.evictor.IsRunning())
	assert.Error(t, d.Stop(), "second stop should fail")
}

func TestDaemonRelaysWebhookEvents(t *testing.T) {
	d, client, sender := createTestDaemon(t)
	require.NoError(t, d.Start())

	base := "http://" + d.Addr()

	resp, err := http.Get(base + "/facebook?hub.mode=subscribe&hub.verify_token=verify&hub.challenge=abc")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc", string(body))

	payload := `{"object":"page","entry":[{"id":"p","time":1,"messaging":[
		{"sender":{"id":"u1"},"recipient":{"id":"p"},"timestamp":1,"message":{"mid":"m1","text":"first"}},
		{"sender":{"id":"u1"},"recipient":{"id":"p"},"timestamp":2,"message":{"mid":"m2","text":"second"}}
	]}]}`
	resp, err = http.Post(base+"/facebook", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "EVENT_RECEIVED", string(body))

	// Redelivery of the same batch is dropped.
	resp, err = http.Post(base+"/facebook", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, d.Stop())

	assert.Equal(t, []string{"u1:reply to first", "u1:reply to second"}, sender.messages())

	s, ok := d.GetStore().Get("u1")
	require.True(t, ok)
	history := s.History()
	require.Len(t, history, 4)
	assert.Equal(t, session.RoleUser, history[2].Role)
	assert.Equal(t, "second", history[2].Text)

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.requests, 2)
	assert.Equal(t, "You are a helpful page assistant.", client.requests[1].SystemPrompt)
	assert.Len(t, client.requests[1].History, 3)
}

func TestDaemonRunStopsOnContextCancel(t *testing.T) {
	d, _, _ := createTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.Status().Running }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, d.Status().Running)
}

func TestEventLoopProcessTasks(t *testing.T) {
	d, _, _ := createTestDaemon(t)
	d.store.Resolve("u1", time.Time{})

	assert.NotPanics(t, d.eventLoop.processTasks)
	assert.Equal(t, statsInterval, d.eventLoop.interval)
}

func TestEventLoopRunExitsOnCancel(t *testing.T) {
	d, _, _ := createTestDaemon(t)
	d.eventLoop.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.eventLoop.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event loop did not stop")
	}
}
