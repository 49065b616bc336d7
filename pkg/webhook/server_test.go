package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/pagerelay/pkg/relay"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []relay.Event
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, ev relay.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

func (d *recordingDispatcher) dispatched() []relay.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]relay.Event(nil), d.events...)
}

type fixedSessions int

func (f fixedSessions) Len() int { return int(f) }

const pagePayload = `{
	"object": "page",
	"entry": [{
		"id": "page-1",
		"time": 1700000000000,
		"messaging": [
			{"sender": {"id": "u1"}, "recipient": {"id": "page-1"}, "timestamp": 1700000000000, "message": {"mid": "m.1", "text": "hello"}},
			{"sender": {"id": "u2"}, "recipient": {"id": "page-1"}, "timestamp": 1700000000001, "message": {"mid": "m.2", "text": "hi"}}
		]
	}]
}`

func newTestServer(t *testing.T, opts ServerOptions) (*Server, *recordingDispatcher) {
	t.Helper()
	if opts.VerifyToken == "" {
		opts.VerifyToken = "verify-me"
	}
	d := &recordingDispatcher{}
	s, err := NewServer(opts, d, fixedSessions(3), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(s.rateLimiter.Stop)
	return s, d
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func postEvents(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/facebook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestNewServerDefaults(t *testing.T) {
	s, _ := newTestServer(t, ServerOptions{})

	assert.Equal(t, DefaultPort, s.options.Port)
	assert.Equal(t, DefaultHost, s.options.Host)
	assert.Equal(t, DefaultPath, s.options.Path)
	assert.Equal(t, DefaultRateLimitPerMinute, s.options.RateLimitPerMinute)
	assert.Equal(t, int64(DefaultMaxBodyBytes), s.options.MaxBodyBytes)
	assert.Equal(t, "0.0.0.0:3000", s.Addr())
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(ServerOptions{}, nil, nil, zerolog.Nop())
	assert.ErrorContains(t, err, "dispatcher is required")

	_, err = NewServer(ServerOptions{Path: "facebook"}, &recordingDispatcher{}, nil, zerolog.Nop())
	assert.ErrorContains(t, err, "must start with /")

	_, err = NewServer(ServerOptions{Path: "/health"}, &recordingDispatcher{}, nil, zerolog.Nop())
	assert.ErrorContains(t, err, "reserved")
}

func TestHandleRoot(t *testing.T) {
	s, _ := newTestServer(t, ServerOptions{})

	rec := do(s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Server is running", rec.Body.String())

	rec = do(s, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleVerify(t *testing.T) {
	s, _ := newTestServer(t, ServerOptions{})

	tests := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"valid", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", http.StatusForbidden, "Forbidden"},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusForbidden, "Forbidden"},
		{"missing params", "", http.StatusForbidden, "Forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, httptest.NewRequest(http.MethodGet, "/facebook?"+tt.query, nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}
}

func TestHandleEventsDispatchesEveryMessage(t *testing.T) {
	s, d := newTestServer(t, ServerOptions{})

	before := time.Now()
	rec := do(s, postEvents(pagePayload))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, EventReceived, rec.Body.String())

	events := d.dispatched()
	require.Len(t, events, 2)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Equal(t, "hello", events[0].Text)
	assert.Equal(t, "m.1", events[0].MessageID)
	assert.False(t, events[0].ReceivedAt.Before(before))
	assert.Equal(t, "u2", events[1].UserID)
}

func TestHandleEventsNonPageObject(t *testing.T) {
	s, d := newTestServer(t, ServerOptions{})

	rec := do(s, postEvents(`{"object":"instagram","entry":[]}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, d.dispatched())
}

func TestHandleEventsPageWithoutMessages(t *testing.T) {
	s, d := newTestServer(t, ServerOptions{})

	rec := do(s, postEvents(`{"object":"page","entry":[{"id":"p","time":1,"messaging":[{"sender":{"id":"u1"},"recipient":{"id":"p"},"timestamp":1}]}]}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, EventReceived, rec.Body.String())
	assert.Empty(t, d.dispatched())
}

func TestHandleEventsRejectsInvalidPayload(t *testing.T) {
	s, d := newTestServer(t, ServerOptions{})

	for name, body := range map[string]string{
		"not json":        `{"object":`,
		"missing object":  `{"entry":[]}`,
		"numeric sender":  `{"object":"page","entry":[{"messaging":[{"sender":{"id":42},"message":{"text":"x"}}]}]}`,
		"text not string": `{"object":"page","entry":[{"messaging":[{"sender":{"id":"u"},"message":{"text":1}}]}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(s, postEvents(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, d.dispatched())
}

func TestHandleEventsBodyTooLarge(t *testing.T) {
	s, d := newTestServer(t, ServerOptions{MaxBodyBytes: 64})

	rec := do(s, postEvents(pagePayload))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, d.dispatched())
}

func TestHandleEventsSignature(t *testing.T) {
	s, d := newTestServer(t, ServerOptions{AppSecret: "app-secret"})

	t.Run("missing", func(t *testing.T) {
		rec := do(s, postEvents(pagePayload))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid", func(t *testing.T) {
		req := postEvents(pagePayload)
		req.Header.Set(SignatureHeader, computeSignature([]byte(pagePayload), "wrong"))
		rec := do(s, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	assert.Empty(t, d.dispatched())

	t.Run("valid", func(t *testing.T) {
		req := postEvents(pagePayload)
		req.Header.Set(SignatureHeader, computeSignature([]byte(pagePayload), "app-secret"))
		rec := do(s, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, d.dispatched(), 2)
	})
}

func TestHandleEventsMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, ServerOptions{})

	rec := do(s, httptest.NewRequest(http.MethodPut, "/facebook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, ServerOptions{RateLimitPerMinute: 2})

	for i := 0; i < 2; i++ {
		req := postEvents(pagePayload)
		req.RemoteAddr = "10.0.0.1:5555"
		assert.Equal(t, http.StatusOK, do(s, req).Code)
	}

	req := postEvents(pagePayload)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := do(s, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	other := postEvents(pagePayload)
	other.RemoteAddr = "10.0.0.2:5555"
	assert.Equal(t, http.StatusOK, do(s, other).Code)
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t, ServerOptions{})
	do(s, httptest.NewRequest(http.MethodGet, "/", nil))

	rec := do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 3, health.ActiveSessions)
	require.NotEmpty(t, health.Routes)
	assert.Equal(t, "root", health.Routes[0].Route)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, ServerOptions{})
	do(s, postEvents(pagePayload))

	rec := do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pagerelay_webhook_requests_total")
}

func TestStopRejectsNewEvents(t *testing.T) {
	s, d := newTestServer(t, ServerOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	rec := do(s, postEvents(pagePayload))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, d.dispatched())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.10:40000"
	assert.Equal(t, "192.168.1.10", clientIP(req))

	req.Header.Set("X-Real-IP", "10.1.1.1")
	assert.Equal(t, "10.1.1.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", clientIP(req))
}

func TestServeAndStop(t *testing.T) {
	s, d := newTestServer(t, ServerOptions{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/facebook", "application/json", strings.NewReader(pagePayload))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, EventReceived, string(body))
	assert.Len(t, d.dispatched(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, <-served)
}
