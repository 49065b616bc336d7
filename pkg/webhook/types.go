package webhook

import (
	"context"
	"time"

	"github.com/harun/pagerelay/pkg/relay"
)

const (
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 3000
	DefaultPath               = "/facebook"
	DefaultRateLimitPerMinute = 600
	DefaultMaxBodyBytes       = 1 << 20

	// SignatureHeader carries the HMAC-SHA256 of the raw body, keyed by the app secret.
	SignatureHeader = "X-Hub-Signature-256"

	// EventReceived is the acknowledgement body for accepted event batches.
	EventReceived = "EVENT_RECEIVED"
)

// Dispatcher accepts events for asynchronous handling.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev relay.Event)
}

// SessionCounter reports the number of live sessions for /health.
type SessionCounter interface {
	Len() int
}

// ServerOptions configures the webhook server
type ServerOptions struct {
	Host               string // default "0.0.0.0"
	Port               int    // default 3000
	Path               string // webhook route, default "/facebook"
	VerifyToken        string // hub.verify_token expected during subscription
	AppSecret          string // enables X-Hub-Signature-256 checks when set
	RateLimitPerMinute int    // requests per minute per IP, default 600
	MaxBodyBytes       int64  // default 1 MiB
}

// RouteStats tracks request outcomes for one route
type RouteStats struct {
	Route               string  `json:"route"`
	TotalRequests       int64   `json:"totalRequests"`
	SuccessCount        int64   `json:"successCount"`
	FailureCount        int64   `json:"failureCount"`
	AverageResponseTime float64 `json:"averageResponseTime"` // milliseconds
	LastRequestAt       int64   `json:"lastRequestAt,omitempty"`
}

// HealthResponse is the body served at /health
type HealthResponse struct {
	Status         string       `json:"status"`
	Uptime         float64      `json:"uptime"`
	ActiveSessions int          `json:"activeSessions"`
	Routes         []RouteStats `json:"routes"`
	Timestamp      int64        `json:"timestamp"`
}

type rateLimitState struct {
	requests []time.Time
}
