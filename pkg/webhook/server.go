package webhook

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/harun/pagerelay/internal/observability"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Server is the Messenger webhook HTTP server
type Server struct {
	options        ServerOptions
	server         *http.Server
	handler        http.Handler
	schema         *gojsonschema.Schema
	rateLimiter    *RateLimiter
	metricsTracker *MetricsTracker
	dispatcher     Dispatcher
	sessions       SessionCounter
	logger         zerolog.Logger
	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a webhook server that hands events to dispatcher.
// sessions may be nil.
func NewServer(options ServerOptions, dispatcher Dispatcher, sessions SessionCounter, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = DefaultPort
	}
	if options.Host == "" {
		options.Host = DefaultHost
	}
	if options.Path == "" {
		options.Path = DefaultPath
	}
	if options.RateLimitPerMinute == 0 {
		options.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if options.MaxBodyBytes == 0 {
		options.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if !strings.HasPrefix(options.Path, "/") {
		return nil, fmt.Errorf("webhook path must start with /")
	}
	switch options.Path {
	case "/", "/health", "/metrics":
		return nil, fmt.Errorf("webhook path %q is reserved", options.Path)
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	schema, err := compilePayloadSchema()
	if err != nil {
		return nil, err
	}

	s := &Server{
		options:        options,
		schema:         schema,
		rateLimiter:    NewRateLimiter(options.RateLimitPerMinute),
		metricsTracker: NewMetricsTracker(),
		dispatcher:     dispatcher,
		sessions:       sessions,
		logger:         logger.With().Str("component", "webhook").Logger(),
		startTime:      time.Now(),
	}
	s.handler = s.routes()
	s.server = &http.Server{
		Addr:              net.JoinHostPort(options.Host, fmt.Sprintf("%d", options.Port)),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mt := s.metricsTracker

	mux.HandleFunc("GET /{$}", mt.instrument("root", s.handleRoot))
	mux.HandleFunc("GET "+s.options.Path, mt.instrument("verify", s.limited(s.handleVerify)))
	mux.HandleFunc("POST "+s.options.Path, mt.instrument("events", s.limited(s.tracked(s.handleEvents))))
	mux.HandleFunc("GET /health", mt.instrument("health", s.handleHealth))
	mux.Handle("GET /metrics", observability.MetricsHandler())

	return mux
}

// Handler returns the routed handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("path", s.options.Path).
		Bool("signature_check", s.options.AppSecret != "").
		Msg("Starting webhook server")

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook server failed: %w", err)
	}

	return nil
}

// Stop rejects new events, waits for in-flight requests and shuts down the
// listener, all bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down webhook server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.rateLimiter.Stop()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown webhook server: %w", err)
	}

	s.logger.Info().Msg("Webhook server stopped")
	return nil
}

// Routes returns per-route request stats.
func (s *Server) Routes() []RouteStats {
	return s.metricsTracker.Routes()
}

// limited rejects requests over the per-IP rate.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.rateLimiter.Allow(ip) {
			retryAfter := s.rateLimiter.RetryAfter(ip)
			s.logger.Warn().
				Str("ip", ip).
				Str("path", r.URL.Path).
				Int("retry_after", retryAfter).
				Msg("Rate limit exceeded")

			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// tracked counts the request as in flight and refuses it once Stop has begun.
func (s *Server) tracked(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}
		s.inFlightReqs.Add(1)
		s.shutdownMu.RUnlock()
		defer s.inFlightReqs.Done()

		next(w, r)
	}
}

// clientIP extracts the client IP from the request
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
