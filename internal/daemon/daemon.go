package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/harun/pagerelay/internal/config"
	"github.com/harun/pagerelay/internal/logger"
	"github.com/harun/pagerelay/internal/observability"
	"github.com/harun/pagerelay/internal/tracing"
	"github.com/harun/pagerelay/pkg/commandqueue"
	"github.com/harun/pagerelay/pkg/completion"
	"github.com/harun/pagerelay/pkg/messenger"
	"github.com/harun/pagerelay/pkg/relay"
	"github.com/harun/pagerelay/pkg/session"
	"github.com/harun/pagerelay/pkg/webhook"
)

// Daemon wires the relay together and owns its lifecycle
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	store      *session.Store
	evictor    *session.Evictor
	queue      *commandqueue.CommandQueue
	completion completion.Client
	sender     messenger.Sender
	pipeline   *relay.Pipeline
	dispatcher *relay.Dispatcher

	webhookServer *webhook.Server
	listener      net.Listener
	serveErr      chan error

	eventLoop *EventLoop

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status is a point-in-time view of the daemon
type Status struct {
	Running        bool
	Uptime         time.Duration
	StartTime      time.Time
	ActiveSessions int
	ActiveLanes    int
	PendingTasks   int
}

// Option overrides a dependency New would otherwise build from config.
type Option func(*Daemon)

// WithCompletionClient replaces the provider client.
func WithCompletionClient(c completion.Client) Option {
	return func(d *Daemon) { d.completion = c }
}

// WithSender replaces the Send API client.
func WithSender(s messenger.Sender) Option {
	return func(d *Daemon) { d.sender = s }
}

// WithListener serves the webhook on ln instead of the configured address.
func WithListener(ln net.Listener) Option {
	return func(d *Daemon) { d.listener = ln }
}

// New creates a daemon from a validated configuration
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:   cfg,
		logger:   log,
		ctx:      ctx,
		cancel:   cancel,
		serveErr: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(d)
	}

	observability.EnsureRegistered()
	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Str("service", cfg.Tracing.ServiceName).Msg("Tracing initialized successfully")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		cancel()
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		cancel()
		d.queue.Close()
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.eventLoop = NewEventLoop(d)

	return d, nil
}

// initializeCoreModules builds the store, queue and remote clients
func (d *Daemon) initializeCoreModules() error {
	cfg := d.config

	storeOpts := []session.Option{session.WithTimeout(cfg.Session.Timeout)}
	if cfg.Session.MaxTurns > 0 {
		storeOpts = append(storeOpts, session.WithMaxTurns(cfg.Session.MaxTurns))
	}
	d.store = session.NewStore(storeOpts...)
	d.evictor = session.NewEvictor(d.store, cfg.Session.EvictionInterval, d.logger.GetZerolog())
	d.logger.Info().
		Dur("timeout", d.store.Timeout()).
		Dur("eviction_interval", d.evictor.Interval()).
		Int("max_turns", cfg.Session.MaxTurns).
		Msg("Session store initialized")

	d.queue = commandqueue.New(commandqueue.Config{DedupTTL: cfg.Webhook.DedupTTL})
	d.logger.Info().Dur("dedup_ttl", cfg.Webhook.DedupTTL).Msg("Command queue initialized")

	if d.completion == nil {
		client, err := completion.New(cfg.Completion)
		if err != nil {
			return fmt.Errorf("failed to create completion client: %w", err)
		}
		d.completion = client
	}
	d.logger.Info().Str("provider", d.completion.Provider()).Msg("Completion client initialized")

	if d.sender == nil {
		d.sender = messenger.NewClient(messenger.ClientConfig{
			BaseURL:         cfg.Messenger.BaseURL,
			APIVersion:      cfg.Messenger.APIVersion,
			PageAccessToken: cfg.Messenger.PageAccessToken,
			HTTPClient:      &http.Client{Timeout: cfg.Messenger.Timeout},
		})
	}
	d.logger.Info().Str("api_version", cfg.Messenger.APIVersion).Msg("Messenger client initialized")

	return nil
}

// initializeServices builds the pipeline, dispatcher and webhook server
func (d *Daemon) initializeServices() error {
	cfg := d.config

	d.pipeline = relay.NewPipeline(d.store, d.completion, d.sender, relay.Config{
		SystemPrompt:      cfg.SystemPrompt,
		MaxOutputTokens:   cfg.Completion.MaxOutputTokens,
		CompletionTimeout: cfg.Completion.Timeout,
		DeliveryTimeout:   cfg.Messenger.Timeout,
	}, d.logger.GetZerolog())
	d.dispatcher = relay.NewDispatcher(d.queue, d.pipeline, d.logger.GetZerolog())

	server, err := webhook.NewServer(webhook.ServerOptions{
		Host:               cfg.Webhook.Host,
		Port:               cfg.Webhook.Port,
		Path:               cfg.Webhook.Path,
		VerifyToken:        cfg.Messenger.VerifyToken,
		AppSecret:          cfg.Messenger.AppSecret,
		RateLimitPerMinute: cfg.Webhook.RateLimitPerMinute,
	}, d.dispatcher, d.store, d.logger.GetZerolog())
	if err != nil {
		return fmt.Errorf("failed to create webhook server: %w", err)
	}
	d.webhookServer = server

	return nil
}

// Start binds the webhook listener and starts background services
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting pagerelay daemon")

	if d.listener == nil {
		ln, err := net.Listen("tcp", d.webhookServer.Addr())
		if err != nil {
			d.setStopped()
			return fmt.Errorf("failed to listen on %s: %w", d.webhookServer.Addr(), err)
		}
		d.listener = ln
	}

	if err := d.evictor.Start(); err != nil {
		d.listener.Close()
		d.setStopped()
		return fmt.Errorf("failed to start evictor: %w", err)
	}
	logger.Info().Msg("Session evictor started")

	d.eventLoop.Subscribe()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.webhookServer.Serve(d.listener); err != nil {
			d.serveErr <- err
		}
	}()

	logger.Info().Str("addr", d.listener.Addr().String()).Msg("Daemon started successfully")

	return nil
}

// Stop shuts down in order: webhook ingress, in-flight events, evictor,
// background loops, tracer. Each step is bounded by the shutdown timeout.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping pagerelay daemon")

	ctx, cancel := context.WithTimeout(context.Background(), d.config.Webhook.ShutdownTimeout)
	defer cancel()

	var errs []error

	if err := d.webhookServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop webhook server")
		errs = append(errs, err)
	}

	if err := d.dispatcher.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to drain in-flight events")
		errs = append(errs, err)
	} else {
		logger.Info().Msg("In-flight events drained")
	}

	if d.evictor.IsRunning() {
		if err := d.evictor.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop evictor")
		}
	}

	d.eventLoop.Unsubscribe()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-ctx.Done():
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	d.shutdownTracing()

	logger.Info().Int("sessions", d.store.Len()).Msg("Daemon stopped")

	return errors.Join(errs...)
}

// Run starts the daemon and blocks until ctx is done or the webhook server
// fails, then stops it.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		d.logger.Info().Msg("Shutdown requested")
	case serveErr = <-d.serveErr:
		d.logger.Error().Err(serveErr).Msg("Webhook server failed")
	}

	return errors.Join(serveErr, d.Stop())
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:        d.running,
		ActiveSessions: d.store.Len(),
		ActiveLanes:    d.queue.LaneCount(),
		PendingTasks:   d.queue.Pending(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Addr returns the bound webhook address once started.
func (d *Daemon) Addr() string {
	if d.listener != nil {
		return d.listener.Addr().String()
	}
	return d.webhookServer.Addr()
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetStore returns the session store
func (d *Daemon) GetStore() *session.Store {
	return d.store
}

// GetDispatcher returns the event dispatcher
func (d *Daemon) GetDispatcher() *relay.Dispatcher {
	return d.dispatcher
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}
