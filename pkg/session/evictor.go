package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/harun/pagerelay/internal/observability"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultEvictionInterval = 10 * time.Minute

// Evictor periodically removes expired sessions from a Store.
type Evictor struct {
	store    *Store
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewEvictor creates an evictor for store. A non-positive interval uses
// DefaultEvictionInterval.
func NewEvictor(store *Store, interval time.Duration, logger zerolog.Logger) *Evictor {
	if interval <= 0 {
		interval = DefaultEvictionInterval
	}
	return &Evictor{
		store:    store,
		interval: interval,
		logger:   logger.With().Str("component", "evictor").Logger(),
	}
}

func (e *Evictor) Interval() time.Duration {
	return e.interval
}

// Start schedules the sweep. It returns an error when already running.
func (e *Evictor) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("evictor is already running")
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{e.logger}),
		cron.SkipIfStillRunning(cronLogger{e.logger}),
	))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", e.interval), func() { e.SweepNow() }); err != nil {
		return fmt.Errorf("failed to schedule eviction: %w", err)
	}
	c.Start()

	e.cron = c
	e.running = true
	e.logger.Info().Dur("interval", e.interval).Dur("timeout", e.store.Timeout()).Msg("Session evictor started")
	return nil
}

// Stop cancels the schedule and waits for a sweep in progress to finish.
func (e *Evictor) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return fmt.Errorf("evictor is not running")
	}
	c := e.cron
	e.cron = nil
	e.running = false
	e.mu.Unlock()

	<-c.Stop().Done()
	e.logger.Info().Msg("Session evictor stopped")
	return nil
}

func (e *Evictor) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// SweepNow runs one sweep synchronously and returns how many sessions were removed.
func (e *Evictor) SweepNow() int {
	start := time.Now()
	removed := e.store.Sweep(e.store.Now())
	observability.RecordEvictionSweep(time.Since(start), len(removed))

	if len(removed) > 0 {
		e.logger.Info().
			Int("removed", len(removed)).
			Int("remaining", e.store.Len()).
			Msg("Evicted expired sessions")
	}
	return len(removed)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
