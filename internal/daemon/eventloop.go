package daemon

import (
	"context"
	"time"

	"github.com/harun/pagerelay/internal/observability"
	"github.com/harun/pagerelay/pkg/commandqueue"
)

const statsInterval = 30 * time.Second

// EventLoop reports queue activity and periodic stats
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: statsInterval,
	}
}

// Subscribe attaches log handlers to queue events.
func (e *EventLoop) Subscribe() {
	log := e.daemon.logger.Component("queue")

	e.daemon.queue.On("duplicate", func(ev commandqueue.Event) {
		log.Debug().Str("lane", ev.Lane).Interface("request_id", ev.Data["requestId"]).Msg("Duplicate event dropped")
	})
	e.daemon.queue.On("completed", func(ev commandqueue.Event) {
		log.Debug().
			Str("lane", ev.Lane).
			Str("task_id", ev.TaskID).
			Interface("duration_ms", ev.Data["duration"]).
			Interface("success", ev.Data["success"]).
			Msg("Event task completed")
	})
}

// Unsubscribe removes the handlers added by Subscribe.
func (e *EventLoop) Unsubscribe() {
	e.daemon.queue.Off("duplicate")
	e.daemon.queue.Off("completed")
}

// Run logs stats on every tick until ctx is done
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Info().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks()
		}
	}
}

// processTasks refreshes gauges and logs busy lanes
func (e *EventLoop) processTasks() {
	sessions := e.daemon.store.Len()
	observability.SetActiveSessions(sessions)

	stats := e.daemon.queue.GetStats()
	for lane, laneStats := range stats {
		if laneStats["queued"] > 0 || laneStats["running"] > 0 {
			e.daemon.logger.Debug().
				Str("lane", lane).
				Int("queued", laneStats["queued"]).
				Int("running", laneStats["running"]).
				Msg("Queue stats")
		}
	}

	e.daemon.logger.Debug().
		Int("sessions", sessions).
		Int("lanes", len(stats)).
		Int("pending", e.daemon.queue.Pending()).
		Msg("Relay stats")
}
