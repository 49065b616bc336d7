package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/pagerelay/internal/tracing"
	"github.com/harun/pagerelay/pkg/commandqueue"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// Handler processes a single event.
type Handler interface {
	Handle(ctx context.Context, ev Event) (Result, error)
}

// Dispatcher runs events asynchronously, one lane per user.
type Dispatcher struct {
	queue   *commandqueue.CommandQueue
	handler Handler
	logger  zerolog.Logger
	wg      conc.WaitGroup
}

// NewDispatcher creates a dispatcher that runs handler on queue.
func NewDispatcher(queue *commandqueue.CommandQueue, handler Handler, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		handler: handler,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
	}
}

// LaneFor returns the queue lane used for a user.
func LaneFor(userID string) string {
	return "user:" + userID
}

// Dispatch enqueues ev and returns without waiting for it. Events for the same
// user run in the order Dispatch was called. A message id already seen within
// the queue's dedup window is dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	ctx = context.WithoutCancel(ctx)
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
	}
	if ev.MessageID != "" {
		ctx = tracing.WithRequestID(ctx, ev.MessageID)
		ctx = tracing.WithEventID(ctx, ev.MessageID)
	}
	ctx = tracing.WithUserID(ctx, ev.UserID)

	done := d.queue.Submit(ctx, LaneFor(ev.UserID), func(taskCtx context.Context) (interface{}, error) {
		return d.handler.Handle(taskCtx, ev)
	})

	logger := tracing.LoggerFromContext(ctx, d.logger)
	d.wg.Go(func() {
		res := <-done
		switch {
		case res.Err == nil:
		case errors.Is(res.Err, commandqueue.ErrDuplicate):
			logger.Info().Msg("Duplicate message ignored")
		default:
			logger.Error().Err(res.Err).Msg("Event handling failed")
		}
	})
}

// Wait blocks until every dispatched event has finished.
func (d *Dispatcher) Wait() {
	if recovered := d.wg.WaitAndRecover(); recovered != nil {
		d.logger.Error().Str("panic", fmt.Sprint(recovered.Value)).Msg("Dispatcher task panicked")
	}
}

// Shutdown waits for dispatched events until ctx is done, then closes the queue.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	waited := make(chan struct{})
	go func() {
		d.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		return d.queue.Close()
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for in-flight events: %w", ctx.Err())
	}
}

// Close waits for all events and releases the queue.
func (d *Dispatcher) Close() error {
	d.Wait()
	return d.queue.Close()
}
