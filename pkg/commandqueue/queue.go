package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/pagerelay/internal/observability"
	"github.com/harun/pagerelay/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrDuplicate is returned when a task carries a request id that was
	// already submitted within the dedup TTL.
	ErrDuplicate = errors.New("duplicate request")
	// ErrClosed is returned when submitting to a closed queue.
	ErrClosed = errors.New("command queue closed")
)

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// Result is the outcome of a task.
type Result struct {
	Value interface{}
	Err   error
}

// Config tunes a CommandQueue.
type Config struct {
	// DedupTTL is how long a request id is remembered. Zero uses the default.
	DedupTTL time.Duration
	// WarnAfter logs a warning when a task waits in its lane longer than this.
	WarnAfter time.Duration
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	result     chan Result
}

// laneState manages execution state for a single lane
type laneState struct {
	name      string
	queue     []*taskRecord
	running   bool
	activeIDs map[string]bool
	mu        sync.Mutex
}

// EventHandler is a function that handles queue events
type EventHandler func(event Event)

// Event represents a queue event
type Event struct {
	Type   string                 // "enqueued", "completed" or "duplicate"
	Lane   string                 // Lane name
	TaskID string                 // Task ID
	Data   map[string]interface{} // Additional event data
}

// CommandQueue provides lane-based task serialization
type CommandQueue struct {
	lanes   map[string]*laneState
	pending int
	closed  bool
	mu      sync.Mutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	dedup     *dedupCache
	warnAfter time.Duration

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// New creates a new CommandQueue
func New(cfg Config) *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	return &CommandQueue{
		lanes:         make(map[string]*laneState),
		ctx:           ctx,
		cancel:        cancel,
		dedup:         newDedupCache(ctx, cfg.DedupTTL),
		warnAfter:     cfg.WarnAfter,
		eventHandlers: make(map[string][]EventHandler),
	}
}

// Enqueue adds a task to the specified lane and waits for its result
func (cq *CommandQueue) Enqueue(lane string, task Task) (interface{}, error) {
	return cq.EnqueueWithContext(context.Background(), lane, task)
}

// EnqueueWithContext adds a task to the specified lane, propagates context
// metadata and waits for the result.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, lane string, task Task) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"pagerelay.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	result := <-cq.Submit(ctx, lane, task)
	if result.Err != nil && !errors.Is(result.Err, ErrDuplicate) {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}
	return result.Value, result.Err
}

// Submit appends a task to the lane before returning, so the order of Submit
// calls is the execution order within a lane. The returned channel receives
// exactly one Result.
func (cq *CommandQueue) Submit(ctx context.Context, lane string, task Task) <-chan Result {
	if ctx == nil {
		ctx = context.Background()
	}
	out := make(chan Result, 1)

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", lane).Logger()

	if requestID := tracing.GetRequestID(ctx); requestID != "" {
		if !cq.dedup.Reserve(requestID) {
			logger.Debug().Str("request_id", requestID).Msg("Duplicate task skipped")
			observability.RecordDedupHit()
			cq.emit(Event{Type: "duplicate", Lane: lane, Data: map[string]interface{}{"requestId": requestID}})
			out <- Result{Err: ErrDuplicate}
			close(out)
			return out
		}
	}

	taskID, err := gonanoid.New()
	if err != nil {
		taskID = fmt.Sprintf("%s-%d", lane, time.Now().UnixNano())
	}

	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     out,
	}

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		out <- Result{Err: ErrClosed}
		close(out)
		return out
	}
	ls, exists := cq.lanes[lane]
	if !exists {
		ls = &laneState{name: lane, activeIDs: make(map[string]bool)}
		cq.lanes[lane] = ls
	}
	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()
	cq.pending++
	pending, lanes := cq.pending, len(cq.lanes)
	cq.wg.Add(1)
	cq.mu.Unlock()

	logger.Debug().
		Str("taskId", taskID).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(pending, lanes)

	cq.emit(Event{
		Type:   "enqueued",
		Lane:   lane,
		TaskID: taskID,
		Data: map[string]interface{}{
			"queueSize": queueSize,
		},
	})

	if cq.warnAfter > 0 {
		go cq.startWarnTimer(record, ls)
	}

	cq.processLane(ls)
	return out
}

// processLane starts the next queued task when the lane is idle
func (cq *CommandQueue) processLane(ls *laneState) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.running || len(ls.queue) == 0 {
		return
	}

	record := ls.queue[0]
	ls.queue = ls.queue[1:]
	ls.running = true
	ls.activeIDs[record.id] = true

	go cq.executeTask(ls, record)
}

// executeTask executes a single task
func (cq *CommandQueue) executeTask(ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"pagerelay.commandqueue",
		"commandqueue.execute_task",
		attribute.String("lane", ls.name),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("lane", ls.name).Logger()

	startTime := time.Now()
	value, err := cq.run(taskCtx, record.task)
	duration := time.Since(startTime)

	cq.mu.Lock()
	ls.mu.Lock()
	ls.running = false
	delete(ls.activeIDs, record.id)
	idle := len(ls.queue) == 0
	if idle && cq.lanes[ls.name] == ls {
		delete(cq.lanes, ls.name)
	}
	ls.mu.Unlock()
	cq.pending--
	pending, lanes := cq.pending, len(cq.lanes)
	cq.mu.Unlock()

	record.result <- Result{Value: value, Err: err}
	close(record.result)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(duration, err == nil, pending, lanes)

	cq.emit(Event{
		Type:   "completed",
		Lane:   ls.name,
		TaskID: record.id,
		Data: map[string]interface{}{
			"duration": duration.Milliseconds(),
			"success":  err == nil,
		},
	})

	if !idle {
		cq.processLane(ls)
	}
}

// run executes the task, converting a panic into an error so the lane keeps draining.
func (cq *CommandQueue) run(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// startWarnTimer starts a timer to warn about long wait times
func (cq *CommandQueue) startWarnTimer(record *taskRecord, ls *laneState) {
	timer := time.NewTimer(cq.warnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			log.Warn().
				Str("lane", ls.name).
				Str("taskId", record.id).
				Int64("waitMs", time.Since(record.enqueuedAt).Milliseconds()).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")
		}
	case <-cq.ctx.Done():
		return
	}
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, exists := cq.lanes[lane]
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// LaneCount returns the number of lanes with queued or running tasks
func (cq *CommandQueue) LaneCount() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return len(cq.lanes)
}

// Pending returns the number of queued plus running tasks across all lanes
func (cq *CommandQueue) Pending() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.pending
}

// GetStats returns statistics for all lanes
func (cq *CommandQueue) GetStats() map[string]map[string]int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	stats := make(map[string]map[string]int)
	for lane, ls := range cq.lanes {
		ls.mu.Lock()
		running := 0
		if ls.running {
			running = 1
		}
		stats[lane] = map[string]int{
			"queued":  len(ls.queue),
			"running": running,
		}
		ls.mu.Unlock()
	}

	return stats
}

// WaitForActive waits for all queued and running tasks to complete with timeout
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if cq.Pending() == 0 {
			log.Info().Msg("All active tasks completed")
			return true
		}

		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}

		<-ticker.C
	}
}

// Close rejects new submissions and waits for queued tasks to finish
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	cq.mu.Unlock()

	cq.wg.Wait()
	cq.cancel()
	cq.dedup.Stop()
	return nil
}

// On registers an event handler for a specific event type
func (cq *CommandQueue) On(eventType string, handler EventHandler) {
	cq.eventMu.Lock()
	defer cq.eventMu.Unlock()

	cq.eventHandlers[eventType] = append(cq.eventHandlers[eventType], handler)
}

// Off removes an event handler (removes all handlers for the event type)
func (cq *CommandQueue) Off(eventType string) {
	cq.eventMu.Lock()
	defer cq.eventMu.Unlock()

	delete(cq.eventHandlers, eventType)
}

// emit emits an event synchronously to all registered handlers
func (cq *CommandQueue) emit(event Event) {
	cq.eventMu.RLock()
	handlers := cq.eventHandlers[event.Type]
	cq.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
