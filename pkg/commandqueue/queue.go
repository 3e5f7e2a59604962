package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "parley.commandqueue"

// Default lanes
const (
	LanePersist = "persist"
)

var (
	// ErrClosed is returned for tasks submitted after Close.
	ErrClosed = errors.New("command queue closed")
	// ErrLaneCleared is returned for queued tasks dropped by ClearLane.
	ErrLaneCleared = errors.New("lane cleared")
	// ErrLaneReset is returned for queued tasks dropped by ResetLane.
	ErrLaneReset = errors.New("lane reset")
)

// SessionLane returns the lane that serializes turns of one chat session.
func SessionLane(sessionID string) string {
	return "session:" + sessionID
}

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	WarnAfterMs int
	OnWait      func(waitMs int64, queuePos int)
}

// Result is the outcome of a submitted task.
type Result struct {
	Value interface{}
	Err   error
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	generation int
	enqueuedAt time.Time
	options    TaskOptions
	result     chan Result
}

func (r *taskRecord) finish(res Result) {
	r.result <- res
	close(r.result)
}

// laneState manages execution state for a single lane
type laneState struct {
	generation  int
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// CommandQueue provides lane-based task serialization with concurrency control
type CommandQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	closed    bool
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a new CommandQueue with default lanes
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	cq := &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}

	// Transcript writes keep their order.
	cq.initLane(LanePersist, 1)

	return cq
}

// initLane initializes a lane with specified concurrency
func (cq *CommandQueue) initLane(lane string, concurrency int) *laneState {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, exists := cq.lanes[lane]
	if !exists {
		ls = &laneState{
			concurrency: concurrency,
			queue:       make([]*taskRecord, 0),
		}
		cq.lanes[lane] = ls
		log.Debug().Str("lane", lane).Int("concurrency", concurrency).Msg("Lane initialized")
	}
	return ls
}

// lane returns an existing lane state
func (cq *CommandQueue) lane(lane string) (*laneState, bool) {
	cq.mu.RLock()
	defer cq.mu.RUnlock()
	ls, ok := cq.lanes[lane]
	return ls, ok
}

// ensureLane creates a lane if it doesn't exist
func (cq *CommandQueue) ensureLane(lane string) *laneState {
	if ls, ok := cq.lane(lane); ok {
		return ls
	}
	return cq.initLane(lane, 1)
}

// EnqueueWithContext adds a task to the specified lane, propagates context
// metadata, and waits for its result.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	result := <-cq.Submit(ctx, lane, task, options)
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}
	return result.Value, result.Err
}

// Submit adds a task to the specified lane without waiting. The returned
// channel receives exactly one Result and is then closed; callers may ignore it.
func (cq *CommandQueue) Submit(ctx context.Context, lane string, task Task, options *TaskOptions) <-chan Result {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", lane).Logger()

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		ch := make(chan Result, 1)
		ch <- Result{Err: ErrClosed}
		close(ch)
		return ch
	}
	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	cq.mu.Unlock()

	ls := cq.ensureLane(lane)

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan Result, 1),
	}

	ls.mu.Lock()
	record.generation = ls.generation
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger.Debug().
		Str("taskId", taskID).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)

	if opts.WarnAfterMs > 0 {
		go cq.startWarnTimer(record, lane)
	}

	go cq.processLane(lane)

	return record.result
}

// processLane processes queued tasks for a lane
func (cq *CommandQueue) processLane(lane string) {
	ls, ok := cq.lane(lane)
	if !ok {
		return
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		// Stale task from a previous generation
		if record.generation != ls.generation {
			record.finish(Result{Err: fmt.Errorf("task cancelled due to restart")})
			continue
		}

		if cq.ctx.Err() != nil {
			record.finish(Result{Err: ErrClosed})
			continue
		}

		if err := record.ctx.Err(); err != nil {
			record.finish(Result{Err: err})
			continue
		}

		ls.running++

		logger := tracing.LoggerFromContext(record.ctx, log.Logger)
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Int("running", ls.running).
			Msg("Task started")

		cq.wg.Add(1)
		go cq.executeTask(lane, ls, record)
	}
}

// executeTask executes a single task
func (cq *CommandQueue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		tracerName,
		"commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("lane", lane).Logger()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()

	value, err := cq.run(runCtx, record.task)

	duration := time.Since(startTime)

	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.finish(Result{Value: value, Err: err})

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

	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	go cq.processLane(lane)
}

// run executes a task and converts a panic into an error so the lane keeps draining.
func (cq *CommandQueue) run(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// startWarnTimer starts a timer to warn about long wait times
func (cq *CommandQueue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(time.Duration(record.options.WarnAfterMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls, ok := cq.lane(lane)
		if !ok {
			return
		}
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
			waitMs := time.Since(record.enqueuedAt).Milliseconds()
			log.Warn().
				Str("lane", lane).
				Str("taskId", record.id).
				Int64("waitMs", waitMs).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(waitMs, queuePos)
			}
		}
	case <-cq.ctx.Done():
		return
	}
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	ls, exists := cq.lane(lane)
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// GetStats returns statistics for all lanes
func (cq *CommandQueue) GetStats() map[string]map[string]int {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]map[string]int)
	for lane, ls := range cq.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}

	return stats
}

// ClearLane removes all queued tasks from a lane
func (cq *CommandQueue) ClearLane(lane string) int {
	ls, exists := cq.lane(lane)
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	count := len(ls.queue)
	for _, record := range ls.queue {
		record.finish(Result{Err: ErrLaneCleared})
	}
	ls.queue = make([]*taskRecord, 0)

	log.Info().Str("lane", lane).Int("cleared", count).Msg("Lane cleared")
	observability.SetQueueSize(lane, 0)

	return count
}

// ResetLane increments the generation counter for a lane
func (cq *CommandQueue) ResetLane(lane string) {
	ls, exists := cq.lane(lane)
	if !exists {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.generation++
	for _, record := range ls.queue {
		record.finish(Result{Err: ErrLaneReset})
	}
	ls.queue = make([]*taskRecord, 0)

	log.Info().Str("lane", lane).Int("generation", ls.generation).Msg("Lane reset")
	observability.SetQueueSize(lane, 0)
}

// WaitForLane waits until a lane has no queued or running tasks
func (cq *CommandQueue) WaitForLane(lane string, timeout time.Duration) bool {
	return cq.waitUntil(timeout, func() bool {
		ls, ok := cq.lane(lane)
		if !ok {
			return true
		}
		ls.mu.Lock()
		defer ls.mu.Unlock()
		return len(ls.queue) == 0 && ls.running == 0
	})
}

func (cq *CommandQueue) waitUntil(timeout time.Duration, done func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if done() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
}

// Close cancels running tasks, rejects queued ones, and waits for workers to exit
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	lanes := make([]string, 0, len(cq.lanes))
	for lane := range cq.lanes {
		lanes = append(lanes, lane)
	}
	cq.mu.Unlock()

	cq.cancel()
	for _, lane := range lanes {
		cq.ResetLane(lane)
	}
	cq.wg.Wait()
	return nil
}
