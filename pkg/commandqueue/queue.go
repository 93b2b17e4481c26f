package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/printdesk/internal/observability"
	"github.com/harun/printdesk/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrClosed is returned for tasks submitted to or still queued in a closed queue
	ErrClosed = errors.New("command queue closed")
	// ErrLaneCleared is returned for queued tasks dropped by ClearLane
	ErrLaneCleared = errors.New("lane cleared")
	// ErrDuplicate is returned when a task's request id was already seen
	ErrDuplicate = errors.New("duplicate request")
)

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	// RequestID drops the task if the same id was submitted within the dedup TTL
	RequestID   string
	WarnAfterMs int
	OnWait      func(waitMs int64, queuePos int)
}

// Result is the outcome of a submitted task
type Result struct {
	Value interface{}
	Err   error
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
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
	concurrency int
	queue       []*taskRecord
	running     int
	activeIDs   map[string]bool
	mu          sync.Mutex
}

// Option configures a CommandQueue
type Option func(*CommandQueue)

// WithDedupTTL sets how long request ids are remembered
func WithDedupTTL(ttl time.Duration) Option {
	return func(cq *CommandQueue) {
		cq.dedupTTL = ttl
	}
}

// CommandQueue provides lane-based task serialization. Lanes are created on
// first use with concurrency 1 and reclaimed once nothing is queued or running.
type CommandQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	closed    bool
	mu        sync.Mutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	dedupTTL  time.Duration
	dedup     *dedupCache
}

// New creates a new CommandQueue
func New(opts ...Option) *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	cq := &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(cq)
	}
	cq.dedup = newDedupCache(ctx, cq.dedupTTL)

	return cq
}

// Submit appends a task to the lane and returns a channel that receives its
// result. The task is queued before Submit returns, so tasks submitted in
// sequence by one goroutine run in that order.
func (cq *CommandQueue) Submit(ctx context.Context, lane string, task Task, options *TaskOptions) <-chan Result {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithLane(ctx, lane)

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	record := &taskRecord{
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan Result, 1),
	}

	if opts.RequestID != "" && cq.dedup.Seen(opts.RequestID) {
		log.Debug().Str("lane", lane).Str("requestId", opts.RequestID).Msg("Duplicate task dropped")
		record.finish(Result{Err: ErrDuplicate})
		return record.result
	}

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		record.finish(Result{Err: ErrClosed})
		return record.result
	}

	ls, exists := cq.lanes[lane]
	if !exists {
		ls = &laneState{
			concurrency: 1,
			activeIDs:   make(map[string]bool),
		}
		cq.lanes[lane] = ls
	}
	laneCount := len(cq.lanes)

	cq.taskIDSeq++
	record.id = fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()
	cq.mu.Unlock()

	if !exists {
		observability.SetActiveLanes(laneCount)
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("taskId", record.id).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)

	// Start warning timer if configured
	if opts.WarnAfterMs > 0 {
		go cq.startWarnTimer(record, lane, ls)
	}

	cq.processLane(lane, ls)

	return record.result
}

// Enqueue adds a task to the specified lane and waits for its result
func (cq *CommandQueue) Enqueue(lane string, task Task, options *TaskOptions) (interface{}, error) {
	return cq.EnqueueWithContext(context.Background(), lane, task, options)
}

// EnqueueWithContext adds a task to the specified lane, propagates context
// metadata and waits for its result.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"printdesk.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	result := <-cq.Submit(ctx, lane, task, options)
	tracing.SpanError(span, result.Err)
	return result.Value, result.Err
}

// processLane starts queued tasks while the lane has capacity
func (cq *CommandQueue) processLane(lane string, ls *laneState) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		ls.running++
		ls.activeIDs[record.id] = true

		logger := tracing.LoggerFromContext(record.ctx, log.Logger)
		logger.Debug().
			Str("taskId", record.id).
			Int("running", ls.running).
			Msg("Task started")

		cq.wg.Add(1)
		go cq.executeTask(lane, ls, record)
	}
}

// runTask executes the task, converting a panic into an error so the lane
// keeps draining.
func runTask(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// executeTask executes a single task
func (cq *CommandQueue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"printdesk.commandqueue",
		"commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()

	value, err := runTask(runCtx, record.task)

	duration := time.Since(startTime)

	// Update lane state and reclaim the lane when it drained
	cq.mu.Lock()
	ls.mu.Lock()
	ls.running--
	delete(ls.activeIDs, record.id)
	queueSize := len(ls.queue)
	idle := ls.running == 0 && queueSize == 0
	if idle && cq.lanes[lane] == ls {
		delete(cq.lanes, lane)
	}
	laneCount := len(cq.lanes)
	ls.mu.Unlock()
	cq.mu.Unlock()

	record.finish(Result{Value: value, Err: err})

	if err != nil {
		tracing.SpanError(span, err)
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

	if idle {
		observability.ForgetLane(lane)
		observability.SetActiveLanes(laneCount)
		return
	}

	// Process next task in queue
	cq.processLane(lane, ls)
}

// startWarnTimer starts a timer to warn about long wait times
func (cq *CommandQueue) startWarnTimer(record *taskRecord, lane string, ls *laneState) {
	timer := time.NewTimer(time.Duration(record.options.WarnAfterMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		// Check if task is still queued
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
	cq.mu.Lock()
	ls, exists := cq.lanes[lane]
	cq.mu.Unlock()

	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// GetRunningCount returns the number of currently executing tasks for a lane
func (cq *CommandQueue) GetRunningCount(lane string) int {
	cq.mu.Lock()
	ls, exists := cq.lanes[lane]
	cq.mu.Unlock()

	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// LaneCount returns the number of live lanes
func (cq *CommandQueue) LaneCount() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return len(cq.lanes)
}

// GetStats returns statistics for all lanes
func (cq *CommandQueue) GetStats() map[string]map[string]int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

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

// ClearLane rejects all queued tasks of a lane; running tasks are not affected
func (cq *CommandQueue) ClearLane(lane string) int {
	cq.mu.Lock()
	ls, exists := cq.lanes[lane]
	if !exists {
		cq.mu.Unlock()
		return 0
	}

	ls.mu.Lock()
	queued := ls.queue
	ls.queue = nil
	idle := ls.running == 0
	if idle {
		delete(cq.lanes, lane)
	}
	laneCount := len(cq.lanes)
	ls.mu.Unlock()
	cq.mu.Unlock()

	for _, record := range queued {
		record.finish(Result{Err: ErrLaneCleared})
	}

	if idle {
		observability.ForgetLane(lane)
		observability.SetActiveLanes(laneCount)
	}

	log.Info().Str("lane", lane).Int("cleared", len(queued)).Msg("Lane cleared")

	return len(queued)
}

func (cq *CommandQueue) rejectQueued(ls *laneState, err error) int {
	ls.mu.Lock()
	queued := ls.queue
	ls.queue = nil
	ls.mu.Unlock()

	for _, record := range queued {
		record.finish(Result{Err: err})
	}
	return len(queued)
}

// WaitForActive waits for all active tasks to complete with timeout
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		allDrained := true

		cq.mu.Lock()
		for _, ls := range cq.lanes {
			ls.mu.Lock()
			if len(ls.activeIDs) > 0 || len(ls.queue) > 0 {
				allDrained = false
			}
			ls.mu.Unlock()
		}
		cq.mu.Unlock()

		if allDrained {
			log.Debug().Msg("All active tasks completed")
			return true
		}

		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}

		<-ticker.C
	}
}

// Close rejects queued tasks, cancels running ones and waits for them to return
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	lanes := make([]*laneState, 0, len(cq.lanes))
	for _, ls := range cq.lanes {
		lanes = append(lanes, ls)
	}
	cq.mu.Unlock()

	for _, ls := range lanes {
		cq.rejectQueued(ls, ErrClosed)
	}

	cq.cancel()
	cq.wg.Wait()
	cq.dedup.Stop()
	return nil
}
