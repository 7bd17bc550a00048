// Package queue implements the durable operation queue of the sync
// pipeline. It persists pending mutations keyed by entity, cancels
// contradictory operations at enqueue time, processes batches through an
// injected processor callback, retries with jittered exponential backoff,
// and dead-letters operations that exhaust their retries.
//
// The queue never fails fatally: remote errors surface only through the
// processor callback and are either retried or dead-lettered.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syncwell/commentsync/comment"
	syncErrors "github.com/syncwell/commentsync/errors"
	"github.com/syncwell/commentsync/logging"
	"github.com/syncwell/commentsync/metrics"
)

const component = "queue"

// Processor pushes one operation to the remote collaborator. It is the only
// place remote errors enter the queue.
type Processor func(ctx context.Context, op *Operation) error

// Options configures queue behavior. Zero fields take the defaults below.
type Options struct {
	// MaxRetryAttempts is the failure count at which an operation is
	// dead-lettered. Default 5.
	MaxRetryAttempts int

	// MaxConcurrentOperations bounds each processing batch. Default 3.
	MaxConcurrentOperations int

	// InitialBackoff is the pre-jitter delay after the first failure.
	// Default 2s.
	InitialBackoff time.Duration

	// MaxBackoff caps the pre-jitter delay. Default 5m.
	MaxBackoff time.Duration

	// JitterFactor scales the jitter applied to each delay. Default 0.2.
	JitterFactor float64

	// AutoProcess enables the periodic processing timer and the
	// post-enqueue trigger. Default off.
	AutoProcess bool

	// AutoProcessInterval is the periodic timer interval. Default 30s.
	AutoProcessInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxRetryAttempts <= 0 {
		o.MaxRetryAttempts = 5
	}
	if o.MaxConcurrentOperations <= 0 {
		o.MaxConcurrentOperations = 3
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 2 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	if o.JitterFactor <= 0 {
		o.JitterFactor = 0.2
	}
	if o.AutoProcessInterval <= 0 {
		o.AutoProcessInterval = 30 * time.Second
	}
}

// Queue coordinates the durable operation queue.
type Queue struct {
	store      OperationStore
	deadLetter DeadLetterStore
	opts       Options
	backoff    *backoff
	logger     *logging.Logger
	metrics    metrics.Collector
	now        func() time.Time

	mu         sync.Mutex
	processor  Processor
	processing bool
	started    bool
	stopAuto   chan struct{}

	// trigger coalesces post-enqueue processing requests to the next
	// scheduler tick.
	trigger chan struct{}
}

// Option configures a Queue at construction time.
type Option func(*Queue) error

// WithStores injects the main and dead-letter stores.
func WithStores(store OperationStore, deadLetter DeadLetterStore) Option {
	return func(q *Queue) error {
		q.store = store
		q.deadLetter = deadLetter
		return nil
	}
}

// WithProcessor injects the processor callback.
func WithProcessor(p Processor) Option {
	return func(q *Queue) error {
		q.processor = p
		return nil
	}
}

// WithOptions overrides the default Options.
func WithOptions(opts Options) Option {
	return func(q *Queue) error {
		q.opts = opts
		return nil
	}
}

// WithLogger injects a logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) error {
		if l == nil {
			return errors.New("logger must not be nil")
		}
		q.logger = l
		return nil
	}
}

// WithMetrics injects a metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(q *Queue) error {
		if c == nil {
			return errors.New("metrics collector must not be nil")
		}
		q.metrics = c
		return nil
	}
}

// WithClock injects the time source. Tests use this to step through
// backoff windows without sleeping.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		q.now = now
		return nil
	}
}

// withRandom injects the jitter source; test-only.
func withRandom(r func() float64) Option {
	return func(q *Queue) error {
		q.backoff.random = r
		return nil
	}
}

// New constructs a Queue. Without WithStores it runs on in-memory stores.
func New(opts ...Option) (*Queue, error) {
	q := &Queue{
		store:      NewMemoryStore(),
		deadLetter: NewMemoryDeadLetterStore(),
		logger:     logging.Default().WithComponent(logging.Component(component)),
		metrics:    &metrics.NoOpCollector{},
		now:        time.Now,
		trigger:    make(chan struct{}, 1),
	}
	q.opts.setDefaults()
	q.backoff = newBackoff(q.opts.InitialBackoff, q.opts.MaxBackoff, q.opts.JitterFactor)

	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, syncErrors.NewInvalid(syncErrors.OpInitialize, component, err)
		}
	}

	// WithOptions may have replaced opts after the first default pass.
	q.opts.setDefaults()
	q.backoff.initial = q.opts.InitialBackoff
	q.backoff.max = q.opts.MaxBackoff
	q.backoff.jitter = q.opts.JitterFactor

	if q.store == nil || q.deadLetter == nil {
		return nil, syncErrors.NewInvalid(syncErrors.OpInitialize, component,
			errors.New("operation and dead-letter stores are required"))
	}

	return q, nil
}

// SetProcessor wires the processor callback. The engine calls this during
// its own initialization.
func (q *Queue) SetProcessor(p Processor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processor = p
}

// Enqueue persists a new pending operation after cancelling contradictory
// pending operations for the same entity:
//
//   - a new delete cancels a pending create for the entity;
//   - a new create cancels a pending delete (resurrection);
//   - a new update cancels an older pending update (collapse to newest).
func (q *Queue) Enqueue(ctx context.Context, kind Kind, entityKind, entityID, channelID string, payload comment.Payload, priority int) (*Operation, error) {
	if entityKind == "" || entityID == "" {
		return nil, syncErrors.NewInvalid(syncErrors.OpEnqueue, component,
			errors.New("entity kind and entity id are required"))
	}
	switch kind {
	case KindCreate, KindUpdate, KindDelete:
	default:
		return nil, syncErrors.NewInvalid(syncErrors.OpEnqueue, component,
			fmt.Errorf("unknown operation kind %q", kind))
	}
	if err := payload.Validate(); err != nil {
		return nil, syncErrors.NewInvalid(syncErrors.OpEnqueue, component, err)
	}

	if err := q.cancelContradictory(ctx, kind, entityKind, entityID); err != nil {
		return nil, err
	}

	op := Operation{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityKind: entityKind,
		EntityID:   entityID,
		ChannelID:  channelID,
		Payload:    payload,
		Status:     StatusPending,
		Priority:   priority,
		CreatedAt:  q.now(),
	}

	if err := q.store.Insert(ctx, op); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpEnqueue, component, err)
	}

	q.logger.DebugContext(ctx, "operation enqueued",
		slog.String("operation_id", op.ID),
		slog.String("kind", string(op.Kind)),
		slog.String("entity_id", op.EntityID),
		slog.String("channel_id", op.ChannelID),
		slog.Int("priority", op.Priority))
	q.recordDepth(ctx)
	q.requestProcessing()

	return &op, nil
}

// cancelContradictory applies the enqueue-time cancellation rules.
func (q *Queue) cancelContradictory(ctx context.Context, kind Kind, entityKind, entityID string) error {
	pending, err := q.store.ListByStatus(ctx, StatusPending)
	if err != nil {
		return syncErrors.NewStorage(syncErrors.OpEnqueue, component, err)
	}

	for _, existing := range pending {
		if existing.EntityKind != entityKind || existing.EntityID != entityID {
			continue
		}

		cancel := false
		switch {
		case kind == KindDelete && existing.Kind == KindCreate:
			cancel = true
		case kind == KindCreate && existing.Kind == KindDelete:
			cancel = true
		case kind == KindUpdate && existing.Kind == KindUpdate:
			cancel = true
		}
		if !cancel {
			continue
		}

		existing.Status = StatusCancelled
		if err := q.store.Update(ctx, existing); err != nil {
			return syncErrors.NewStorage(syncErrors.OpEnqueue, component, err)
		}
		q.logger.DebugContext(ctx, "contradictory operation cancelled",
			slog.String("operation_id", existing.ID),
			slog.String("cancelled_kind", string(existing.Kind)),
			slog.String("superseding_kind", string(kind)),
			slog.String("entity_id", entityID))
	}

	return nil
}

// GetPendingOperations returns the operations eligible for processing now,
// ordered by priority descending and FIFO within a priority band.
func (q *Queue) GetPendingOperations(ctx context.Context) ([]Operation, error) {
	pending, err := q.store.ListByStatus(ctx, StatusPending)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
	}

	pending = filterEligible(pending, q.now())
	sortPending(pending)
	return pending, nil
}

// ProcessAll drains the eligible pending operations in batches of at most
// MaxConcurrentOperations, invoking the processor concurrently within a
// batch. Re-entrant calls are a no-op returning an empty result. Failures
// never propagate as errors; they are captured per-operation in the result
// list.
func (q *Queue) ProcessAll(ctx context.Context) ([]Result, error) {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return []Result{}, nil
	}
	if q.processor == nil {
		q.mu.Unlock()
		return nil, syncErrors.NewUninitialized(syncErrors.OpProcess, component)
	}
	processor := q.processor
	q.processing = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
	}()

	pending, err := q.GetPendingOperations(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return []Result{}, nil
	}

	q.logger.DebugContext(ctx, "processing pending operations",
		slog.Int("count", len(pending)),
		slog.Int("batch_size", q.opts.MaxConcurrentOperations))

	results := make([]Result, len(pending))
	batchSize := q.opts.MaxConcurrentOperations

	for start := 0; start < len(pending); start += batchSize {
		select {
		case <-ctx.Done():
			return results[:start], ctx.Err()
		default:
		}

		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = q.processOne(ctx, pending[idx], processor)
			}(i)
		}
		wg.Wait()
	}

	q.recordDepth(ctx)
	return results, nil
}

// processOne runs a single operation through the processor and applies the
// success or failure transition.
func (q *Queue) processOne(ctx context.Context, op Operation, processor Processor) Result {
	result := Result{
		OperationID: op.ID,
		Kind:        op.Kind,
		EntityID:    op.EntityID,
		ChannelID:   op.ChannelID,
	}

	op.Status = StatusInProgress
	if err := q.store.Update(ctx, op); err != nil {
		result.Err = syncErrors.NewStorage(syncErrors.OpProcess, component, err)
		return result
	}

	err := q.invoke(ctx, &op, processor)
	if err == nil {
		now := q.now()
		op.Status = StatusCompleted
		op.CompletedAt = &now
		op.LastError = ""
		if uerr := q.store.Update(ctx, op); uerr != nil {
			result.Err = syncErrors.NewStorage(syncErrors.OpProcess, component, uerr)
			return result
		}
		result.Success = true
		q.metrics.RecordOperationResult(string(op.Kind), true, op.Attempts)
		q.logger.DebugContext(ctx, "operation completed",
			slog.String("operation_id", op.ID),
			slog.String("entity_id", op.EntityID))
		return result
	}

	deadLettered, ferr := q.handleFailure(ctx, op, err)
	if ferr != nil {
		result.Err = ferr
		return result
	}
	result.Err = err
	result.DeadLettered = deadLettered
	q.metrics.RecordOperationResult(string(op.Kind), false, op.Attempts+1)
	return result
}

// invoke calls the processor, converting panics into errors so a misbehaving
// callback cannot take down the queue.
func (q *Queue) invoke(ctx context.Context, op *Operation, processor Processor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return processor(ctx, op)
}

// handleFailure increments the attempt count and either reschedules the
// operation with backoff or moves it to the dead-letter store. Reports
// whether the operation was dead-lettered.
func (q *Queue) handleFailure(ctx context.Context, op Operation, cause error) (bool, error) {
	op.Attempts++
	op.LastError = cause.Error()

	if op.Attempts >= q.opts.MaxRetryAttempts {
		op.Status = StatusDeadLetter
		op.NextAttemptAt = nil
		if err := q.deadLetter.Insert(ctx, op); err != nil {
			return false, syncErrors.NewStorage(syncErrors.OpProcess, component, err)
		}
		if err := q.store.Delete(ctx, op.ID); err != nil {
			return false, syncErrors.NewStorage(syncErrors.OpProcess, component, err)
		}
		q.metrics.RecordDeadLetter(string(op.Kind))
		q.logger.WarnContext(ctx, "operation dead-lettered",
			slog.String("operation_id", op.ID),
			slog.String("entity_id", op.EntityID),
			slog.Int("attempts", op.Attempts),
			slog.String("last_error", op.LastError))
		return true, nil
	}

	delay := q.backoff.next(op.Attempts)
	next := q.now().Add(delay)
	op.Status = StatusPending
	op.NextAttemptAt = &next
	if err := q.store.Update(ctx, op); err != nil {
		return false, syncErrors.NewStorage(syncErrors.OpProcess, component, err)
	}
	q.logger.DebugContext(ctx, "operation scheduled for retry",
		slog.String("operation_id", op.ID),
		slog.Int("attempts", op.Attempts),
		slog.Duration("delay", delay))
	return false, nil
}

// RetryOperation resets an operation to a fresh pending state, moving it
// back from the dead-letter store if necessary.
func (q *Queue) RetryOperation(ctx context.Context, id string) error {
	op, err := q.store.Get(ctx, id)
	if err != nil {
		return syncErrors.NewStorage(syncErrors.OpRetry, component, err)
	}
	if op != nil {
		if op.Status == StatusInProgress {
			return syncErrors.NewInvalid(syncErrors.OpRetry, component,
				fmt.Errorf("operation %s is in progress", id))
		}
		reset(op)
		if err := q.store.Update(ctx, *op); err != nil {
			return syncErrors.NewStorage(syncErrors.OpRetry, component, err)
		}
		q.requestProcessing()
		return nil
	}

	op, err = q.deadLetter.Get(ctx, id)
	if err != nil {
		return syncErrors.NewStorage(syncErrors.OpRetry, component, err)
	}
	if op == nil {
		return syncErrors.NewNotFound(syncErrors.OpRetry, component,
			fmt.Errorf("operation %s not found", id))
	}

	reset(op)
	if err := q.store.Insert(ctx, *op); err != nil {
		return syncErrors.NewStorage(syncErrors.OpRetry, component, err)
	}
	if err := q.deadLetter.Remove(ctx, id); err != nil {
		return syncErrors.NewStorage(syncErrors.OpRetry, component, err)
	}
	q.logger.InfoContext(ctx, "dead-lettered operation requeued",
		slog.String("operation_id", id))
	q.requestProcessing()
	return nil
}

// RetryAllDeadLetter moves every dead-lettered operation back to pending
// with reset attempts and returns the count moved.
func (q *Queue) RetryAllDeadLetter(ctx context.Context) (int, error) {
	ops, err := q.deadLetter.All(ctx)
	if err != nil {
		return 0, syncErrors.NewStorage(syncErrors.OpRetry, component, err)
	}

	moved := 0
	for _, op := range ops {
		reset(&op)
		if err := q.store.Insert(ctx, op); err != nil {
			return moved, syncErrors.NewStorage(syncErrors.OpRetry, component, err)
		}
		if err := q.deadLetter.Remove(ctx, op.ID); err != nil {
			return moved, syncErrors.NewStorage(syncErrors.OpRetry, component, err)
		}
		moved++
	}

	if moved > 0 {
		q.logger.InfoContext(ctx, "dead-letter store drained",
			slog.Int("requeued", moved))
		q.requestProcessing()
	}
	return moved, nil
}

// reset returns an operation to a fresh pending state.
func reset(op *Operation) {
	op.Status = StatusPending
	op.Attempts = 0
	op.LastError = ""
	op.NextAttemptAt = nil
	op.CompletedAt = nil
}

// CancelOperation marks a pending operation cancelled. In-progress
// operations cannot be cancelled.
func (q *Queue) CancelOperation(ctx context.Context, id string) error {
	op, err := q.store.Get(ctx, id)
	if err != nil {
		return syncErrors.NewStorage(syncErrors.OpCancel, component, err)
	}
	if op == nil {
		return syncErrors.NewNotFound(syncErrors.OpCancel, component,
			fmt.Errorf("operation %s not found", id))
	}

	switch op.Status {
	case StatusPending:
		op.Status = StatusCancelled
		if err := q.store.Update(ctx, *op); err != nil {
			return syncErrors.NewStorage(syncErrors.OpCancel, component, err)
		}
		q.logger.DebugContext(ctx, "operation cancelled",
			slog.String("operation_id", id))
		return nil
	case StatusInProgress:
		return syncErrors.NewInvalid(syncErrors.OpCancel, component,
			fmt.Errorf("operation %s is in progress and cannot be cancelled", id))
	default:
		return syncErrors.NewInvalid(syncErrors.OpCancel, component,
			fmt.Errorf("operation %s is already %s", id, op.Status))
	}
}

// ClearCompleted removes completed operations and returns the count removed.
func (q *Queue) ClearCompleted(ctx context.Context) (int, error) {
	n, err := q.store.DeleteByStatus(ctx, StatusCompleted)
	if err != nil {
		return 0, syncErrors.NewStorage(syncErrors.OpStore, component, err)
	}
	return n, nil
}

// ClearDeadLetter empties the dead-letter store and returns the count removed.
func (q *Queue) ClearDeadLetter(ctx context.Context) (int, error) {
	n, err := q.deadLetter.Clear(ctx)
	if err != nil {
		return 0, syncErrors.NewStorage(syncErrors.OpStore, component, err)
	}
	return n, nil
}

// ClearAll empties both stores and returns the total count removed.
func (q *Queue) ClearAll(ctx context.Context) (int, error) {
	n, err := q.store.Clear(ctx)
	if err != nil {
		return 0, syncErrors.NewStorage(syncErrors.OpStore, component, err)
	}
	m, err := q.deadLetter.Clear(ctx)
	if err != nil {
		return n, syncErrors.NewStorage(syncErrors.OpStore, component, err)
	}
	return n + m, nil
}

// Stats returns a point-in-time snapshot of queue state.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	ops, err := q.store.List(ctx)
	if err != nil {
		return Stats{}, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
	}
	dead, err := q.deadLetter.All(ctx)
	if err != nil {
		return Stats{}, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
	}

	stats := Stats{DeadLetter: len(dead)}
	for _, op := range ops {
		switch op.Status {
		case StatusPending:
			stats.Pending++
		case StatusInProgress:
			stats.InFlight++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}

	q.mu.Lock()
	stats.Processing = q.processing
	q.mu.Unlock()

	return stats, nil
}

// Start launches the auto-processing loop: a periodic timer that drains the
// queue whenever pending work exists and the queue is idle, plus an
// immediate (tick-coalesced) trigger after every successful enqueue.
// A no-op unless AutoProcess is enabled.
func (q *Queue) Start(ctx context.Context) error {
	if !q.opts.AutoProcess {
		return nil
	}

	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return syncErrors.NewAlreadyRunning(syncErrors.OpProcess, component,
			"auto-processing is already running")
	}
	stop := make(chan struct{})
	q.stopAuto = stop
	q.started = true
	q.mu.Unlock()

	go func() {
		ticker := time.NewTicker(q.opts.AutoProcessInterval)
		defer ticker.Stop()

		q.logger.InfoContext(ctx, "auto-processing started",
			slog.Duration("interval", q.opts.AutoProcessInterval))

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
			case <-q.trigger:
			}
			q.drainIfIdle(ctx)
		}
	}()

	return nil
}

// Stop halts the auto-processing loop.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return
	}
	close(q.stopAuto)
	q.stopAuto = nil
	q.started = false
}

// drainIfIdle runs ProcessAll when pending work exists and no processing
// pass is active.
func (q *Queue) drainIfIdle(ctx context.Context) {
	q.mu.Lock()
	busy := q.processing
	q.mu.Unlock()
	if busy {
		return
	}

	pending, err := q.GetPendingOperations(ctx)
	if err != nil {
		q.logger.LogError(ctx, err, "auto-processing failed to list pending operations")
		return
	}
	if len(pending) == 0 {
		return
	}

	if _, err := q.ProcessAll(ctx); err != nil {
		q.logger.LogError(ctx, err, "auto-processing pass failed")
	}
}

// requestProcessing schedules an auto-processing pass for the next tick.
// Non-blocking; multiple requests coalesce.
func (q *Queue) requestProcessing() {
	q.mu.Lock()
	started := q.started
	q.mu.Unlock()
	if !started {
		return
	}

	select {
	case q.trigger <- struct{}{}:
	default:
	}
}

func (q *Queue) recordDepth(ctx context.Context) {
	pending, err := q.store.ListByStatus(ctx, StatusPending)
	if err != nil {
		return
	}
	q.metrics.RecordQueueDepth(len(pending))
}
