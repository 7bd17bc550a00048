// Package engine orchestrates offline-first synchronization between the
// local stores and the remote data source. It owns per-channel sync state
// machines, drives the push (queue draining) and pull (delta fetch + merge)
// phases, schedules connectivity- and timer-triggered syncs, and exposes a
// status stream.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/syncwell/commentsync/comment"
	"github.com/syncwell/commentsync/cursor"
	syncErrors "github.com/syncwell/commentsync/errors"
	"github.com/syncwell/commentsync/logging"
	"github.com/syncwell/commentsync/metrics"
	"github.com/syncwell/commentsync/queue"
	"github.com/syncwell/commentsync/remote"
	"github.com/syncwell/commentsync/resolve"
	"github.com/syncwell/commentsync/syncstate"
)

const engineComponent = "engine"

// schemaVersion is the current sync bookkeeping schema. Bumping it re-runs
// the migration pass on next Initialize.
const schemaVersion = 1

// Engine is the sync orchestrator. Construct with New, then call
// Initialize before use and Dispose when done.
type Engine struct {
	queue        *queue.Queue
	client       remote.Client
	pusher       queue.Processor
	comments     comment.Store
	entities     syncstate.EntityStore
	metadata     syncstate.MetadataStore
	resolver     resolve.Resolver
	connectivity remote.ConnectivityMonitor
	registry     remote.ChannelRegistry

	cfg     Config
	logger  *logging.Logger
	metrics metrics.Collector
	now     func() time.Time

	mu          sync.Mutex
	channels    map[string]*channelState
	subscribers map[int]func(StatusEvent)
	nextSubID   int
	initialized bool
	disposed    bool

	// scheduler state
	stopScheduler chan struct{}
	unsubscribes  []func()
	debounceMu    sync.Mutex
	debounce      *time.Timer
}

// New constructs an Engine from functional options. WithRemoteClient and
// WithPusher are required; everything else has a working default.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		comments:    comment.NewMemoryStore(),
		entities:    syncstate.NewMemoryEntityStore(),
		metadata:    syncstate.NewMemoryMetadataStore(),
		resolver:    &resolve.LastWriterWins{},
		cfg:         DefaultConfig(),
		logger:      logging.Default().WithComponent(engineComponent),
		metrics:     &metrics.NoOpCollector{},
		now:         time.Now,
		channels:    make(map[string]*channelState),
		subscribers: make(map[int]func(StatusEvent)),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, syncErrors.NewInvalid(syncErrors.OpInitialize, engineComponent, err)
		}
	}

	if err := e.validate(); err != nil {
		return nil, err
	}

	if e.queue == nil {
		q, err := queue.New(
			queue.WithLogger(e.logger),
			queue.WithMetrics(e.metrics),
		)
		if err != nil {
			return nil, err
		}
		e.queue = q
	}

	return e, nil
}

// Initialize wires the queue processor, runs the one-time entity-state
// migration, subscribes to connectivity and channel-activation events, and
// starts the background sync timer. Idempotent per lifecycle; calling any
// other engine method first is a programmer error.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return syncErrors.NewInvalid(syncErrors.OpInitialize, engineComponent,
			fmt.Errorf("engine has been disposed"))
	}
	if e.initialized {
		e.mu.Unlock()
		return nil
	}
	e.initialized = true
	e.mu.Unlock()

	e.queue.SetProcessor(e.processOperation)

	if err := e.migrate(ctx); err != nil {
		e.mu.Lock()
		e.initialized = false
		e.mu.Unlock()
		return err
	}

	e.startScheduler(ctx)

	if err := e.queue.Start(ctx); err != nil {
		e.logger.LogError(ctx, err, "failed to start queue auto-processing")
	}

	e.logger.InfoContext(ctx, "sync engine initialized",
		slog.Duration("sync_interval", e.cfg.SyncInterval),
		slog.Bool("sync_on_reconnect", e.cfg.SyncOnReconnect))
	return nil
}

// Dispose stops the scheduler and event subscriptions. The engine cannot be
// re-initialized afterwards.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	e.initialized = false
	stop := e.stopScheduler
	e.stopScheduler = nil
	unsubs := e.unsubscribes
	e.unsubscribes = nil
	e.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	for _, unsub := range unsubs {
		unsub()
	}
	e.cancelDebounce()
	e.queue.Stop()

	e.logger.Info("sync engine disposed")
}

// requireInitialized guards every public operation.
func (e *Engine) requireInitialized(op syncErrors.Operation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return syncErrors.NewUninitialized(op, engineComponent)
	}
	return nil
}

// migrate backfills EntityState records for local comments that predate the
// sync engine. Gated on the migration-completed flag, so it runs once.
func (e *Engine) migrate(ctx context.Context) error {
	meta, err := e.scopeMetadata(ctx, syncstate.GlobalScope)
	if err != nil {
		return err
	}
	if meta.MigrationCompleted && meta.SchemaVersion >= schemaVersion {
		return nil
	}

	existing, err := e.comments.GetAll(ctx)
	if err != nil {
		return syncErrors.NewStorage(syncErrors.OpInitialize, engineComponent, err)
	}

	backfilled := 0
	for _, c := range existing {
		st, err := e.entities.Get(ctx, c.ID)
		if err != nil {
			return syncErrors.NewStorage(syncErrors.OpInitialize, engineComponent, err)
		}
		if st != nil {
			continue
		}
		if err := e.entities.Put(ctx, syncstate.EntityState{
			EntityID:       c.ID,
			LocalUpdatedAt: c.UpdatedAt,
			Version:        1,
			Deleted:        c.Deleted,
		}); err != nil {
			return syncErrors.NewStorage(syncErrors.OpInitialize, engineComponent, err)
		}
		backfilled++
	}

	meta.MigrationCompleted = true
	meta.SchemaVersion = schemaVersion
	if err := e.metadata.Put(ctx, *meta); err != nil {
		return syncErrors.NewStorage(syncErrors.OpInitialize, engineComponent, err)
	}

	if backfilled > 0 {
		e.logger.InfoContext(ctx, "migration backfilled entity sync records",
			slog.Int("backfilled", backfilled))
	}
	return nil
}

// EnqueueChange records the local mutation intent: it sets the entity's
// dirty bit and bumps its version, then enqueues the operation. The dirty
// bit is persisted before the enqueue so there is no window where a change
// is queued but not marked.
func (e *Engine) EnqueueChange(ctx context.Context, kind queue.Kind, entityID, channelID string, payload comment.Payload) (*queue.Operation, error) {
	if err := e.requireInitialized(syncErrors.OpEnqueue); err != nil {
		return nil, err
	}

	now := e.now()
	st, err := e.entities.Get(ctx, entityID)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpEnqueue, engineComponent, err)
	}
	if st == nil {
		st = &syncstate.EntityState{EntityID: entityID}
	}
	st.ModifiedAfterLastSync = true
	st.Version++
	st.LocalUpdatedAt = now
	if kind == queue.KindDelete {
		st.Deleted = true
	}
	if err := e.entities.Put(ctx, *st); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpEnqueue, engineComponent, err)
	}

	op, err := e.queue.Enqueue(ctx, kind, comment.EntityKind, entityID, channelID, payload, 0)
	if err != nil {
		return nil, err
	}

	e.logger.DebugContext(ctx, "local change recorded",
		slog.String("entity_id", entityID),
		slog.String("kind", string(kind)),
		slog.String("channel_id", channelID),
		slog.Int64("version", st.Version))
	return op, nil
}

// processOperation is the queue's processor callback: it delegates the
// remote push to the host-supplied pusher and, on success, marks the entity
// clean.
func (e *Engine) processOperation(ctx context.Context, op *queue.Operation) error {
	if err := e.pusher(ctx, op); err != nil {
		return err
	}

	st, err := e.entities.Get(ctx, op.EntityID)
	if err != nil {
		return syncErrors.NewStorage(syncErrors.OpPush, engineComponent, err)
	}
	if st == nil {
		return nil
	}
	st.ModifiedAfterLastSync = false
	st.LastSyncedAt = e.now()
	if op.Kind == queue.KindDelete {
		st.Deleted = true
	}
	return e.entities.Put(ctx, *st)
}

// effectiveChannel resolves the channel a sync applies to: the explicit
// argument, else the registry's active channel, else the global scope.
func (e *Engine) effectiveChannel(channelID string) string {
	if channelID != "" {
		return channelID
	}
	if e.registry != nil {
		return e.registry.ActiveChannelID()
	}
	return ""
}

// online reports whether the engine considers the remote reachable.
func (e *Engine) online() bool {
	if e.connectivity != nil && !e.connectivity.IsOnline() {
		return false
	}
	return e.client.IsConnected()
}

// scopeMetadata loads (creating if absent) the metadata record for a scope.
func (e *Engine) scopeMetadata(ctx context.Context, scope string) (*syncstate.ScopeMetadata, error) {
	meta, err := e.metadata.Get(ctx, scope)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpLoad, engineComponent, err)
	}
	if meta == nil {
		meta = &syncstate.ScopeMetadata{Scope: scope, SchemaVersion: schemaVersion}
	}
	return meta, nil
}

// SyncNow runs one full sync round for a channel: connectivity check, push
// phase, pull phase, metadata update. Re-entrant calls for the same channel
// fail fast with an already-in-progress result; different channels sync
// concurrently.
func (e *Engine) SyncNow(ctx context.Context, channelID string) (*SyncResult, error) {
	if err := e.requireInitialized(syncErrors.OpSync); err != nil {
		return nil, err
	}

	channelID = e.effectiveChannel(channelID)
	scope := syncstate.ChannelScope(channelID)
	start := e.now()
	result := &SyncResult{ChannelID: channelID}
	log := e.logger.WithChannel(channelID)

	// Per-channel in-progress guard.
	e.mu.Lock()
	cs := e.channelLocked(channelID)
	if cs.syncing {
		e.mu.Unlock()
		err := syncErrors.NewAlreadyRunning(syncErrors.OpSync, engineComponent,
			fmt.Sprintf("sync already in progress for channel %q", channelID))
		result.Error = err.Error()
		return result, err
	}
	cs.syncing = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.channelLocked(channelID).syncing = false
		e.mu.Unlock()
		result.Duration = e.now().Sub(start)
		e.metrics.RecordSyncDuration("sync", result.Duration)
	}()

	e.transition(channelID, func(s *ChannelStatus) {
		s.State = StateSyncing
		s.Progress = 0
		s.LastError = ""
	})

	// Step 2: connectivity. Absence is the offline state, not an error.
	if !e.online() {
		log.InfoContext(ctx, "sync skipped: offline")
		e.transition(channelID, func(s *ChannelStatus) {
			s.State = StateOffline
			s.Progress = 0
		})
		result.Error = "no network connectivity"
		return result, nil
	}

	err := e.syncRound(ctx, channelID, scope, result, log)
	if err != nil {
		e.recordFailure(ctx, channelID, scope, result, err, log)
		return result, err
	}

	e.transition(channelID, func(s *ChannelStatus) {
		s.State = StateUpToDate
		s.Progress = 1.0
		s.LastSyncedAt = e.now()
		s.LastError = ""
	})
	result.Success = true
	e.metrics.RecordSyncItems(result.ItemsPushed, result.ItemsPulled)
	if result.Conflicts > 0 {
		e.metrics.RecordConflicts(result.Conflicts)
	}
	log.InfoContext(ctx, "sync round completed",
		slog.Int("items_pushed", result.ItemsPushed),
		slog.Int("items_pulled", result.ItemsPulled),
		slog.Int("conflicts", result.Conflicts),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", e.now().Sub(start)))
	return result, nil
}

// syncRound runs the push and pull phases and persists the scope metadata.
func (e *Engine) syncRound(ctx context.Context, channelID, scope string, result *SyncResult, log *logging.Logger) error {
	// Step 3: push phase.
	e.transition(channelID, func(s *ChannelStatus) { s.Progress = 0.1 })

	pushResults, err := e.queue.ProcessAll(ctx)
	if err != nil {
		return err
	}
	for _, r := range pushResults {
		if r.ChannelID != channelID {
			continue
		}
		if r.Success {
			result.ItemsPushed++
		} else {
			result.Failed++
		}
	}
	log.DebugContext(ctx, "push phase completed",
		slog.Int("pushed", result.ItemsPushed),
		slog.Int("failed", result.Failed))

	e.transition(channelID, func(s *ChannelStatus) { s.Progress = 0.5 })

	// Step 4: pull phase.
	meta, err := e.scopeMetadata(ctx, scope)
	if err != nil {
		return err
	}
	since, err := cursor.ParseWatermark(meta.LastSyncToken)
	if err != nil {
		// A corrupt watermark forces a full delta rather than failing sync.
		log.WarnContext(ctx, "corrupt watermark, resetting to epoch",
			slog.String("token", meta.LastSyncToken))
		since = cursor.Epoch()
	}
	fullSync := since.IsZero()

	advanced, err := e.pullPhase(ctx, channelID, since, result, log)
	if err != nil {
		return err
	}

	e.transition(channelID, func(s *ChannelStatus) { s.Progress = 0.9 })

	// Step 5: persist metadata.
	now := e.now()
	meta.LastSyncToken = advanced.String()
	meta.LastIncrementalSyncAt = now
	if fullSync {
		meta.LastFullSyncAt = now
	}
	meta.SyncCount++
	meta.ItemsSynced += int64(result.ItemsPushed + result.ItemsPulled)
	meta.LastError = ""
	if err := e.metadata.Put(ctx, *meta); err != nil {
		return syncErrors.NewStorage(syncErrors.OpStore, engineComponent, err)
	}

	return nil
}

// pullPhase fetches deltas since the watermark and merges each returned
// entity against local state, consulting the conflict resolver whenever the
// local copy is dirty. Merge is sequential per entity; determinism matters
// more than throughput here. Returns the advanced watermark.
func (e *Engine) pullPhase(ctx context.Context, channelID string, since cursor.Watermark, result *SyncResult, log *logging.Logger) (cursor.Watermark, error) {
	delta, err := e.client.FetchCommentsUpdatedAfter(ctx, channelID, since)
	if err != nil {
		return since, syncErrors.NewRetryable(syncErrors.OpPull, engineComponent, err)
	}
	if !delta.WasModified {
		log.DebugContext(ctx, "pull phase: remote unchanged")
		return since, nil
	}

	advanced := since
	for _, remoteComment := range delta.Comments {
		if err := ctx.Err(); err != nil {
			return advanced, syncErrors.New(syncErrors.OpPull, err)
		}

		if err := e.mergeRemote(ctx, remoteComment, result, log); err != nil {
			return advanced, err
		}
		advanced = advanced.Advance(remoteComment.UpdatedAt)
		result.ItemsPulled++
	}

	log.DebugContext(ctx, "pull phase completed",
		slog.Int("pulled", result.ItemsPulled),
		slog.String("watermark", advanced.String()))
	return advanced, nil
}

// mergeRemote applies one remote entity to the local stores.
func (e *Engine) mergeRemote(ctx context.Context, remoteComment comment.Comment, result *SyncResult, log *logging.Logger) error {
	now := e.now()

	st, err := e.entities.Get(ctx, remoteComment.ID)
	if err != nil {
		return syncErrors.NewStorage(syncErrors.OpPull, engineComponent, err)
	}

	// First remote observation, or a clean local copy: accept remote.
	if st == nil || !st.ModifiedAfterLastSync {
		if err := e.comments.Save(ctx, remoteComment); err != nil {
			return syncErrors.NewStorage(syncErrors.OpStore, engineComponent, err)
		}
		if st == nil {
			st = &syncstate.EntityState{EntityID: remoteComment.ID, Version: 1}
		}
		st.RemoteUpdatedAt = remoteComment.UpdatedAt
		st.LastSyncedAt = now
		st.Deleted = remoteComment.Deleted
		st.ConflictData = nil
		if err := e.entities.Put(ctx, *st); err != nil {
			return syncErrors.NewStorage(syncErrors.OpStore, engineComponent, err)
		}
		return nil
	}

	// Local diverged: consult the resolver.
	local, err := e.comments.Get(ctx, remoteComment.ID)
	if err != nil {
		if syncErrors.IsKind(err, syncErrors.KindNotFound) {
			// Dirty state without a local copy (e.g. local delete pending):
			// synthesize from bookkeeping so the resolver sees timestamps.
			local = &comment.Comment{
				ID:        remoteComment.ID,
				ChannelID: remoteComment.ChannelID,
				UpdatedAt: st.LocalUpdatedAt,
				Deleted:   st.Deleted,
			}
		} else {
			return syncErrors.NewStorage(syncErrors.OpLoad, engineComponent, err)
		}
	}

	resolution, err := e.resolver.Resolve(ctx, *local, remoteComment, *st)
	if err != nil {
		return syncErrors.NewWithComponent(syncErrors.OpResolve, engineComponent, err)
	}

	if err := e.comments.Save(ctx, resolution.Resolved); err != nil {
		return syncErrors.NewStorage(syncErrors.OpStore, engineComponent, err)
	}

	st.RemoteUpdatedAt = remoteComment.UpdatedAt
	if resolution.Decision != resolve.DecisionKeepLocal {
		// Remote won: the local divergence is gone.
		st.ModifiedAfterLastSync = false
		st.LocalUpdatedAt = resolution.Resolved.UpdatedAt
		st.Deleted = resolution.Resolved.Deleted
		st.LastSyncedAt = now
	}
	st.ConflictData = nil
	if err := e.entities.Put(ctx, *st); err != nil {
		return syncErrors.NewStorage(syncErrors.OpStore, engineComponent, err)
	}

	if resolution.HadConflict {
		result.Conflicts++
		log.InfoContext(ctx, "conflict resolved",
			slog.String("entity_id", remoteComment.ID),
			slog.String("decision", resolution.Decision))
	}
	return nil
}

// recordFailure transitions the channel to the error state and persists the
// failure on the scope metadata, preserving the previous last-synced time.
func (e *Engine) recordFailure(ctx context.Context, channelID, scope string, result *SyncResult, cause error, log *logging.Logger) {
	result.Error = cause.Error()
	e.metrics.RecordSyncErrors("sync", string(syncErrors.KindOf(cause)))
	log.LogError(ctx, cause, "sync round failed")

	e.transition(channelID, func(s *ChannelStatus) {
		s.State = StateError
		s.LastError = cause.Error()
	})

	meta, err := e.scopeMetadata(ctx, scope)
	if err != nil {
		return
	}
	meta.FailureCount++
	meta.LastError = cause.Error()
	meta.LastErrorAt = e.now()
	if err := e.metadata.Put(ctx, *meta); err != nil {
		log.LogError(ctx, err, "failed to persist sync failure metadata")
	}
}

// ForceFullSync clears delta-client caches, resets the channel's watermark
// to the epoch sentinel, and runs a sync round.
func (e *Engine) ForceFullSync(ctx context.Context, channelID string) (*SyncResult, error) {
	if err := e.requireInitialized(syncErrors.OpSync); err != nil {
		return nil, err
	}

	channelID = e.effectiveChannel(channelID)
	scope := syncstate.ChannelScope(channelID)

	if err := e.client.ClearCache(ctx); err != nil {
		return nil, syncErrors.NewRetryable(syncErrors.OpSync, engineComponent, err)
	}

	meta, err := e.scopeMetadata(ctx, scope)
	if err != nil {
		return nil, err
	}
	meta.LastSyncToken = cursor.Epoch().String()
	if err := e.metadata.Put(ctx, *meta); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpStore, engineComponent, err)
	}

	e.logger.WithChannel(channelID).InfoContext(ctx, "forcing full sync")
	return e.SyncNow(ctx, channelID)
}

// RebuildFromRemote is destructive recovery: it clears all local entities
// and their sync bookkeeping, then performs a full sync. Use only for
// corruption recovery.
func (e *Engine) RebuildFromRemote(ctx context.Context, channelID string) (*SyncResult, error) {
	if err := e.requireInitialized(syncErrors.OpSync); err != nil {
		return nil, err
	}

	if err := e.comments.Clear(ctx); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpStore, engineComponent, err)
	}
	if err := e.entities.Clear(ctx); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpStore, engineComponent, err)
	}

	e.logger.WithChannel(channelID).WarnContext(ctx, "rebuilding local state from remote")
	return e.ForceFullSync(ctx, channelID)
}

// Status returns a snapshot of one channel's sync status with live
// pending/failed operation counts.
func (e *Engine) Status(ctx context.Context, channelID string) (ChannelStatus, error) {
	if err := e.requireInitialized(syncErrors.OpLoad); err != nil {
		return ChannelStatus{}, err
	}

	channelID = e.effectiveChannel(channelID)

	e.mu.Lock()
	status := e.channelLocked(channelID).status
	e.mu.Unlock()

	pending, err := e.queue.GetPendingOperations(ctx)
	if err == nil {
		count := 0
		for _, op := range pending {
			if op.ChannelID == channelID {
				count++
			}
		}
		status.PendingOperations = count
	}
	if stats, err := e.queue.Stats(ctx); err == nil {
		status.FailedOperations = stats.DeadLetter + stats.Failed
	}

	return status, nil
}

// GlobalStatus mirrors the active channel's status.
func (e *Engine) GlobalStatus(ctx context.Context) (ChannelStatus, error) {
	return e.Status(ctx, "")
}

// Queue exposes the underlying operation queue for inspection and manual
// dead-letter management.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}
