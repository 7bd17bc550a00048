package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncwell/commentsync/comment"
	syncErrors "github.com/syncwell/commentsync/errors"
	"github.com/syncwell/commentsync/logging"
	"github.com/syncwell/commentsync/queue"
	"github.com/syncwell/commentsync/syncstate"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync_test.db")
	cfg := DefaultConfig(path)
	cfg.Logger = logging.Discard()
	store, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew_WALEnabledByDefault(t *testing.T) {
	store := newTestStore(t)

	var journalMode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}

func TestNew_ConfigValidation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err, "DataSourceName is required")
}

func TestStore_UseAfterClose(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "double close is a no-op")

	_, err := store.Operations().List(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func sampleOperation(id string, createdAt time.Time) queue.Operation {
	return queue.Operation{
		ID:         id,
		Kind:       queue.KindUpdate,
		EntityKind: comment.EntityKind,
		EntityID:   "c-" + id,
		ChannelID:  "ch-1",
		Payload:    comment.NewCommentPayload("alice", "body"),
		Status:     queue.StatusPending,
		Priority:   2,
		CreatedAt:  createdAt,
	}
}

func TestOperationStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ops := store.Operations()
	ctx := context.Background()

	createdAt := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	orig := sampleOperation("op-1", createdAt)
	nextAt := createdAt.Add(30 * time.Second)
	orig.Attempts = 2
	orig.NextAttemptAt = &nextAt
	orig.LastError = "connection reset"

	require.NoError(t, ops.Insert(ctx, orig))

	got, err := ops.Get(ctx, "op-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, orig.Kind, got.Kind)
	assert.Equal(t, orig.EntityID, got.EntityID)
	assert.Equal(t, orig.ChannelID, got.ChannelID)
	assert.Equal(t, orig.Attempts, got.Attempts)
	assert.Equal(t, orig.LastError, got.LastError)
	assert.Equal(t, orig.Priority, got.Priority)
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.Equal(nextAt))
	assert.True(t, got.CreatedAt.Equal(createdAt))
	require.NotNil(t, got.Payload.Comment)
	assert.Equal(t, "alice", got.Payload.Comment.Author)

	// Missing ids are (nil, nil).
	missing, err := ops.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestOperationStore_UpdateAndDelete(t *testing.T) {
	store := newTestStore(t)
	ops := store.Operations()
	ctx := context.Background()

	op := sampleOperation("op-1", time.Now().UTC())
	require.NoError(t, ops.Insert(ctx, op))

	op.Status = queue.StatusCompleted
	done := time.Now().UTC()
	op.CompletedAt = &done
	require.NoError(t, ops.Update(ctx, op))

	got, err := ops.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	require.NoError(t, ops.Delete(ctx, "op-1"))
	got, err = ops.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, ops.Delete(ctx, "op-1"), "deleting a missing id is not an error")
}

func TestOperationStore_ListByStatusAndClear(t *testing.T) {
	store := newTestStore(t)
	ops := store.Operations()
	ctx := context.Background()

	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	for i, status := range []queue.Status{
		queue.StatusPending, queue.StatusPending, queue.StatusCompleted,
	} {
		op := sampleOperation(string(rune('a'+i)), base.Add(time.Duration(i)*time.Second))
		op.Status = status
		require.NoError(t, ops.Insert(ctx, op))
	}

	pending, err := ops.ListByStatus(ctx, queue.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.True(t, pending[0].CreatedAt.Before(pending[1].CreatedAt), "listing is creation-ordered")

	n, err := ops.DeleteByStatus(ctx, queue.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = ops.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := ops.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDeadLetterStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	dead := store.DeadLetters()
	ctx := context.Background()

	op := sampleOperation("op-1", time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC))
	op.Attempts = 5
	op.LastError = "gave up"
	require.NoError(t, dead.Insert(ctx, op))

	got, err := dead.Get(ctx, "op-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, queue.StatusDeadLetter, got.Status)
	assert.Equal(t, 5, got.Attempts)
	assert.Equal(t, "gave up", got.LastError)

	all, err := dead.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, dead.Remove(ctx, "op-1"))
	got, err = dead.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEntityStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	entities := store.Entities()
	ctx := context.Background()

	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	st := syncstate.EntityState{
		EntityID:              "c1",
		ETag:                  "abc123",
		LocalUpdatedAt:        at,
		RemoteUpdatedAt:       at.Add(time.Minute),
		LastSyncedAt:          at.Add(2 * time.Minute),
		Version:               7,
		Deleted:               true,
		ModifiedAfterLastSync: true,
		ConflictData:          []byte(`{"note":"pending"}`),
	}
	require.NoError(t, entities.Put(ctx, st))

	got, err := entities.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, st.ETag, got.ETag)
	assert.True(t, got.LocalUpdatedAt.Equal(st.LocalUpdatedAt))
	assert.True(t, got.RemoteUpdatedAt.Equal(st.RemoteUpdatedAt))
	assert.Equal(t, st.Version, got.Version)
	assert.True(t, got.Deleted)
	assert.True(t, got.ModifiedAfterLastSync)
	assert.Equal(t, st.ConflictData, got.ConflictData)

	// Put is an upsert.
	st.Version = 8
	st.ModifiedAfterLastSync = false
	require.NoError(t, entities.Put(ctx, st))
	got, _ = entities.Get(ctx, "c1")
	assert.Equal(t, int64(8), got.Version)
	assert.False(t, got.ModifiedAfterLastSync)

	missing, err := entities.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := entities.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, entities.Delete(ctx, "c1"))
	require.NoError(t, entities.Clear(ctx))
}

func TestMetadataStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	metadata := store.Metadata()
	ctx := context.Background()

	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	meta := syncstate.ScopeMetadata{
		Scope:                 syncstate.ChannelScope("ch-1"),
		LastSyncToken:         "2025-04-01T08:00:00Z",
		LastFullSyncAt:        at,
		LastIncrementalSyncAt: at.Add(time.Hour),
		SyncCount:             12,
		FailureCount:          3,
		ItemsSynced:           240,
		LastError:             "http 503",
		LastErrorAt:           at.Add(30 * time.Minute),
		SchemaVersion:         1,
		MigrationCompleted:    true,
	}
	require.NoError(t, metadata.Put(ctx, meta))

	got, err := metadata.Get(ctx, meta.Scope)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, meta.LastSyncToken, got.LastSyncToken)
	assert.True(t, got.LastFullSyncAt.Equal(meta.LastFullSyncAt))
	assert.Equal(t, meta.SyncCount, got.SyncCount)
	assert.Equal(t, meta.FailureCount, got.FailureCount)
	assert.Equal(t, meta.ItemsSynced, got.ItemsSynced)
	assert.Equal(t, meta.LastError, got.LastError)
	assert.True(t, got.MigrationCompleted)

	missing, err := metadata.Get(ctx, "channel_other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCommentStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	comments := store.Comments()
	ctx := context.Background()

	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	c := comment.Comment{
		ID: "c1", ChannelID: "ch-1", Author: "alice", Text: "hello",
		CreatedAt: at, UpdatedAt: at, Deleted: false,
	}
	require.NoError(t, comments.Save(ctx, c))

	got, err := comments.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)
	assert.True(t, got.CreatedAt.Equal(at))

	// Save is an upsert.
	c.Text = "hello, edited"
	c.UpdatedAt = at.Add(time.Minute)
	require.NoError(t, comments.Save(ctx, c))
	got, _ = comments.Get(ctx, "c1")
	assert.Equal(t, "hello, edited", got.Text)

	_, err = comments.Get(ctx, "nope")
	assert.True(t, syncErrors.IsKind(err, syncErrors.KindNotFound))

	all, err := comments.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, comments.Clear(ctx))
	all, _ = comments.GetAll(ctx)
	assert.Empty(t, all)
}

// The queue running on SQLite stores must behave exactly as it does on the
// in-memory stores, including the dead-letter path surviving process
// restarts (modelled here by reopening the views).
func TestQueue_OnSQLiteStores(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	q, err := queue.New(
		queue.WithStores(store.Operations(), store.DeadLetters()),
		queue.WithLogger(logging.Discard()),
		queue.WithOptions(queue.Options{MaxRetryAttempts: 2, InitialBackoff: time.Nanosecond}),
	)
	require.NoError(t, err)

	q.SetProcessor(func(ctx context.Context, op *queue.Operation) error {
		return errors.New("remote down")
	})

	_, err = q.Enqueue(ctx, queue.KindCreate, comment.EntityKind, "c1", "ch-1",
		comment.NewCommentPayload("alice", "x"), 0)
	require.NoError(t, err)

	// Two failing passes exhaust the retry budget.
	for i := 0; i < 2; i++ {
		_, err := q.ProcessAll(ctx)
		require.NoError(t, err)
		time.Sleep(time.Millisecond) // clear the nanosecond backoff window
	}

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeadLetter)
	assert.Equal(t, 0, stats.Pending)

	// Manual requeue drains back through the same tables.
	q.SetProcessor(func(ctx context.Context, op *queue.Operation) error { return nil })
	moved, err := q.RetryAllDeadLetter(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	results, err := q.ProcessAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
}
