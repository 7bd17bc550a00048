package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	syncErrors "github.com/syncwell/commentsync/errors"
	"github.com/syncwell/commentsync/syncstate"
)

// entityStore implements syncstate.EntityStore over the entity_states table.
type entityStore struct {
	s *Store
}

var _ syncstate.EntityStore = (*entityStore)(nil)

const entityColumns = `entity_id, etag, local_updated_at, remote_updated_at,
	last_synced_at, version, deleted, modified_after_last_sync, conflict_data`

func scanEntityState(scan func(...any) error) (syncstate.EntityState, error) {
	var (
		st       syncstate.EntityState
		localAt  sql.NullTime
		remoteAt sql.NullTime
		syncedAt sql.NullTime
	)
	err := scan(&st.EntityID, &st.ETag, &localAt, &remoteAt, &syncedAt,
		&st.Version, &st.Deleted, &st.ModifiedAfterLastSync, &st.ConflictData)
	if err != nil {
		return syncstate.EntityState{}, err
	}
	st.LocalUpdatedAt = timeValue(localAt)
	st.RemoteUpdatedAt = timeValue(remoteAt)
	st.LastSyncedAt = timeValue(syncedAt)
	return st, nil
}

func (e *entityStore) Get(ctx context.Context, entityID string) (*syncstate.EntityState, error) {
	if err := e.s.checkOpen(); err != nil {
		return nil, err
	}
	row := e.s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entity_states WHERE entity_id = ?`, entityID)
	st, err := scanEntityState(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
	}
	return &st, nil
}

func (e *entityStore) Put(ctx context.Context, state syncstate.EntityState) error {
	if err := e.s.checkOpen(); err != nil {
		return err
	}
	_, err := e.s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO entity_states (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		state.EntityID, state.ETag, nullTime(state.LocalUpdatedAt),
		nullTime(state.RemoteUpdatedAt), nullTime(state.LastSyncedAt),
		state.Version, state.Deleted, state.ModifiedAfterLastSync,
		state.ConflictData)
	if err != nil {
		return syncErrors.NewStorage(syncErrors.OpStore, component,
			fmt.Errorf("failed to store entity state %s: %w", state.EntityID, err))
	}
	return nil
}

func (e *entityStore) All(ctx context.Context) ([]syncstate.EntityState, error) {
	if err := e.s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := e.s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entity_states ORDER BY entity_id`)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
	}
	defer rows.Close()

	var out []syncstate.EntityState
	for rows.Next() {
		st, err := scanEntityState(rows.Scan)
		if err != nil {
			return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
	}
	return out, nil
}

func (e *entityStore) Delete(ctx context.Context, entityID string) error {
	if err := e.s.checkOpen(); err != nil {
		return err
	}
	if _, err := e.s.db.ExecContext(ctx,
		`DELETE FROM entity_states WHERE entity_id = ?`, entityID); err != nil {
		return syncErrors.NewStorage(syncErrors.OpStore, component, err)
	}
	return nil
}

func (e *entityStore) Clear(ctx context.Context) error {
	if err := e.s.checkOpen(); err != nil {
		return err
	}
	if _, err := e.s.db.ExecContext(ctx, `DELETE FROM entity_states`); err != nil {
		return syncErrors.NewStorage(syncErrors.OpStore, component, err)
	}
	return nil
}

// metadataStore implements syncstate.MetadataStore over the scope_metadata
// table.
type metadataStore struct {
	s *Store
}

var _ syncstate.MetadataStore = (*metadataStore)(nil)

const metadataColumns = `scope, last_sync_token, last_full_sync_at,
	last_incremental_sync_at, sync_count, failure_count, items_synced,
	last_error, last_error_at, schema_version, migration_completed`

func (m *metadataStore) Get(ctx context.Context, scope string) (*syncstate.ScopeMetadata, error) {
	if err := m.s.checkOpen(); err != nil {
		return nil, err
	}

	var (
		meta     syncstate.ScopeMetadata
		fullAt   sql.NullTime
		incrAt   sql.NullTime
		errAt    sql.NullTime
	)
	err := m.s.db.QueryRowContext(ctx,
		`SELECT `+metadataColumns+` FROM scope_metadata WHERE scope = ?`, scope).
		Scan(&meta.Scope, &meta.LastSyncToken, &fullAt, &incrAt,
			&meta.SyncCount, &meta.FailureCount, &meta.ItemsSynced,
			&meta.LastError, &errAt, &meta.SchemaVersion, &meta.MigrationCompleted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
	}
	meta.LastFullSyncAt = timeValue(fullAt)
	meta.LastIncrementalSyncAt = timeValue(incrAt)
	meta.LastErrorAt = timeValue(errAt)
	return &meta, nil
}

func (m *metadataStore) Put(ctx context.Context, meta syncstate.ScopeMetadata) error {
	if err := m.s.checkOpen(); err != nil {
		return err
	}
	_, err := m.s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO scope_metadata (`+metadataColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.Scope, meta.LastSyncToken, nullTime(meta.LastFullSyncAt),
		nullTime(meta.LastIncrementalSyncAt), meta.SyncCount,
		meta.FailureCount, meta.ItemsSynced, meta.LastError,
		nullTime(meta.LastErrorAt), meta.SchemaVersion, meta.MigrationCompleted)
	if err != nil {
		return syncErrors.NewStorage(syncErrors.OpStore, component,
			fmt.Errorf("failed to store scope metadata %s: %w", meta.Scope, err))
	}
	return nil
}

func (m *metadataStore) Clear(ctx context.Context) error {
	if err := m.s.checkOpen(); err != nil {
		return err
	}
	if _, err := m.s.db.ExecContext(ctx, `DELETE FROM scope_metadata`); err != nil {
		return syncErrors.NewStorage(syncErrors.OpStore, component, err)
	}
	return nil
}
