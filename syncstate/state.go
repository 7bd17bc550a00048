// Package syncstate holds the per-entity and per-scope sync bookkeeping
// records and their store contracts. The engine owns both record types;
// everything else only reads them.
package syncstate

import (
	"context"
	"fmt"
	"time"
)

// GlobalScope is the metadata scope used when no channel context applies.
const GlobalScope = "global"

// ChannelScope derives the metadata scope key for a channel.
func ChannelScope(channelID string) string {
	if channelID == "" {
		return GlobalScope
	}
	return fmt.Sprintf("channel_%s", channelID)
}

// EntityState is the per-entity sync bookkeeping record, keyed by entity id.
// Created on first local change or first remote observation; updated on every
// push or pull touching that entity.
type EntityState struct {
	EntityID        string
	ETag            string
	LocalUpdatedAt  time.Time
	RemoteUpdatedAt time.Time
	LastSyncedAt    time.Time

	// Version increments monotonically on local edits.
	Version int64

	Deleted bool

	// ModifiedAfterLastSync is the dirty bit: the entity changed locally
	// since its last successful sync. True implies a pending or
	// recently-processed queue operation exists for the entity.
	ModifiedAfterLastSync bool

	// ConflictData is set when a conflict was detected but not fully
	// resolved; opaque to the engine.
	ConflictData []byte
}

// ScopeMetadata is the per-scope sync summary record, keyed by scope string
// ("global" or "channel_<id>"). Mutated only by the engine after a sync
// round completes; never deleted except on full reset.
type ScopeMetadata struct {
	Scope                 string
	LastSyncToken         string
	LastFullSyncAt        time.Time
	LastIncrementalSyncAt time.Time
	SyncCount             int64
	FailureCount          int64
	ItemsSynced           int64
	LastError             string
	LastErrorAt           time.Time
	SchemaVersion         int
	MigrationCompleted    bool
}

// EntityStore persists EntityState records.
type EntityStore interface {
	// Get returns the state for an entity, or (nil, nil) when none exists.
	Get(ctx context.Context, entityID string) (*EntityState, error)

	// Put inserts or replaces an entity state record.
	Put(ctx context.Context, state EntityState) error

	// All returns every entity state record.
	All(ctx context.Context) ([]EntityState, error)

	// Delete removes the record for an entity. Missing records are not an error.
	Delete(ctx context.Context, entityID string) error

	// Clear removes every record.
	Clear(ctx context.Context) error
}

// MetadataStore persists ScopeMetadata records.
type MetadataStore interface {
	// Get returns the metadata for a scope, or (nil, nil) when none exists.
	Get(ctx context.Context, scope string) (*ScopeMetadata, error)

	// Put inserts or replaces a scope metadata record.
	Put(ctx context.Context, meta ScopeMetadata) error

	// Clear removes every record. Used only on full reset.
	Clear(ctx context.Context) error
}
