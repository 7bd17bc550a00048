// Package remote defines the contracts the sync engine depends on for
// network-facing collaborators: the delta client, the connectivity signal,
// and the channel registry. None of them are implemented here; hosts plug
// in real implementations and tests plug in doubles.
package remote

import (
	"context"

	"github.com/syncwell/commentsync/comment"
	"github.com/syncwell/commentsync/cursor"
)

// Channel is the remote identity/tenant context a sync round runs against.
type Channel struct {
	ID   string
	Name string
}

// Delta is the result of a delta fetch. WasModified false means nothing
// changed after the watermark and merge work can be skipped entirely.
type Delta struct {
	WasModified bool
	Comments    []comment.Comment
}

// Client is the engine's only network-facing dependency.
type Client interface {
	// IsConnected reports whether a remote session is usable.
	IsConnected() bool

	// FetchChannel resolves the remote identity/channel context.
	FetchChannel(ctx context.Context) (*Channel, error)

	// FetchCommentsUpdatedAfter returns comments changed after the
	// watermark for one channel.
	FetchCommentsUpdatedAfter(ctx context.Context, channelID string, updatedAfter cursor.Watermark) (*Delta, error)

	// ClearCache invalidates client-side caching so the next fetch is a
	// full delta from the given watermark.
	ClearCache(ctx context.Context) error
}

// ConnectivityMonitor exposes the host's connectivity signal. The engine
// only needs the derived "has any connection" boolean.
type ConnectivityMonitor interface {
	// IsOnline reports whether any connection is available.
	IsOnline() bool

	// Subscribe registers a callback invoked on every connectivity change.
	// The returned function cancels the subscription.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// ChannelEventType discriminates channel registry events.
type ChannelEventType string

const (
	// ChannelActivated fires when a channel becomes the active one.
	ChannelActivated ChannelEventType = "activated"
)

// ChannelEvent is one change emitted by the channel registry.
type ChannelEvent struct {
	Type      ChannelEventType
	ChannelID string
}

// ChannelRegistry exposes the active channel and its change stream. The
// engine is agnostic to how channels are created or removed.
type ChannelRegistry interface {
	// ActiveChannelID returns the currently active channel id, or "" when
	// none is active.
	ActiveChannelID() string

	// Subscribe registers a callback for channel events. The returned
	// function cancels the subscription.
	Subscribe(fn func(ChannelEvent)) (unsubscribe func())
}
