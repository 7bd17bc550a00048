// Package comment defines the synced domain entity and its local-store
// contract. The sync engine itself is entity-agnostic beyond this package;
// comments are the one entity kind the pipeline currently moves.
package comment

import (
	"context"
	"time"
)

// EntityKind is the entity-kind tag carried by queue operations for comments.
const EntityKind = "comment"

// Comment is a single synced comment.
type Comment struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Author    string    `json:"author,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// Store is the local persistence collaborator for comments. The engine
// never needs more than these four operations.
type Store interface {
	// GetAll returns every locally stored comment.
	GetAll(ctx context.Context) ([]Comment, error)

	// Get returns the comment with the given id, or a not-found error.
	Get(ctx context.Context, id string) (*Comment, error)

	// Save inserts or replaces a comment.
	Save(ctx context.Context, c Comment) error

	// Clear removes all locally stored comments.
	Clear(ctx context.Context) error
}
