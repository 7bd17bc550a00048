package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/syncwell/commentsync/comment"
	syncErrors "github.com/syncwell/commentsync/errors"
)

// commentStore implements comment.Store over the comments table.
type commentStore struct {
	s *Store
}

var _ comment.Store = (*commentStore)(nil)

const commentColumns = `id, channel_id, author, text, created_at, updated_at, deleted`

func (c *commentStore) GetAll(ctx context.Context) ([]comment.Comment, error) {
	if err := c.s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := c.s.db.QueryContext(ctx,
		`SELECT `+commentColumns+` FROM comments ORDER BY id`)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
	}
	defer rows.Close()

	var out []comment.Comment
	for rows.Next() {
		var cm comment.Comment
		if err := rows.Scan(&cm.ID, &cm.ChannelID, &cm.Author, &cm.Text,
			&cm.CreatedAt, &cm.UpdatedAt, &cm.Deleted); err != nil {
			return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
		}
		out = append(out, cm)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
	}
	return out, nil
}

func (c *commentStore) Get(ctx context.Context, id string) (*comment.Comment, error) {
	if err := c.s.checkOpen(); err != nil {
		return nil, err
	}
	var cm comment.Comment
	err := c.s.db.QueryRowContext(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE id = ?`, id).
		Scan(&cm.ID, &cm.ChannelID, &cm.Author, &cm.Text,
			&cm.CreatedAt, &cm.UpdatedAt, &cm.Deleted)
	if err == sql.ErrNoRows {
		return nil, syncErrors.NewNotFound(syncErrors.OpLoad, component,
			fmt.Errorf("comment not found: %s", id))
	}
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
	}
	return &cm, nil
}

func (c *commentStore) Save(ctx context.Context, cm comment.Comment) error {
	if err := c.s.checkOpen(); err != nil {
		return err
	}
	_, err := c.s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO comments (`+commentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cm.ID, cm.ChannelID, cm.Author, cm.Text, cm.CreatedAt, cm.UpdatedAt, cm.Deleted)
	if err != nil {
		return syncErrors.NewStorage(syncErrors.OpStore, component,
			fmt.Errorf("failed to store comment %s: %w", cm.ID, err))
	}
	return nil
}

func (c *commentStore) Clear(ctx context.Context) error {
	if err := c.s.checkOpen(); err != nil {
		return err
	}
	if _, err := c.s.db.ExecContext(ctx, `DELETE FROM comments`); err != nil {
		return syncErrors.NewStorage(syncErrors.OpStore, component, err)
	}
	return nil
}
