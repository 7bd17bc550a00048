package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/syncwell/commentsync/comment"
	syncErrors "github.com/syncwell/commentsync/errors"
	"github.com/syncwell/commentsync/queue"
)

// operationStore implements queue.OperationStore over the operations table.
type operationStore struct {
	s *Store
}

var _ queue.OperationStore = (*operationStore)(nil)

const operationColumns = `id, kind, entity_kind, entity_id, channel_id, payload,
	attempts, next_attempt_at, last_error, status, priority, created_at, completed_at`

func marshalPayload(p comment.Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(data), nil
}

func unmarshalPayload(raw string, p *comment.Payload) error {
	if raw == "" {
		*p = comment.NoPayload()
		return nil
	}
	if err := json.Unmarshal([]byte(raw), p); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

func scanOperation(scan func(...any) error) (queue.Operation, error) {
	var (
		op        queue.Operation
		payload   string
		nextAt    sql.NullTime
		completed sql.NullTime
	)
	err := scan(&op.ID, &op.Kind, &op.EntityKind, &op.EntityID, &op.ChannelID,
		&payload, &op.Attempts, &nextAt, &op.LastError, &op.Status,
		&op.Priority, &op.CreatedAt, &completed)
	if err != nil {
		return queue.Operation{}, err
	}
	if err := unmarshalPayload(payload, &op.Payload); err != nil {
		return queue.Operation{}, err
	}
	op.NextAttemptAt = timePtr(nextAt)
	op.CompletedAt = timePtr(completed)
	return op, nil
}

func (o *operationStore) Insert(ctx context.Context, op queue.Operation) error {
	if err := o.s.checkOpen(); err != nil {
		return err
	}
	payload, err := marshalPayload(op.Payload)
	if err != nil {
		return syncErrors.NewInvalid(syncErrors.OpStore, component, err)
	}

	_, err = o.s.db.ExecContext(ctx, `
		INSERT INTO operations (`+operationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Kind, op.EntityKind, op.EntityID, op.ChannelID, payload,
		op.Attempts, nullTimePtr(op.NextAttemptAt), op.LastError, op.Status,
		op.Priority, op.CreatedAt, nullTimePtr(op.CompletedAt))
	if err != nil {
		return syncErrors.NewStorage(syncErrors.OpStore, component,
			fmt.Errorf("failed to insert operation %s: %w", op.ID, err))
	}
	return nil
}

func (o *operationStore) Update(ctx context.Context, op queue.Operation) error {
	if err := o.s.checkOpen(); err != nil {
		return err
	}
	payload, err := marshalPayload(op.Payload)
	if err != nil {
		return syncErrors.NewInvalid(syncErrors.OpStore, component, err)
	}

	_, err = o.s.db.ExecContext(ctx, `
		UPDATE operations SET kind = ?, entity_kind = ?, entity_id = ?,
			channel_id = ?, payload = ?, attempts = ?, next_attempt_at = ?,
			last_error = ?, status = ?, priority = ?, created_at = ?,
			completed_at = ?
		WHERE id = ?`,
		op.Kind, op.EntityKind, op.EntityID, op.ChannelID, payload,
		op.Attempts, nullTimePtr(op.NextAttemptAt), op.LastError, op.Status,
		op.Priority, op.CreatedAt, nullTimePtr(op.CompletedAt), op.ID)
	if err != nil {
		return syncErrors.NewStorage(syncErrors.OpStore, component,
			fmt.Errorf("failed to update operation %s: %w", op.ID, err))
	}
	return nil
}

func (o *operationStore) Get(ctx context.Context, id string) (*queue.Operation, error) {
	if err := o.s.checkOpen(); err != nil {
		return nil, err
	}
	row := o.s.db.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE id = ?`, id)
	op, err := scanOperation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
	}
	return &op, nil
}

func (o *operationStore) Delete(ctx context.Context, id string) error {
	if err := o.s.checkOpen(); err != nil {
		return err
	}
	if _, err := o.s.db.ExecContext(ctx, `DELETE FROM operations WHERE id = ?`, id); err != nil {
		return syncErrors.NewStorage(syncErrors.OpStore, component, err)
	}
	return nil
}

func (o *operationStore) List(ctx context.Context) ([]queue.Operation, error) {
	return o.query(ctx, `SELECT `+operationColumns+` FROM operations
		ORDER BY created_at, id`)
}

func (o *operationStore) ListByStatus(ctx context.Context, status queue.Status) ([]queue.Operation, error) {
	return o.query(ctx, `SELECT `+operationColumns+` FROM operations
		WHERE status = ? ORDER BY created_at, id`, status)
}

func (o *operationStore) query(ctx context.Context, q string, args ...any) ([]queue.Operation, error) {
	if err := o.s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := o.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
	}
	defer rows.Close()

	var out []queue.Operation
	for rows.Next() {
		op, err := scanOperation(rows.Scan)
		if err != nil {
			return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
	}
	return out, nil
}

func (o *operationStore) DeleteByStatus(ctx context.Context, status queue.Status) (int, error) {
	if err := o.s.checkOpen(); err != nil {
		return 0, err
	}
	res, err := o.s.db.ExecContext(ctx, `DELETE FROM operations WHERE status = ?`, status)
	if err != nil {
		return 0, syncErrors.NewStorage(syncErrors.OpStore, component, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (o *operationStore) Clear(ctx context.Context) (int, error) {
	if err := o.s.checkOpen(); err != nil {
		return 0, err
	}
	res, err := o.s.db.ExecContext(ctx, `DELETE FROM operations`)
	if err != nil {
		return 0, syncErrors.NewStorage(syncErrors.OpStore, component, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// deadLetterStore implements queue.DeadLetterStore over the dead_letter
// table. Dead-lettered operations keep only the fields relevant to
// inspection and manual retry.
type deadLetterStore struct {
	s *Store
}

var _ queue.DeadLetterStore = (*deadLetterStore)(nil)

const deadLetterColumns = `id, kind, entity_kind, entity_id, channel_id,
	payload, attempts, last_error, priority, created_at`

func scanDeadLetter(scan func(...any) error) (queue.Operation, error) {
	var (
		op      queue.Operation
		payload string
	)
	err := scan(&op.ID, &op.Kind, &op.EntityKind, &op.EntityID, &op.ChannelID,
		&payload, &op.Attempts, &op.LastError, &op.Priority, &op.CreatedAt)
	if err != nil {
		return queue.Operation{}, err
	}
	if err := unmarshalPayload(payload, &op.Payload); err != nil {
		return queue.Operation{}, err
	}
	op.Status = queue.StatusDeadLetter
	return op, nil
}

func (d *deadLetterStore) Insert(ctx context.Context, op queue.Operation) error {
	if err := d.s.checkOpen(); err != nil {
		return err
	}
	payload, err := marshalPayload(op.Payload)
	if err != nil {
		return syncErrors.NewInvalid(syncErrors.OpStore, component, err)
	}

	_, err = d.s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO dead_letter (`+deadLetterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Kind, op.EntityKind, op.EntityID, op.ChannelID, payload,
		op.Attempts, op.LastError, op.Priority, op.CreatedAt)
	if err != nil {
		return syncErrors.NewStorage(syncErrors.OpStore, component,
			fmt.Errorf("failed to insert dead-letter %s: %w", op.ID, err))
	}
	return nil
}

func (d *deadLetterStore) Get(ctx context.Context, id string) (*queue.Operation, error) {
	if err := d.s.checkOpen(); err != nil {
		return nil, err
	}
	row := d.s.db.QueryRowContext(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letter WHERE id = ?`, id)
	op, err := scanDeadLetter(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
	}
	return &op, nil
}

func (d *deadLetterStore) Remove(ctx context.Context, id string) error {
	if err := d.s.checkOpen(); err != nil {
		return err
	}
	if _, err := d.s.db.ExecContext(ctx, `DELETE FROM dead_letter WHERE id = ?`, id); err != nil {
		return syncErrors.NewStorage(syncErrors.OpStore, component, err)
	}
	return nil
}

func (d *deadLetterStore) All(ctx context.Context) ([]queue.Operation, error) {
	if err := d.s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := d.s.db.QueryContext(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letter ORDER BY created_at, id`)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
	}
	defer rows.Close()

	var out []queue.Operation
	for rows.Next() {
		op, err := scanDeadLetter(rows.Scan)
		if err != nil {
			return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpLoad, component, err)
	}
	return out, nil
}

func (d *deadLetterStore) Clear(ctx context.Context) (int, error) {
	if err := d.s.checkOpen(); err != nil {
		return 0, err
	}
	res, err := d.s.db.ExecContext(ctx, `DELETE FROM dead_letter`)
	if err != nil {
		return 0, syncErrors.NewStorage(syncErrors.OpStore, component, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
