package queue

import (
	"time"

	"github.com/syncwell/commentsync/comment"
)

// Kind is the mutation type an operation carries.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Status is the lifecycle state of an operation. Completed, cancelled and
// dead_letter are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusDeadLetter Status = "dead_letter"
)

// IsTerminal reports whether s is a terminal status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusDeadLetter
}

// Operation is one pending mutation awaiting push to the remote.
//
// At most one active (pending or in-progress) operation exists per
// (EntityKind, EntityID); contradictory operations are cancelled at enqueue
// time.
type Operation struct {
	ID         string
	Kind       Kind
	EntityKind string
	EntityID   string

	// ChannelID ties the operation to a sync channel. Empty means the
	// global scope.
	ChannelID string

	Payload comment.Payload

	// Attempts counts processor invocations that have failed so far.
	Attempts int

	// NextAttemptAt defers processing until the backoff window has passed.
	// Nil means eligible immediately.
	NextAttemptAt *time.Time

	LastError string
	Status    Status

	// Priority orders processing; higher runs sooner.
	Priority int

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// IsActive reports whether the operation still occupies its entity slot.
func (o *Operation) IsActive() bool {
	return o.Status == StatusPending || o.Status == StatusInProgress
}

// Eligible reports whether a pending operation may be processed at now.
func (o *Operation) Eligible(now time.Time) bool {
	if o.Status != StatusPending {
		return false
	}
	return o.NextAttemptAt == nil || !o.NextAttemptAt.After(now)
}

// Result is the outcome of processing one operation during ProcessAll.
type Result struct {
	OperationID  string
	Kind         Kind
	EntityID     string
	ChannelID    string
	Success      bool
	DeadLettered bool
	Err          error
}

// Stats is a point-in-time snapshot of queue state.
type Stats struct {
	Pending    int
	InFlight   int
	Completed  int
	Failed     int
	Cancelled  int
	DeadLetter int
	Processing bool
}
