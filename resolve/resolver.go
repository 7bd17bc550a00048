// Package resolve decides which side of a concurrently edited entity wins.
// Resolvers are stateless, deterministic functions of their inputs; they
// own nothing persistent and have no side effects.
package resolve

import (
	"context"

	"github.com/syncwell/commentsync/comment"
	"github.com/syncwell/commentsync/syncstate"
)

// Decision strings surfaced for audit and telemetry.
const (
	DecisionFastForward = "fast_forward"
	DecisionKeepLocal   = "keep_local"
	DecisionKeepRemote  = "keep_remote"
)

// Resolution is the outcome of resolving one local/remote pair.
type Resolution struct {
	// Resolved is the winning entity.
	Resolved comment.Comment

	// HadConflict reports whether both sides changed independently.
	// A detected conflict is a resolved condition, never an error.
	HadConflict bool

	// Decision names the outcome for audit ("fast_forward", "keep_local",
	// "keep_remote").
	Decision string
}

// Resolver decides the outcome for one entity given its local copy, the
// remote copy from a delta fetch, and the local sync bookkeeping.
type Resolver interface {
	Resolve(ctx context.Context, local, remote comment.Comment, localState syncstate.EntityState) (Resolution, error)
}

// TieBreak selects the winner when local and remote carry the exact same
// modification timestamp. Equal timestamps usually indicate clock skew or
// simultaneous edits, where either choice is defensible; the server-wins
// default matches the remote being the tie-break authority.
type TieBreak int

const (
	PreferRemote TieBreak = iota
	PreferLocal
)

// LastWriterWins resolves by comparing modification timestamps, flagging a
// conflict whenever both sides diverged since the last sync.
type LastWriterWins struct {
	// Tie selects the winner on exact timestamp equality. Zero value is
	// PreferRemote.
	Tie TieBreak
}

var _ Resolver = (*LastWriterWins)(nil)

// Resolve implements the Resolver interface.
//
// If the local copy has not been modified since its last sync, the remote
// copy is accepted unconditionally with no conflict. Otherwise both sides
// changed independently: the entity with the later updated-at wins, and
// HadConflict is true regardless of which side that is.
func (r *LastWriterWins) Resolve(ctx context.Context, local, remote comment.Comment, localState syncstate.EntityState) (Resolution, error) {
	if !localState.ModifiedAfterLastSync {
		return Resolution{Resolved: remote, Decision: DecisionFastForward}, nil
	}

	localAt := local.UpdatedAt
	remoteAt := remote.UpdatedAt

	switch {
	case localAt.After(remoteAt):
		return Resolution{Resolved: local, HadConflict: true, Decision: DecisionKeepLocal}, nil
	case remoteAt.After(localAt):
		return Resolution{Resolved: remote, HadConflict: true, Decision: DecisionKeepRemote}, nil
	default:
		if r.Tie == PreferLocal {
			return Resolution{Resolved: local, HadConflict: true, Decision: DecisionKeepLocal}, nil
		}
		return Resolution{Resolved: remote, HadConflict: true, Decision: DecisionKeepRemote}, nil
	}
}
