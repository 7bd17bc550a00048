package resolve

import (
	"context"
	"testing"
	"time"

	"github.com/syncwell/commentsync/comment"
	"github.com/syncwell/commentsync/syncstate"
)

func mkComment(id, text string, updatedAt time.Time) comment.Comment {
	return comment.Comment{ID: id, Text: text, UpdatedAt: updatedAt}
}

func TestLastWriterWins_FastForwardWhenClean(t *testing.T) {
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	local := mkComment("c1", "old", base)
	remote := mkComment("c1", "new", base.Add(time.Hour))

	r := &LastWriterWins{}
	res, err := r.Resolve(context.Background(), local, remote,
		syncstate.EntityState{EntityID: "c1", ModifiedAfterLastSync: false})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if res.HadConflict {
		t.Error("clean local copy must not produce a conflict")
	}
	if res.Decision != DecisionFastForward {
		t.Errorf("decision = %q, want %q", res.Decision, DecisionFastForward)
	}
	if res.Resolved.Text != "new" {
		t.Errorf("resolved text = %q, want remote copy", res.Resolved.Text)
	}
}

func TestLastWriterWins_ConflictMatrix(t *testing.T) {
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	dirty := syncstate.EntityState{EntityID: "c1", ModifiedAfterLastSync: true}

	cases := []struct {
		name         string
		localAt      time.Time
		remoteAt     time.Time
		wantText     string
		wantDecision string
	}{
		{"local newer wins", base.Add(time.Hour), base, "local", DecisionKeepLocal},
		{"remote newer wins", base, base.Add(time.Hour), "remote", DecisionKeepRemote},
		{"tie prefers remote by default", base, base, "remote", DecisionKeepRemote},
	}

	r := &LastWriterWins{}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			local := mkComment("c1", "local", tc.localAt)
			remote := mkComment("c1", "remote", tc.remoteAt)

			res, err := r.Resolve(context.Background(), local, remote, dirty)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if !res.HadConflict {
				t.Error("divergent copies must report a conflict")
			}
			if res.Resolved.Text != tc.wantText {
				t.Errorf("resolved = %q, want %q", res.Resolved.Text, tc.wantText)
			}
			if res.Decision != tc.wantDecision {
				t.Errorf("decision = %q, want %q", res.Decision, tc.wantDecision)
			}
		})
	}
}

func TestLastWriterWins_TieBreakPreferLocal(t *testing.T) {
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	local := mkComment("c1", "local", base)
	remote := mkComment("c1", "remote", base)

	r := &LastWriterWins{Tie: PreferLocal}
	res, err := r.Resolve(context.Background(), local, remote,
		syncstate.EntityState{EntityID: "c1", ModifiedAfterLastSync: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if res.Resolved.Text != "local" || res.Decision != DecisionKeepLocal {
		t.Errorf("tie with PreferLocal resolved %q (%s), want local", res.Resolved.Text, res.Decision)
	}
	if !res.HadConflict {
		t.Error("tie is still a conflict")
	}
}

// Resolution must depend only on the inputs: the same pair resolved twice
// yields the same outcome.
func TestLastWriterWins_Deterministic(t *testing.T) {
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	local := mkComment("c1", "local", base.Add(time.Minute))
	remote := mkComment("c1", "remote", base)
	dirty := syncstate.EntityState{EntityID: "c1", ModifiedAfterLastSync: true}

	r := &LastWriterWins{}
	first, err := r.Resolve(context.Background(), local, remote, dirty)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := r.Resolve(context.Background(), local, remote, dirty)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if first.Decision != second.Decision || first.Resolved.Text != second.Resolved.Text {
		t.Errorf("resolution is not deterministic: %+v vs %+v", first, second)
	}
}
