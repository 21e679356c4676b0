package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mattjoyce/herald/internal/intent"
	"github.com/mattjoyce/herald/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestTurnLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.BeginTurn(ctx, "turn-1", 2, "open spotify"); err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}

	d := intent.RoutingDecision{
		Mode:       intent.ModeToolPlan,
		Confidence: 0.9,
		Source:     "pattern",
	}
	if err := s.CompleteTurn(ctx, "turn-1", d, true, "Opening spotify."); err != nil {
		t.Fatalf("CompleteTurn: %v", err)
	}

	turns, err := s.RecentTurns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(turns))
	}
	got := turns[0]
	if got.TurnID != "turn-1" || !got.OK || got.Mode != "tool_plan" || got.Source != "pattern" {
		t.Errorf("unexpected turn: %+v", got)
	}
	if got.Reply != "Opening spotify." {
		t.Errorf("reply = %q", got.Reply)
	}
}

func TestCompleteUnknownTurn(t *testing.T) {
	s := newTestStore(t)
	err := s.CompleteTurn(context.Background(), "ghost", intent.RoutingDecision{}, false, "")
	if err == nil {
		t.Fatal("expected error for unknown turn_id")
	}
}

func TestRecordAndListJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.BeginTurn(ctx, "turn-1", 1, "open spotify and chrome"); err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}

	jobs := []Job{
		{JobID: "j1", TurnID: "turn-1", Tool: "open_target", Args: map[string]any{"target": "spotify"}, Status: "ok", Gen: 1},
		{JobID: "j2", TurnID: "turn-1", Tool: "open_target", Args: map[string]any{"target": "chrome"}, Status: "error", ErrCode: "timeout", Error: "worker did not answer in time", Gen: 1},
	}
	for _, j := range jobs {
		if err := s.RecordJob(ctx, j); err != nil {
			t.Fatalf("RecordJob(%s): %v", j.JobID, err)
		}
	}

	got, err := s.JobsForTurn(ctx, "turn-1")
	if err != nil {
		t.Fatalf("JobsForTurn: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d jobs, want 2", len(got))
	}
	if got[0].JobID != "j1" || got[0].Args["target"] != "spotify" {
		t.Errorf("unexpected first job: %+v", got[0])
	}
	if got[1].ErrCode != "timeout" {
		t.Errorf("err_code = %q, want timeout", got[1].ErrCode)
	}
}

func TestDuplicateJobIDRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := Job{JobID: "j1", Tool: "get_time", Status: "ok", Gen: 0}
	if err := s.RecordJob(ctx, j); err != nil {
		t.Fatalf("first RecordJob: %v", err)
	}
	if err := s.RecordJob(ctx, j); err == nil {
		t.Fatal("expected primary key violation for duplicate job_id")
	}
}
