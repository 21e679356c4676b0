// Package history persists the dispatch log: one row per turn, one row per
// tool job. It is an audit trail, not a queue; the runtime never blocks on
// it.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mattjoyce/herald/internal/intent"
)

// Turn is one user utterance and its outcome.
type Turn struct {
	TurnID      string    `json:"turn_id"`
	Gen         uint64    `json:"gen"`
	Text        string    `json:"text"`
	Mode        string    `json:"mode"`
	Source      string    `json:"source"`
	Confidence  float64   `json:"confidence"`
	OK          bool      `json:"ok"`
	Reply       string    `json:"reply"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Job is one executed tool call.
type Job struct {
	JobID       string         `json:"job_id"`
	TurnID      string         `json:"turn_id"`
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args,omitempty"`
	Status      string         `json:"status"`
	ErrCode     string         `json:"err_code,omitempty"`
	Error       string         `json:"error,omitempty"`
	Gen         uint64         `json:"gen"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Store wraps the sqlite handle.
type Store struct {
	db *sql.DB
}

// NewStore wraps an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// BeginTurn records an accepted utterance before routing.
func (s *Store) BeginTurn(ctx context.Context, turnID string, gen uint64, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (turn_id, gen, text, created_at) VALUES (?, ?, ?, ?)`,
		turnID, gen, text, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("begin turn: %w", err)
	}
	return nil
}

// CompleteTurn records the routing decision and final reply for a turn.
func (s *Store) CompleteTurn(ctx context.Context, turnID string, d intent.RoutingDecision, ok bool, reply string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE turns SET mode = ?, source = ?, confidence = ?, ok = ?, reply = ?, completed_at = ?
		 WHERE turn_id = ?`,
		string(d.Mode), d.Source, d.Confidence, boolToInt(ok), reply,
		time.Now().UTC().Format(time.RFC3339Nano), turnID,
	)
	if err != nil {
		return fmt.Errorf("complete turn: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete turn: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("complete turn: unknown turn_id %q", turnID)
	}
	return nil
}

// RecordJob logs one finished tool job.
func (s *Store) RecordJob(ctx context.Context, j Job) error {
	args := "{}"
	if j.Args != nil {
		raw, err := json.Marshal(j.Args)
		if err != nil {
			return fmt.Errorf("marshal job args: %w", err)
		}
		args = string(raw)
	}
	created := j.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	completed := j.CompletedAt
	if completed.IsZero() {
		completed = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_log (job_id, turn_id, tool, args, status, err_code, error, gen, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.JobID, j.TurnID, j.Tool, args, j.Status, j.ErrCode, j.Error, j.Gen,
		created.Format(time.RFC3339Nano), completed.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record job: %w", err)
	}
	return nil
}

// RecentTurns returns the latest turns, newest first.
func (s *Store) RecentTurns(ctx context.Context, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_id, gen, text, COALESCE(mode, ''), COALESCE(source, ''),
		        COALESCE(confidence, 0), COALESCE(ok, 0), COALESCE(reply, ''),
		        created_at, COALESCE(completed_at, '')
		 FROM turns ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var okInt int
		var created, completed string
		if err := rows.Scan(&t.TurnID, &t.Gen, &t.Text, &t.Mode, &t.Source,
			&t.Confidence, &okInt, &t.Reply, &created, &completed); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.OK = okInt != 0
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if completed != "" {
			t.CompletedAt, _ = time.Parse(time.RFC3339Nano, completed)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// JobsForTurn returns the jobs logged under one turn, oldest first.
func (s *Store) JobsForTurn(ctx context.Context, turnID string) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, COALESCE(turn_id, ''), tool, COALESCE(args, '{}'), status,
		        COALESCE(err_code, ''), COALESCE(error, ''), gen, created_at, completed_at
		 FROM job_log WHERE turn_id = ? ORDER BY created_at ASC`, turnID)
	if err != nil {
		return nil, fmt.Errorf("jobs for turn: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		var args, created, completed string
		if err := rows.Scan(&j.JobID, &j.TurnID, &j.Tool, &args, &j.Status,
			&j.ErrCode, &j.Error, &j.Gen, &created, &completed); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		_ = json.Unmarshal([]byte(args), &j.Args)
		j.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		j.CompletedAt, _ = time.Parse(time.RFC3339Nano, completed)
		out = append(out, j)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
