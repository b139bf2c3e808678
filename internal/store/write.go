package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/ethos/internal/convergence"
	"github.com/roach88/ethos/internal/ir"
)

// PutArtifact stores doc under its IR hash. Storing the same document twice
// is a no-op; inserted reports whether a new row was written.
func (s *Store) PutArtifact(ctx context.Context, doc *ir.ProtocolIR) (hash string, inserted bool, err error) {
	hash, err = doc.Hash()
	if err != nil {
		return "", false, fmt.Errorf("put artifact: %w", err)
	}
	payload, size, err := s.encodePayload(doc)
	if err != nil {
		return "", false, fmt.Errorf("put artifact: %w", err)
	}
	versions, err := marshalVersions(doc)
	if err != nil {
		return "", false, fmt.Errorf("put artifact: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("put artifact: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	seq, err := nextSeq(ctx, tx, "artifacts")
	if err != nil {
		return "", false, fmt.Errorf("put artifact: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO artifacts
		(hash, implementation, schema_version, versions, methods, types, size, payload, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`,
		hash,
		string(doc.Implementation),
		doc.SchemaVersion,
		versions,
		len(doc.Methods),
		len(doc.Types),
		size,
		payload,
		seq,
	)
	if err != nil {
		return "", false, fmt.Errorf("put artifact: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("put artifact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("put artifact: commit: %w", err)
	}
	return hash, n > 0, nil
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunOK      RunStatus = "ok"
	RunFailed  RunStatus = "failed"
)

// Run is one recorded invocation of a pipeline command.
type Run struct {
	ID             string            `json:"id"`
	Command        string            `json:"command"`
	Implementation ir.Implementation `json:"implementation"`
	Status         RunStatus         `json:"status"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at,omitzero"`
	ArtifactHash   string            `json:"artifact_hash,omitempty"`
	Warnings       int               `json:"warnings"`
	Error          string            `json:"error,omitempty"`
	Seq            int64             `json:"seq"`
}

// Outcome is what FinishRun records.
type Outcome struct {
	ArtifactHash string
	Warnings     int
	Err          error
}

// BeginRun records a new running run and returns it.
func (s *Store) BeginRun(ctx context.Context, command string, impl ir.Implementation) (Run, error) {
	run := Run{
		ID:             s.ids.NewID(),
		Command:        command,
		Implementation: impl,
		Status:         RunRunning,
		StartedAt:      s.clock.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("begin run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	run.Seq, err = nextSeq(ctx, tx, "runs")
	if err != nil {
		return Run{}, fmt.Errorf("begin run: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, command, implementation, status, started_at, seq)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Command,
		string(run.Implementation),
		string(run.Status),
		formatTime(run.StartedAt),
		run.Seq,
	)
	if err != nil {
		return Run{}, fmt.Errorf("begin run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("begin run: commit: %w", err)
	}
	return run, nil
}

// FinishRun closes a running run with its outcome. A run can be finished
// once; finishing it again returns ErrNotFound.
func (s *Store) FinishRun(ctx context.Context, id string, out Outcome) error {
	status, errText := RunOK, ""
	if out.Err != nil {
		status, errText = RunFailed, out.Err.Error()
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, finished_at = ?, artifact_hash = ?, warnings = ?, error = ?
		WHERE id = ? AND status = 'running'
	`,
		string(status),
		formatTime(s.clock.Now().UTC()),
		out.ArtifactHash,
		out.Warnings,
		errText,
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: no running run: %w", id, ErrNotFound)
	}
	return nil
}

// RecordDivergences appends divergences to a run, after any already
// recorded for it.
func (s *Store) RecordDivergences(ctx context.Context, runID string, divs []convergence.Divergence) error {
	if len(divs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record divergences: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM divergences WHERE run_id = ?", runID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("record divergences: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO divergences (run_id, seq, method, path, kind, expected, observed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("record divergences: %w", err)
	}
	defer stmt.Close()

	for _, d := range divs {
		seq++
		if _, err := stmt.ExecContext(ctx, runID, seq, d.Method, d.Path, string(d.Kind), d.Expected, d.Observed); err != nil {
			return fmt.Errorf("record divergences for run %s: %w", runID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record divergences: commit: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
