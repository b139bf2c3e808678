package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ethos/internal/convergence"
	"github.com/roach88/ethos/internal/ir"
)

// ArtifactInfo describes a stored artifact without its payload.
type ArtifactInfo struct {
	Hash           string            `json:"hash"`
	Implementation ir.Implementation `json:"implementation"`
	SchemaVersion  string            `json:"schema_version"`
	Versions       []ir.Version      `json:"versions"`
	Methods        int               `json:"methods"`
	Types          int               `json:"types"`
	Size           int               `json:"size"`
	Seq            int64             `json:"seq"`
}

// GetArtifact loads the document stored under hash. The payload is
// re-hashed on the way out; a mismatch is reported as corruption.
func (s *Store) GetArtifact(ctx context.Context, hash string) (*ir.ProtocolIR, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM artifacts WHERE hash = ?", hash).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact %s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", hash, err)
	}
	doc, err := s.decodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", hash, err)
	}
	got, err := doc.Hash()
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", hash, err)
	}
	if got != hash {
		return nil, fmt.Errorf("get artifact %s: payload hashes to %s", hash, got)
	}
	return doc, nil
}

// LatestArtifact returns the most recently stored artifact of impl.
func (s *Store) LatestArtifact(ctx context.Context, impl ir.Implementation) (*ir.ProtocolIR, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT hash FROM artifacts
		WHERE implementation = ?
		ORDER BY seq DESC
		LIMIT 1
	`, string(impl)).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact of %s: %w", impl, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest artifact of %s: %w", impl, err)
	}
	return s.GetArtifact(ctx, hash)
}

// ListArtifacts lists stored artifacts in insertion order. An empty impl
// lists every implementation.
func (s *Store) ListArtifacts(ctx context.Context, impl ir.Implementation) ([]ArtifactInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, implementation, schema_version, versions, methods, types, size, seq
		FROM artifacts
		WHERE ? = '' OR implementation = ?
		ORDER BY seq ASC, hash ASC COLLATE BINARY
	`, string(impl), string(impl))
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []ArtifactInfo
	for rows.Next() {
		var (
			info     ArtifactInfo
			implText string
			versions string
		)
		if err := rows.Scan(&info.Hash, &implText, &info.SchemaVersion, &versions,
			&info.Methods, &info.Types, &info.Size, &info.Seq); err != nil {
			return nil, fmt.Errorf("list artifacts: %w", err)
		}
		info.Implementation = ir.Implementation(implText)
		if info.Versions, err = unmarshalVersions(versions); err != nil {
			return nil, fmt.Errorf("list artifacts: %s: %w", info.Hash, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

const runColumns = `id, command, implementation, status, started_at, finished_at,
	artifact_hash, warnings, error, seq`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run               Run
		impl, status      string
		started, finished string
	)
	if err := row.Scan(&run.ID, &run.Command, &impl, &status, &started, &finished,
		&run.ArtifactHash, &run.Warnings, &run.Error, &run.Seq); err != nil {
		return Run{}, err
	}
	run.Implementation = ir.Implementation(impl)
	run.Status = RunStatus(status)

	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, fmt.Errorf("run %s: started_at: %w", run.ID, err)
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return Run{}, fmt.Errorf("run %s: finished_at: %w", run.ID, err)
	}
	return run, nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// Runs lists runs in start order. An empty impl lists every
// implementation.
func (s *Store) Runs(ctx context.Context, impl ir.Implementation) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE ? = '' OR implementation = ?
		ORDER BY seq ASC, id ASC COLLATE BINARY
	`, string(impl), string(impl))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Divergences returns the divergences recorded for a run, in recording
// order.
func (s *Store) Divergences(ctx context.Context, runID string) ([]convergence.Divergence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT method, path, kind, expected, observed
		FROM divergences
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("divergences of run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []convergence.Divergence
	for rows.Next() {
		var (
			d    convergence.Divergence
			kind string
		)
		if err := rows.Scan(&d.Method, &d.Path, &kind, &d.Expected, &d.Observed); err != nil {
			return nil, fmt.Errorf("divergences of run %s: %w", runID, err)
		}
		d.Kind = convergence.Kind(kind)
		out = append(out, d)
	}
	return out, rows.Err()
}
