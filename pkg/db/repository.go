package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/eon-neos/neosupdater/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides ledger operations
type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the ledger at dbPath
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}
	// The ledger is written by one worker; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Debug("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// RecordArtifact inserts an artifact or replaces the record with the same name.
func (r *Repository) RecordArtifact(ctx context.Context, a *Artifact) error {
	slog.Debug("database_record_artifact", "name", a.Name, "status", a.Status)

	query := `
		INSERT INTO artifacts (name, kind, url, sha256, local_path, size_bytes, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind,
			url = excluded.url,
			sha256 = excluded.sha256,
			local_path = excluded.local_path,
			size_bytes = excluded.size_bytes,
			status = excluded.status,
			error_message = excluded.error_message,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := r.db.ExecContext(ctx, query,
		a.Name, a.Kind, a.URL, a.SHA256, a.LocalPath, a.SizeBytes, a.Status, a.ErrorMessage); err != nil {
		slog.Error("database_upsert_failed", "name", a.Name, "error", err)
		return errors.Wrap(err, "failed to record artifact")
	}

	if err := r.db.QueryRowContext(ctx, `SELECT id FROM artifacts WHERE name = ?`, a.Name).Scan(&a.ID); err != nil {
		slog.Error("database_artifact_id_failed", "name", a.Name, "error", err)
		return errors.Wrap(err, "failed to read artifact id")
	}
	return nil
}

const artifactColumns = `id, name, kind, url, sha256, local_path, size_bytes, status, error_message, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(s scanner) (*Artifact, error) {
	var a Artifact
	var errorMessage sql.NullString
	if err := s.Scan(&a.ID, &a.Name, &a.Kind, &a.URL, &a.SHA256, &a.LocalPath, &a.SizeBytes,
		&a.Status, &errorMessage, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ErrorMessage = errorMessage.String
	return &a, nil
}

// GetArtifact retrieves an artifact by name. It returns nil, nil when absent.
func (r *Repository) GetArtifact(ctx context.Context, name string) (*Artifact, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE name = ?`, name)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "name", name, "error", err)
		return nil, errors.Wrap(err, "failed to query artifact")
	}
	return a, nil
}

// UpdateArtifactStatus updates only the status and error message
func (r *Repository) UpdateArtifactStatus(ctx context.Context, name, status, errorMessage string) error {
	slog.Debug("database_update_status", "name", name, "status", status)

	result, err := r.db.ExecContext(ctx,
		`UPDATE artifacts SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?`,
		status, errorMessage, name)
	if err != nil {
		slog.Error("database_status_update_failed", "name", name, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_artifact_not_found_for_update", "name", name)
		return fmt.Errorf("artifact not found: %s", name)
	}
	return nil
}

// ListArtifacts retrieves all artifacts, most recently updated first
func (r *Repository) ListArtifacts(ctx context.Context) ([]*Artifact, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+artifactColumns+` FROM artifacts ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list artifacts")
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Debug("database_list_complete", "artifact_count", len(artifacts))
	return artifacts, nil
}

// DeleteArtifact removes the record for name
func (r *Repository) DeleteArtifact(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM artifacts WHERE name = ?`, name); err != nil {
		slog.Error("database_delete_failed", "name", name, "error", err)
		return errors.Wrap(err, "failed to delete artifact")
	}
	slog.Info("database_artifact_deleted", "name", name)
	return nil
}

// StartRun records a new run in the running state
func (r *Repository) StartRun(ctx context.Context, run *Run) error {
	if run.Outcome == "" {
		run.Outcome = OutcomeRunning
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, manifest_url, mode, outcome) VALUES (?, ?, ?, ?)`,
		run.ID, run.ManifestURL, run.Mode, run.Outcome)
	if err != nil {
		slog.Error("database_run_insert_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to insert run")
	}
	return nil
}

// FinishRun sets the final outcome of a run
func (r *Repository) FinishRun(ctx context.Context, id, outcome, errorMessage string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE runs SET outcome = ?, error_message = ?, finished_at = CURRENT_TIMESTAMP WHERE id = ?`,
		outcome, errorMessage, id)
	if err != nil {
		slog.Error("database_run_update_failed", "run_id", id, "error", err)
		return errors.Wrap(err, "failed to finish run")
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT id, manifest_url, mode, outcome, error_message, started_at, finished_at
		FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("database_runs_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var errorMessage, finishedAt sql.NullString
		if err := rows.Scan(&run.ID, &run.ManifestURL, &run.Mode, &run.Outcome,
			&errorMessage, &run.StartedAt, &finishedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		run.ErrorMessage = errorMessage.String
		run.FinishedAt = finishedAt.String
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return runs, nil
}
