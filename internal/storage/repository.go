package storage

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	CreateUpload(ctx context.Context, u *Upload) error
	GetUpload(ctx context.Context, id string) (*Upload, error)
	ListUploadsBefore(ctx context.Context, cutoff time.Time) ([]*Upload, error)
	DeleteUpload(ctx context.Context, id string) error

	CreateArtifact(ctx context.Context, a *ArtifactRecord) error
	GetArtifact(ctx context.Context, name string) (*ArtifactRecord, error)
	ListArtifactsByRun(ctx context.Context, runID string) ([]*ArtifactRecord, error)
	ListArtifactsBefore(ctx context.Context, cutoff time.Time) ([]*ArtifactRecord, error)
	DeleteArtifact(ctx context.Context, name string) error

	CreateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id, status string, succeeded int, errorMsg string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateUpload(ctx context.Context, u *Upload) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO uploads (id, original_name, path, size, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.OriginalName, u.Path, u.Size, formatTime(u.CreatedAt))
	return err
}

func (r *SQLiteRepository) GetUpload(ctx context.Context, id string) (*Upload, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, original_name, path, size, created_at
		FROM uploads WHERE id = ?
	`, id)

	var u Upload
	var createdAt string
	err := row.Scan(&u.ID, &u.OriginalName, &u.Path, &u.Size, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func (r *SQLiteRepository) ListUploadsBefore(ctx context.Context, cutoff time.Time) ([]*Upload, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, original_name, path, size, created_at
		FROM uploads WHERE created_at < ? ORDER BY created_at
	`, formatTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []*Upload
	for rows.Next() {
		var u Upload
		var createdAt string
		if err := rows.Scan(&u.ID, &u.OriginalName, &u.Path, &u.Size, &createdAt); err != nil {
			return nil, err
		}
		u.CreatedAt = parseTime(createdAt)
		uploads = append(uploads, &u)
	}
	return uploads, rows.Err()
}

func (r *SQLiteRepository) DeleteUpload(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM uploads WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) CreateArtifact(ctx context.Context, a *ArtifactRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO artifacts (name, run_id, upload_id, path, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.Name, nullString(a.RunID), nullString(a.UploadID), a.Path, a.Size, formatTime(a.CreatedAt))
	return err
}

func (r *SQLiteRepository) GetArtifact(ctx context.Context, name string) (*ArtifactRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT name, run_id, upload_id, path, size, created_at
		FROM artifacts WHERE name = ?
	`, name)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (r *SQLiteRepository) ListArtifactsByRun(ctx context.Context, runID string) ([]*ArtifactRecord, error) {
	return r.listArtifacts(ctx, `
		SELECT name, run_id, upload_id, path, size, created_at
		FROM artifacts WHERE run_id = ? ORDER BY created_at, name
	`, runID)
}

func (r *SQLiteRepository) ListArtifactsBefore(ctx context.Context, cutoff time.Time) ([]*ArtifactRecord, error) {
	return r.listArtifacts(ctx, `
		SELECT name, run_id, upload_id, path, size, created_at
		FROM artifacts WHERE created_at < ? ORDER BY created_at
	`, formatTime(cutoff))
}

func (r *SQLiteRepository) listArtifacts(ctx context.Context, query string, args ...any) ([]*ArtifactRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*ArtifactRecord
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(s scanner) (*ArtifactRecord, error) {
	var a ArtifactRecord
	var runID, uploadID sql.NullString
	var createdAt string
	if err := s.Scan(&a.Name, &runID, &uploadID, &a.Path, &a.Size, &createdAt); err != nil {
		return nil, err
	}
	a.RunID = runID.String
	a.UploadID = uploadID.String
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

func (r *SQLiteRepository) DeleteArtifact(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM artifacts WHERE name = ?", name)
	return err
}

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, upload_id, status, total, succeeded, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.UploadID, run.Status, run.Total, run.Succeeded, nullString(run.Error),
		formatTime(run.CreatedAt), formatTime(run.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, upload_id, status, total, succeeded, error, created_at, updated_at
		FROM runs WHERE id = ?
	`, id)

	var run Run
	var errMsg sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&run.ID, &run.UploadID, &run.Status, &run.Total, &run.Succeeded, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.Error = errMsg.String
	run.CreatedAt = parseTime(createdAt)
	run.UpdatedAt = parseTime(updatedAt)
	return &run, nil
}

func (r *SQLiteRepository) FinishRun(ctx context.Context, id, status string, succeeded int, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, succeeded = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, succeeded, nullString(errorMsg), formatTime(time.Now()), id)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	// datetime('now') as written by the startup sweep
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
