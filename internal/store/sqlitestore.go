package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is an embedded single-file Store backend for local runs
// and tests that want Store semantics without standing up Postgres.
// Schema mirrors PGStore's JSONB-blob shape over plain TEXT columns.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS eval_results (
	artifact_id TEXT PRIMARY KEY,
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS collections (
	name TEXT PRIMARY KEY,
	members TEXT NOT NULL,
	meta TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`

// NewSQLiteStore opens (creating if needed) a sqlite database file at
// path and ensures the backing schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // the sqlite3 driver serializes writes; one conn avoids SQLITE_BUSY churn
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) WriteArtifact(ctx context.Context, a Artifact) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal artifact: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, run_id, body, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET run_id = excluded.run_id, body = excluded.body
	`, a.ID, a.RunID, body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlitestore: write artifact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadArtifact(ctx context.Context, id string) (Artifact, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM artifacts WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("sqlitestore: read artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return Artifact{}, fmt.Errorf("sqlitestore: decode artifact: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM artifacts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan artifact: %w", err)
		}
		var a Artifact
		if err := json.Unmarshal([]byte(body), &a); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteArtifact(ctx context.Context, id string) error {
	cols, err := s.ListCollections(ctx)
	if err != nil {
		return err
	}
	for _, c := range cols {
		for _, m := range c.Members {
			if m == id {
				return ErrCollectionNotEmpty
			}
		}
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete artifact: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) WriteEvalResult(ctx context.Context, r EvalResult) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal eval result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO eval_results (artifact_id, body) VALUES (?, ?)
		ON CONFLICT(artifact_id) DO UPDATE SET body = excluded.body
	`, r.ArtifactID, body)
	if err != nil {
		return fmt.Errorf("sqlitestore: write eval result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadEvalResult(ctx context.Context, artifactID string) (EvalResult, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM eval_results WHERE artifact_id = ?`, artifactID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return EvalResult{}, ErrNotFound
	}
	if err != nil {
		return EvalResult{}, fmt.Errorf("sqlitestore: read eval result: %w", err)
	}
	var r EvalResult
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return EvalResult{}, fmt.Errorf("sqlitestore: decode eval result: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) CreateCollection(ctx context.Context, name string, artifactIDs []string) (Collection, error) {
	var meta ArtifactMeta
	if len(artifactIDs) > 0 {
		first, err := s.ReadArtifact(ctx, artifactIDs[0])
		if err != nil {
			return Collection{}, err
		}
		meta = first.Meta
	}
	membersJSON, _ := json.Marshal(artifactIDs)
	metaJSON, _ := json.Marshal(meta)
	createdAt := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `INSERT INTO collections (name, members, meta, created_at) VALUES (?, ?, ?, ?)`,
		name, membersJSON, metaJSON, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Collection{}, ErrCollectionExists
		}
		return Collection{}, fmt.Errorf("sqlitestore: create collection: %w", err)
	}
	return Collection{Name: name, Members: artifactIDs, CreatedAt: createdAt, Meta: meta}, nil
}

func (s *SQLiteStore) ReadCollection(ctx context.Context, name string) (Collection, error) {
	var membersJSON, metaJSON string
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `SELECT members, meta, created_at FROM collections WHERE name = ?`, name).
		Scan(&membersJSON, &metaJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, ErrNotFound
	}
	if err != nil {
		return Collection{}, fmt.Errorf("sqlitestore: read collection: %w", err)
	}
	var members []string
	var meta ArtifactMeta
	json.Unmarshal([]byte(membersJSON), &members)
	json.Unmarshal([]byte(metaJSON), &meta)
	return Collection{Name: name, Members: members, CreatedAt: createdAt, Meta: meta}, nil
}

func (s *SQLiteStore) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, members, meta, created_at FROM collections ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list collections: %w", err)
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var name, membersJSON, metaJSON string
		var createdAt time.Time
		if err := rows.Scan(&name, &membersJSON, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan collection: %w", err)
		}
		var members []string
		var meta ArtifactMeta
		json.Unmarshal([]byte(membersJSON), &members)
		json.Unmarshal([]byte(metaJSON), &meta)
		out = append(out, Collection{Name: name, Members: members, CreatedAt: createdAt, Meta: meta})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddToCollection(ctx context.Context, name string, artifactID string) error {
	if _, err := s.ReadArtifact(ctx, artifactID); err != nil {
		return err
	}
	c, err := s.ReadCollection(ctx, name)
	if err != nil {
		return err
	}
	for _, m := range c.Members {
		if m == artifactID {
			return nil
		}
	}
	c.Members = append(c.Members, artifactID)
	if len(c.Members) == 1 {
		first, err := s.ReadArtifact(ctx, artifactID)
		if err == nil {
			c.Meta = first.Meta
		}
	}
	return s.updateCollection(ctx, c)
}

func (s *SQLiteStore) RemoveFromCollection(ctx context.Context, name string, artifactID string) error {
	c, err := s.ReadCollection(ctx, name)
	if err != nil {
		return err
	}
	members := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		if m != artifactID {
			members = append(members, m)
		}
	}
	c.Members = members
	return s.updateCollection(ctx, c)
}

func (s *SQLiteStore) updateCollection(ctx context.Context, c Collection) error {
	membersJSON, _ := json.Marshal(c.Members)
	metaJSON, _ := json.Marshal(c.Meta)
	_, err := s.db.ExecContext(ctx, `UPDATE collections SET members = ?, meta = ? WHERE name = ?`, membersJSON, metaJSON, c.Name)
	if err != nil {
		return fmt.Errorf("sqlitestore: update collection: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteCollection(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete collection: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
