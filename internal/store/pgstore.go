package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is a Postgres-backed Store, for deployments that want
// artifacts queryable alongside other control-plane data instead of on
// disk. Artifacts and EvalResults are stored as JSONB blobs keyed by
// id; the Store contract only requires atomic replace and per-id
// write serialization, both of which a single UPSERT statement gives
// for free without hand-rolled locking.
type PGStore struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	body       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS eval_results (
	artifact_id TEXT PRIMARY KEY REFERENCES artifacts(id) ON DELETE RESTRICT,
	body        JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS collections (
	name       TEXT PRIMARY KEY,
	members    JSONB NOT NULL,
	meta       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// NewPGStore connects to url and ensures the backing schema exists.
func NewPGStore(ctx context.Context, url string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: migrate: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PGStore) Close() { s.pool.Close() }

func (s *PGStore) WriteArtifact(ctx context.Context, a Artifact) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("pgstore: marshal artifact: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO artifacts (id, run_id, body) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET run_id = EXCLUDED.run_id, body = EXCLUDED.body
	`, a.ID, a.RunID, body)
	if err != nil {
		return fmt.Errorf("pgstore: write artifact: %w", err)
	}
	return nil
}

func (s *PGStore) ReadArtifact(ctx context.Context, id string) (Artifact, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM artifacts WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("pgstore: read artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(body, &a); err != nil {
		return Artifact{}, fmt.Errorf("pgstore: decode artifact: %w", err)
	}
	return a, nil
}

func (s *PGStore) ListArtifacts(ctx context.Context) ([]Artifact, error) {
	rows, err := s.pool.Query(ctx, `SELECT body FROM artifacts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("pgstore: scan artifact: %w", err)
		}
		var a Artifact
		if err := json.Unmarshal(body, &a); err != nil {
			return nil, fmt.Errorf("pgstore: decode artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PGStore) DeleteArtifact(ctx context.Context, id string) error {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM collections
		WHERE members @> to_jsonb($1::text)
	`, id).Scan(&count)
	if err != nil {
		return fmt.Errorf("pgstore: check collection membership: %w", err)
	}
	if count > 0 {
		return ErrCollectionNotEmpty
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM artifacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) WriteEvalResult(ctx context.Context, r EvalResult) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("pgstore: marshal eval result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO eval_results (artifact_id, body) VALUES ($1, $2)
		ON CONFLICT (artifact_id) DO UPDATE SET body = EXCLUDED.body
	`, r.ArtifactID, body)
	if err != nil {
		return fmt.Errorf("pgstore: write eval result: %w", err)
	}
	return nil
}

func (s *PGStore) ReadEvalResult(ctx context.Context, artifactID string) (EvalResult, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM eval_results WHERE artifact_id = $1`, artifactID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return EvalResult{}, ErrNotFound
	}
	if err != nil {
		return EvalResult{}, fmt.Errorf("pgstore: read eval result: %w", err)
	}
	var r EvalResult
	if err := json.Unmarshal(body, &r); err != nil {
		return EvalResult{}, fmt.Errorf("pgstore: decode eval result: %w", err)
	}
	return r, nil
}

func (s *PGStore) CreateCollection(ctx context.Context, name string, artifactIDs []string) (Collection, error) {
	var meta ArtifactMeta
	if len(artifactIDs) > 0 {
		first, err := s.ReadArtifact(ctx, artifactIDs[0])
		if err != nil {
			return Collection{}, err
		}
		meta = first.Meta
	}

	membersJSON, err := json.Marshal(artifactIDs)
	if err != nil {
		return Collection{}, fmt.Errorf("pgstore: marshal members: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Collection{}, fmt.Errorf("pgstore: marshal meta: %w", err)
	}

	var createdAt time.Time
	err = s.pool.QueryRow(ctx, `
		INSERT INTO collections (name, members, meta) VALUES ($1, $2, $3)
		RETURNING created_at
	`, name, membersJSON, metaJSON).Scan(&createdAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return Collection{}, ErrCollectionExists
	}
	if err != nil {
		return Collection{}, fmt.Errorf("pgstore: create collection: %w", err)
	}
	return Collection{Name: name, Members: artifactIDs, CreatedAt: createdAt, Meta: meta}, nil
}

func (s *PGStore) ReadCollection(ctx context.Context, name string) (Collection, error) {
	var membersJSON, metaJSON []byte
	var createdAt time.Time
	err := s.pool.QueryRow(ctx, `SELECT members, meta, created_at FROM collections WHERE name = $1`, name).
		Scan(&membersJSON, &metaJSON, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Collection{}, ErrNotFound
	}
	if err != nil {
		return Collection{}, fmt.Errorf("pgstore: read collection: %w", err)
	}
	var members []string
	var meta ArtifactMeta
	if err := json.Unmarshal(membersJSON, &members); err != nil {
		return Collection{}, fmt.Errorf("pgstore: decode members: %w", err)
	}
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return Collection{}, fmt.Errorf("pgstore: decode meta: %w", err)
	}
	return Collection{Name: name, Members: members, CreatedAt: createdAt, Meta: meta}, nil
}

func (s *PGStore) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, members, meta, created_at FROM collections ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list collections: %w", err)
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var name string
		var membersJSON, metaJSON []byte
		var createdAt time.Time
		if err := rows.Scan(&name, &membersJSON, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan collection: %w", err)
		}
		var members []string
		var meta ArtifactMeta
		json.Unmarshal(membersJSON, &members)
		json.Unmarshal(metaJSON, &meta)
		out = append(out, Collection{Name: name, Members: members, CreatedAt: createdAt, Meta: meta})
	}
	return out, rows.Err()
}

func (s *PGStore) AddToCollection(ctx context.Context, name string, artifactID string) error {
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

func (s *PGStore) RemoveFromCollection(ctx context.Context, name string, artifactID string) error {
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

func (s *PGStore) updateCollection(ctx context.Context, c Collection) error {
	membersJSON, err := json.Marshal(c.Members)
	if err != nil {
		return fmt.Errorf("pgstore: marshal members: %w", err)
	}
	metaJSON, err := json.Marshal(c.Meta)
	if err != nil {
		return fmt.Errorf("pgstore: marshal meta: %w", err)
	}
	_, err = s.pool.Exec(ctx, `UPDATE collections SET members = $2, meta = $3 WHERE name = $1`, c.Name, membersJSON, metaJSON)
	if err != nil {
		return fmt.Errorf("pgstore: update collection: %w", err)
	}
	return nil
}

func (s *PGStore) DeleteCollection(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM collections WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("pgstore: delete collection: %w", err)
	}
	return nil
}
