package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"videorag/config"
	"videorag/core"
)

// PgVector stores records in Postgres with the pgvector extension.
type PgVector struct {
	conn *pgx.Conn
	dim  int
}

func NewPgVector(ctx context.Context, cfg *config.Config) (*PgVector, error) {
	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("postgres_url not configured")
	}
	conn, err := pgx.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PgVector{conn: conn, dim: cfg.EmbeddingDim}
	if err := s.ensureTable(ctx); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *PgVector) ensureTable(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS content_units (
			id VARCHAR(255) PRIMARY KEY,
			video_id VARCHAR(255) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			start_time FLOAT NOT NULL DEFAULT 0,
			end_time FLOAT NOT NULL DEFAULT 0,
			ts FLOAT NOT NULL DEFAULT 0,
			frame_path VARCHAR(1000),
			thumbnail_path VARCHAR(1000),
			document TEXT NOT NULL,
			embedding vector(%d),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`, s.dim)
	if _, err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("create content_units table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_content_units_video_id ON content_units(video_id);",
		"CREATE INDEX IF NOT EXISTS idx_content_units_video_kind ON content_units(video_id, kind);",
	}
	for _, idx := range indexes {
		if _, err := s.conn.Exec(ctx, idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func (s *PgVector) Upsert(ctx context.Context, records []Record) (int, error) {
	count := 0
	for _, r := range records {
		_, err := s.conn.Exec(ctx, `
			INSERT INTO content_units (id, video_id, kind, start_time, end_time, ts, frame_path, thumbnail_path, document, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id)
			DO UPDATE SET
				video_id = EXCLUDED.video_id,
				kind = EXCLUDED.kind,
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time,
				ts = EXCLUDED.ts,
				frame_path = EXCLUDED.frame_path,
				thumbnail_path = EXCLUDED.thumbnail_path,
				document = EXCLUDED.document,
				embedding = EXCLUDED.embedding
		`, r.ID, r.Meta.VideoID, string(r.Meta.Kind), r.Meta.Start, r.Meta.End, r.Meta.Timestamp,
			r.Meta.FramePath, r.Meta.ThumbnailPath, r.Document, pgvector.NewVector(r.Vector))
		if err != nil {
			return count, fmt.Errorf("upsert %s: %w", r.ID, err)
		}
		count++
	}
	return count, nil
}

// filterSQL renders f as a WHERE clause; args start at $base.
func filterSQL(f Filter, base int) (string, []any) {
	clause := "TRUE"
	var args []any
	n := base
	if f.VideoID != "" {
		clause = fmt.Sprintf("video_id = $%d", n)
		args = append(args, f.VideoID)
		n++
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		clause += fmt.Sprintf(" AND kind = ANY($%d)", n)
		args = append(args, kinds)
	}
	return clause, args
}

func (s *PgVector) Query(ctx context.Context, vector []float32, topK int, f Filter) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	clause, args := filterSQL(f, 2)
	vec := pgvector.NewVector(vector)
	query := fmt.Sprintf(`
		SELECT id, video_id, kind, start_time, end_time, ts, frame_path, thumbnail_path, document,
			   embedding <=> $1 AS distance
		FROM content_units
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT %d
	`, clause, topK)
	rows, err := s.conn.Query(ctx, query, append([]any{vec}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query content_units: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var kind string
		var framePath, thumbPath *string
		if err := rows.Scan(&m.ID, &m.Meta.VideoID, &kind, &m.Meta.Start, &m.Meta.End, &m.Meta.Timestamp,
			&framePath, &thumbPath, &m.Document, &m.Distance); err != nil {
			return nil, err
		}
		m.Meta.Kind = core.ContentKind(kind)
		if framePath != nil {
			m.Meta.FramePath = *framePath
		}
		if thumbPath != nil {
			m.Meta.ThumbnailPath = *thumbPath
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *PgVector) Fetch(ctx context.Context, f Filter) ([]Record, error) {
	clause, args := filterSQL(f, 1)
	query := fmt.Sprintf(`
		SELECT id, video_id, kind, start_time, end_time, ts, frame_path, thumbnail_path, document
		FROM content_units
		WHERE %s
		ORDER BY start_time, id
	`, clause)
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch content_units: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var kind string
		var framePath, thumbPath *string
		if err := rows.Scan(&r.ID, &r.Meta.VideoID, &kind, &r.Meta.Start, &r.Meta.End, &r.Meta.Timestamp,
			&framePath, &thumbPath, &r.Document); err != nil {
			return nil, err
		}
		r.Meta.Kind = core.ContentKind(kind)
		if framePath != nil {
			r.Meta.FramePath = *framePath
		}
		if thumbPath != nil {
			r.Meta.ThumbnailPath = *thumbPath
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgVector) Delete(ctx context.Context, f Filter) (int, error) {
	clause, args := filterSQL(f, 1)
	tag, err := s.conn.Exec(ctx, "DELETE FROM content_units WHERE "+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("delete content_units: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PgVector) Count(ctx context.Context, f Filter) (int, error) {
	clause, args := filterSQL(f, 1)
	var n int
	if err := s.conn.QueryRow(ctx, "SELECT COUNT(*) FROM content_units WHERE "+clause, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count content_units: %w", err)
	}
	return n, nil
}

func (s *PgVector) VideoIDs(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, "SELECT DISTINCT video_id FROM content_units ORDER BY video_id")
	if err != nil {
		return nil, fmt.Errorf("list video ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PgVector) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}
