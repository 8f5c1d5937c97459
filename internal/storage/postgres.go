package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/bdougie/fresque/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresConfig holds connection details for PostgreSQL
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// ConnString renders the config as a postgres:// URL
func (c PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
	)
}

// PostgresStorage keeps the run ledger in PostgreSQL with a pgvector
// signature column for similarity search
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to connString and verifies the connection
func NewPostgresStorage(ctx context.Context, connString string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const runColumns = `id, step, status, artifact, image_count, total_width, canvas_height,
	theme, duration_seconds, error, signature, created_at`

// AddRecord inserts one run
func (s *PostgresStorage) AddRecord(ctx context.Context, r models.RunRecord) error {
	var sig any
	if len(r.Signature) > 0 {
		sig = pgvector.NewVector(r.Signature)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO fresque_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.Step, r.Status, r.Artifact, r.ImageCount, r.TotalWidth, r.CanvasHeight,
		r.Theme, r.Duration, r.Error, sig, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first
func (s *PostgresStorage) Recent(ctx context.Context, limit int) ([]models.RunRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM fresque_runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	records := []models.RunRecord{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Flush implements the Storage interface - no-op for Postgres as we save immediately
func (s *PostgresStorage) Flush() error {
	return nil
}

// SearchSimilar finds runs whose collage signature is closest to run id's.
// Runs without a signature are never matched.
func (s *PostgresStorage) SearchSimilar(ctx context.Context, id string, limit int) ([]models.SimilarRun, error) {
	var target *pgvector.Vector
	err := s.pool.QueryRow(ctx, "SELECT signature FROM fresque_runs WHERE id = $1", id).Scan(&target)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run signature: %w", err)
	}
	if target == nil {
		return []models.SimilarRun{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+`, 1 - (signature <=> $1) AS similarity
		FROM fresque_runs
		WHERE id <> $2 AND signature IS NOT NULL
		ORDER BY signature <=> $1
		LIMIT $3`,
		*target, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar runs: %w", err)
	}
	defer rows.Close()

	results := []models.SimilarRun{}
	for rows.Next() {
		var res models.SimilarRun
		var sig *pgvector.Vector
		r := &res.RunRecord
		if err := rows.Scan(&r.ID, &r.Step, &r.Status, &r.Artifact, &r.ImageCount, &r.TotalWidth,
			&r.CanvasHeight, &r.Theme, &r.Duration, &r.Error, &sig, &r.CreatedAt, &res.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search results: %w", err)
		}
		if sig != nil {
			r.Signature = sig.Slice()
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func scanRun(rows pgx.Rows) (models.RunRecord, error) {
	var r models.RunRecord
	var sig *pgvector.Vector
	if err := rows.Scan(&r.ID, &r.Step, &r.Status, &r.Artifact, &r.ImageCount, &r.TotalWidth,
		&r.CanvasHeight, &r.Theme, &r.Duration, &r.Error, &sig, &r.CreatedAt); err != nil {
		return r, fmt.Errorf("failed to scan run: %w", err)
	}
	if sig != nil {
		r.Signature = sig.Slice()
	}
	return r, nil
}

// InitSchema creates the database schema if it doesn't exist
func InitSchema(ctx context.Context, connString string) error {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	// Check if vector extension exists
	var exists bool
	err = conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check for vector extension: %w", err)
	}

	if !exists {
		if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return fmt.Errorf("failed to create vector extension: %w", err)
		}
	}

	_, err = conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS fresque_runs (
            id TEXT PRIMARY KEY,
            step INTEGER NOT NULL,
            status VARCHAR(16) NOT NULL,
            artifact TEXT NOT NULL DEFAULT '',
            image_count INTEGER NOT NULL DEFAULT 0,
            total_width INTEGER NOT NULL DEFAULT 0,
            canvas_height INTEGER NOT NULL DEFAULT 0,
            theme TEXT NOT NULL DEFAULT '',
            duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
            error TEXT NOT NULL DEFAULT '',
            signature vector(4),
            created_at TIMESTAMPTZ NOT NULL
        );
    `)
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	_, err = conn.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS idx_fresque_runs_created_at ON fresque_runs(created_at DESC);
        CREATE INDEX IF NOT EXISTS idx_fresque_runs_signature ON fresque_runs USING hnsw (signature vector_cosine_ops);
    `)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}

	return nil
}
