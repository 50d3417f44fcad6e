// Package pgvector keeps every tenant's chunks in one Postgres table and
// filters by tenant in SQL.
package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"tenantrag/internal/domain"
	"tenantrag/internal/vectorstore"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS rag_chunks (
	tenant_id    TEXT NOT NULL,
	chunk_id     TEXT NOT NULL,
	document_id  TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	kind         TEXT NOT NULL DEFAULT '',
	chunk_index  INTEGER NOT NULL,
	total_chunks INTEGER NOT NULL,
	length       INTEGER NOT NULL,
	content      TEXT NOT NULL,
	embedding    vector NOT NULL,
	PRIMARY KEY (tenant_id, chunk_id)
);
CREATE INDEX IF NOT EXISTS rag_chunks_document_idx ON rag_chunks (tenant_id, document_id);
`

type Config struct {
	DSN    string
	Metric domain.Metric
}

// Storage implements domain.VectorIndex on Postgres with the vector extension.
type Storage struct {
	db       *sql.DB
	metric   domain.Metric
	operator string
	logger   *zap.Logger
}

func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Storage, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: pgvector dsn is required", domain.ErrConfiguration)
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := New(db, cfg.Metric, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database handle.
func New(db *sql.DB, metric domain.Metric, logger *zap.Logger) (*Storage, error) {
	var op string
	switch metric {
	case "", domain.MetricL2:
		metric, op = domain.MetricL2, "<->"
	case domain.MetricCosine:
		op = "<=>"
	default:
		return nil, fmt.Errorf("%w: pgvector metric %q", domain.ErrConfiguration, metric)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Storage{db: db, metric: metric, operator: op, logger: logger.With(zap.String("backend", "pgvector"))}, nil
}

func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply pgvector schema: %w", err)
	}
	return nil
}

func (s *Storage) Backend() string { return "pgvector" }

const lockTenantSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`

func (s *Storage) Add(ctx context.Context, tenant domain.TenantID, chunks []domain.EmbeddedChunk) error {
	dim, err := vectorstore.ValidateChunks(tenant, chunks)
	if err != nil || len(chunks) == 0 {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Writers of one tenant queue here until commit so the dimension check
	// and the inserts see the same rows.
	if _, err := tx.ExecContext(ctx, lockTenantSQL, tenant.String()); err != nil {
		return fmt.Errorf("lock namespace %s: %w", tenant.Namespace(), err)
	}

	var existing int
	err = tx.QueryRowContext(ctx, `SELECT vector_dims(embedding) FROM rag_chunks WHERE tenant_id = $1 LIMIT 1`, tenant.String()).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	case existing != dim:
		return fmt.Errorf("%w: namespace %s has %d dimensions, got %d", domain.ErrDimensionMismatch, tenant.Namespace(), existing, dim)
	}

	const query = `
		INSERT INTO rag_chunks (tenant_id, chunk_id, document_id, source, kind, chunk_index, total_chunks, length, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, chunk_id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			source = EXCLUDED.source,
			kind = EXCLUDED.kind,
			chunk_index = EXCLUDED.chunk_index,
			total_chunks = EXCLUDED.total_chunks,
			length = EXCLUDED.length,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			string(c.TenantID), c.ID, c.DocumentID, c.Source, c.Kind,
			c.Index, c.Total, c.Length, c.Text, pgv.NewVector(c.Vector),
		); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Storage) Search(ctx context.Context, tenant domain.TenantID, vector []float32, k int) ([]domain.SearchResult, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT tenant_id, chunk_id, document_id, source, kind, chunk_index, total_chunks, length, content, embedding %[1]s $2
		FROM rag_chunks
		WHERE tenant_id = $1
		ORDER BY embedding %[1]s $2
		LIMIT $3
	`, s.operator)
	rows, err := s.db.QueryContext(ctx, query, tenant.String(), pgv.NewVector(vector), vectorstore.OverFetch(k, vectorstore.ServerOverFetch))
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", tenant.Namespace(), err)
	}
	defer rows.Close()

	var candidates []domain.SearchResult
	for rows.Next() {
		var m vectorstore.Metadata
		var dist float64
		if err := rows.Scan(&m.TenantID, &m.ChunkID, &m.DocumentID, &m.Source, &m.Kind, &m.ChunkIndex, &m.TotalChunks, &m.Length, &m.Text, &dist); err != nil {
			return nil, err
		}
		candidates = append(candidates, domain.SearchResult{Chunk: m.Chunk(), Distance: dist, Metric: s.metric})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vectorstore.FilterTenant(s.logger, tenant, candidates, k), nil
}

func (s *Storage) Info(ctx context.Context, tenant domain.TenantID) (domain.NamespaceInfo, error) {
	info := domain.NamespaceInfo{Tenant: tenant, Backend: s.Backend()}
	if err := tenant.Validate(); err != nil {
		return info, err
	}
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rag_chunks WHERE tenant_id = $1`, tenant.String()).Scan(&info.Count)
	return info, err
}

func (s *Storage) DeleteNamespace(ctx context.Context, tenant domain.TenantID) (bool, error) {
	if err := tenant.Validate(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM rag_chunks WHERE tenant_id = $1`, tenant.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Storage) PruneDocument(ctx context.Context, tenant domain.TenantID, documentID string, keep int) (int, error) {
	if err := tenant.Validate(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rag_chunks WHERE tenant_id = $1 AND document_id = $2 AND chunk_index >= $3`,
		tenant.String(), documentID, keep)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Storage) Close() error { return s.db.Close() }
