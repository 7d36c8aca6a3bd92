// Package pgvector provides a PostgreSQL-backed retriever using the pgvector
// extension for approximate nearest-neighbour search over document embeddings.
//
// Documents are embedded on insertion with the configured
// [embeddings.Provider] and stored alongside their vector in a single table
// with an HNSW cosine index. Queries are embedded with the same provider and
// matched by cosine distance.
//
// Usage:
//
//	store, err := pgvector.NewStore(ctx, dsn, embedder)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.AddDocuments(ctx, docs)
//	results, _ := store.Retrieve(ctx, "how do I rotate credentials?")
package pgvector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvec "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"golang.org/x/sync/errgroup"

	"github.com/patchwell/relai/pkg/provider/embeddings"
	"github.com/patchwell/relai/pkg/retriever"
	"github.com/patchwell/relai/pkg/types"
)

// Compile-time interface check.
var _ retriever.Retriever = (*Store)(nil)

// defaultTopK is the number of results Retrieve returns when not overridden.
const defaultTopK = 10

// embedBatchSize is how many documents are embedded per provider call inside
// AddDocuments. Batches run concurrently, bounded by embedConcurrency.
const (
	embedBatchSize   = 64
	embedConcurrency = 4
)

// Store is a pgvector-backed [retriever.Retriever].
// All operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	topK     int
}

// Option is a functional option for Store.
type Option func(*Store)

// WithTopK sets how many results Retrieve returns. Default: 10.
func WithTopK(k int) Option {
	return func(s *Store) {
		if k > 0 {
			s.topK = k
		}
	}
}

// NewStore connects to the PostgreSQL database at dsn, registers pgvector
// types on every connection, and ensures the documents table and its HNSW
// index exist. The table's vector column is sized from embedder.Dimensions(),
// so changing embedding models over an existing table requires a manual
// schema change.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider, opts ...Option) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("pgvector store: embedder must not be nil")
	}
	dims := embedder.Dimensions()
	if dims <= 0 {
		return nil, fmt.Errorf("pgvector store: embedder reports %d dimensions", dims)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector store: ping: %w", err)
	}
	if err := migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector store: migrate: %w", err)
	}

	s := &Store{pool: pool, embedder: embedder, topK: defaultTopK}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// migrate installs the pgvector extension and creates the documents table and
// HNSW cosine index if they do not already exist.
func migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
    id         TEXT         PRIMARY KEY,
    content    TEXT         NOT NULL,
    metadata   JSONB        NOT NULL DEFAULT '{}',
    embedding  VECTOR(%d)   NOT NULL,
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_embedding
    ON documents USING hnsw (embedding vector_cosine_ops);
`, dims)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply ddl: %w", err)
	}
	return nil
}

// Retrieve implements [retriever.Retriever]. The query is embedded with the
// store's provider and matched against indexed documents by cosine distance.
// Scores are 1 - distance, clamped to [0, 1], returned highest first.
func (s *Store) Retrieve(ctx context.Context, query string) ([]types.SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: embed query: %w", err)
	}

	const q = `
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
		FROM   documents
		ORDER  BY embedding <=> $1
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvec.NewVector(vec), s.topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.SearchResult, error) {
		var (
			sr   types.SearchResult
			meta map[string]string
		)
		if err := row.Scan(&sr.Document.ID, &sr.Document.Content, &meta, &sr.Score); err != nil {
			return types.SearchResult{}, err
		}
		sr.Document.Metadata = meta
		if sr.Score < 0 {
			sr.Score = 0
		}
		if sr.Score > 1 {
			sr.Score = 1
		}
		return sr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pgvector store: scan rows: %w", err)
	}
	if results == nil {
		results = []types.SearchResult{}
	}
	return results, nil
}

// AddDocuments implements [retriever.Retriever]. Documents are embedded in
// batches of up to 64, with batches running concurrently, then upserted by id.
func (s *Store) AddDocuments(ctx context.Context, docs []types.Document) error {
	if len(docs) == 0 {
		return nil
	}

	vectors := make([][]float32, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for start := 0; start < len(docs); start += embedBatchSize {
		end := min(start+embedBatchSize, len(docs))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, d := range docs[start:end] {
				texts = append(texts, d.Content)
			}
			vecs, err := s.embedder.EmbedMany(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
			}
			copy(vectors[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("pgvector store: %w", err)
	}

	const q = `
		INSERT INTO documents (id, content, metadata, embedding, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
		    content    = EXCLUDED.content,
		    metadata   = EXCLUDED.metadata,
		    embedding  = EXCLUDED.embedding,
		    updated_at = now()`

	batch := &pgx.Batch{}
	for i, d := range docs {
		meta := d.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		batch.Queue(q, d.ID, d.Content, meta, pgvec.NewVector(vectors[i]))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range docs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("pgvector store: upsert document: %w", err)
		}
	}
	return nil
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
