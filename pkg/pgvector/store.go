// Package pgvector 提供基于 Postgres + pgvector 的分块检索后端。
package pgvector

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"om-smart-go/internal/config"
	"om-smart-go/internal/model"
	"om-smart-go/pkg/log"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Store 把分块向量写入 pgvector 表，按 listing_id 过滤后用余弦距离排序。
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// NewStore 连接数据库并建表（含 hnsw 余弦索引）。
func NewStore(ctx context.Context, cfg config.PGVectorConfig, dims int) (*Store, error) {
	if !identPattern.MatchString(cfg.TableName) {
		return nil, fmt.Errorf("invalid pgvector table name %q", cfg.TableName)
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect pgvector: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pgvector: %w", err)
	}
	s := &Store{pool: pool, table: cfg.TableName}
	if err := s.migrate(ctx, dims); err != nil {
		pool.Close()
		return nil, err
	}
	log.Infof("pgvector 向量表 '%s' 就绪", s.table)
	return s, nil
}

func (s *Store) migrate(ctx context.Context, dims int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			document_id TEXT NOT NULL,
			listing_id TEXT NOT NULL,
			seq INT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			UNIQUE (document_id, seq)
		)`, s.table, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_listing_idx ON %s (listing_id)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector migrate: %w", err)
		}
	}
	return nil
}

// Upsert 写入或覆盖一个分块，单条语句保证向量与内容原子写入。
func (s *Store) Upsert(ctx context.Context, chunk *model.Chunk) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (document_id, listing_id, seq, content, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id, seq)
		DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding, listing_id = EXCLUDED.listing_id`, s.table),
		chunk.DocumentID, chunk.ListingID, chunk.Seq, chunk.Content, pgvector.NewVector(chunk.Embedding))
	return err
}

// Search 返回 listing 范围内余弦距离最小的 k 个分块。
func (s *Store) Search(ctx context.Context, listingID string, vector []float32, k int) ([]model.ChunkHit, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT document_id, seq, content, 1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE listing_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3`, s.table),
		pgvector.NewVector(vector), listingID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []model.ChunkHit
	for rows.Next() {
		var h model.ChunkHit
		if err := rows.Scan(&h.DocumentID, &h.Seq, &h.Content, &h.Similarity); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, s.table), documentID)
	return err
}

// Close 关闭连接池。
func (s *Store) Close() {
	s.pool.Close()
}
