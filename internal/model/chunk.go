package model

import (
	"time"

	"gorm.io/datatypes"
)

// Chunk 对应 chunks 表。分块创建后不再更新，随所属文档一起删除。
// (document_id, seq) 唯一，seq 从 0 开始连续递增。
type Chunk struct {
	ID             uint                        `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID     string                      `gorm:"type:varchar(36);not null;uniqueIndex:idx_chunk_doc_seq" json:"documentId"`
	ListingID      string                      `gorm:"type:varchar(64);not null;index" json:"listingId"`
	Seq            int                         `gorm:"not null;uniqueIndex:idx_chunk_doc_seq" json:"seq"`
	Content        string                      `gorm:"type:text;not null" json:"content"`
	StartOffset    int                         `gorm:"not null" json:"start"`
	EndOffset      int                         `gorm:"not null" json:"end"`
	Embedding      datatypes.JSONSlice[float32] `json:"-"`
	EmbeddingModel string                      `gorm:"type:varchar(128)" json:"embeddingModel"`
	CreatedAt      time.Time                   `gorm:"autoCreateTime" json:"createdAt"`
}

func (Chunk) TableName() string {
	return "chunks"
}

// EsChunk 是写入 Elasticsearch 的分块文档结构。
type EsChunk struct {
	VectorID       string    `json:"vector_id"` // document_id + seq
	DocumentID     string    `json:"document_id"`
	ListingID      string    `json:"listing_id"`
	Seq            int       `json:"seq"`
	Content        string    `json:"content"`
	Vector         []float32 `json:"vector"`
	EmbeddingModel string    `json:"embedding_model"`
}

// ChunkHit 是一次相似度检索的结果，Similarity 为余弦相似度，越大越相关。
type ChunkHit struct {
	DocumentID string  `json:"documentId"`
	Seq        int     `json:"seq"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}
