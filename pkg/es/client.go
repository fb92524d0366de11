// Package es 提供了基于 Elasticsearch dense_vector 的分块检索后端。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"om-smart-go/internal/config"
	"om-smart-go/internal/model"
	"om-smart-go/pkg/log"
)

// ChunkStore 把分块向量写入 Elasticsearch，并用 knn + listing_id 过滤检索。
type ChunkStore struct {
	client    *elasticsearch.Client
	indexName string
}

// NewChunkStore 初始化 Elasticsearch 客户端并确保索引存在。dims 必须与 embedding 模型一致。
func NewChunkStore(esCfg config.ElasticsearchConfig, dims int) (*ChunkStore, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	s := &ChunkStore{client: client, indexName: esCfg.IndexName}
	if err := s.createIndexIfNotExists(dims); err != nil {
		return nil, err
	}
	return s, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (s *ChunkStore) createIndexIfNotExists(dims int) error {
	res, err := s.client.Indices.Exists([]string{s.indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", s.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"listing_id": { "type": "keyword" },
				"seq": { "type": "integer" },
				"content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"embedding_model": { "type": "keyword" }
			}
		}
	}`, dims)

	res, err = s.client.Indices.Create(
		s.indexName,
		s.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", s.indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", s.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}
	log.Infof("索引 '%s' 创建成功", s.indexName)
	return nil
}

// Upsert 以 document_id + seq 为主键写入分块。
func (s *ChunkStore) Upsert(ctx context.Context, chunk *model.Chunk) error {
	doc := model.EsChunk{
		VectorID:       fmt.Sprintf("%s_%d", chunk.DocumentID, chunk.Seq),
		DocumentID:     chunk.DocumentID,
		ListingID:      chunk.ListingID,
		Seq:            chunk.Seq,
		Content:        chunk.Content,
		Vector:         chunk.Embedding,
		EmbeddingModel: chunk.EmbeddingModel,
	}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      s.indexName,
		DocumentID: doc.VectorID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("索引分块到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index chunk")
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64       `json:"_score"`
			Source model.EsChunk `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search 执行 knn 检索，filter 限定 listing_id，保证不会跨 listing 返回结果。
func (s *ChunkStore) Search(ctx context.Context, listingID string, vector []float32, k int) ([]model.ChunkHit, error) {
	query := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": max(k*10, 100),
			"filter": map[string]interface{}{
				"term": map[string]interface{}{"listing_id": listingID},
			},
		},
		"_source": []string{"document_id", "listing_id", "seq", "content"},
		"size":    k,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexName),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search error: %s", res.String())
	}

	var out searchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, err
	}
	hits := make([]model.ChunkHit, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		if h.Source.ListingID != listingID {
			continue
		}
		hits = append(hits, model.ChunkHit{
			DocumentID: h.Source.DocumentID,
			Seq:        h.Source.Seq,
			Content:    h.Source.Content,
			// cosine 相似度的 _score 为 (1 + cos) / 2
			Similarity: 2*h.Score - 1,
		})
	}
	return hits, nil
}

// DeleteByDocument 删除文档的全部分块。
func (s *ChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	body := fmt.Sprintf(`{"query":{"term":{"document_id":%q}}}`, documentID)
	res, err := s.client.DeleteByQuery(
		[]string{s.indexName},
		strings.NewReader(body),
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch delete_by_query error: %s", res.String())
	}
	return nil
}
