// Package storage 提供了对象存储的统一抽象，支持 MinIO 和 AWS S3。
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"om-smart-go/internal/config"
)

// ErrObjectNotFound 表示对象不存在。
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore 是原始文件和生成产物的存储接口。
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// New 根据 storage.driver 创建对象存储实现。
func New(ctx context.Context, cfg config.Config) (ObjectStore, error) {
	switch cfg.Storage.Driver {
	case "", "minio":
		return NewMinIOStore(ctx, cfg.MinIO)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

// MemoryStore 是进程内的对象存储，用于本地调试和测试。
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Keys 返回当前保存的全部 key。
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}
