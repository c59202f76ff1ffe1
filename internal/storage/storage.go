package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/andresuchdata/fulfillops/backend-go/internal/config"
)

// ObjectInfo represents metadata for a remote file/object.
type ObjectInfo struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// ObjectStorage captures the S3-compatible operations chunk export needs.
type ObjectStorage interface {
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	UploadObject(ctx context.Context, key string, data []byte, contentType string) error
}

// New returns a MinIO client when storage is enabled, otherwise an in-memory store.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	if !cfg.Enabled {
		return NewMemoryStorage(), nil
	}
	return NewMinioClient(ctx, cfg)
}

// MemoryStorage keeps objects in process for dev mode and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

func (m *MemoryStorage) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]ObjectInfo, 0)
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			results = append(results, ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, nil
}

func (m *MemoryStorage) GetObject(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStorage) UploadObject(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

var _ ObjectStorage = (*MemoryStorage)(nil)
