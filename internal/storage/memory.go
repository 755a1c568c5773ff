package storage

import (
	"context"
	"sync"

	"github.com/joseph-ayodele/essay-grader/internal/common"
)

// MemoryStore is an in-process ImageStore for tests and single-node demos.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (m *MemoryStore) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[ref]
	if !ok {
		return nil, common.NotFoundf("image %s", ref)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, ref)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
