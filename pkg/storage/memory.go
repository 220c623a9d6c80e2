package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"ledgervault/pkg/types"
)

// MemoryStore 是进程内的 Store，用于测试和临时副本
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[types.Hash][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[types.Hash][]byte)}
}

func (m *MemoryStore) Put(ctx context.Context, hash types.Hash, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[hash]; ok {
		return nil
	}
	m.objects[hash] = bytes.Clone(data)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) Has(ctx context.Context, hash types.Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[hash]
	return ok, nil
}

func (m *MemoryStore) ExpandHash(ctx context.Context, prefix types.HashPrefix) (types.Hash, error) {
	if err := CheckPrefix(prefix); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []types.Hash
	for h := range m.objects {
		if strings.HasPrefix(string(h), string(prefix)) {
			matches = append(matches, h)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] < matches[j] })
	return PickUnique(matches)
}

// Len 返回分片数量
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
