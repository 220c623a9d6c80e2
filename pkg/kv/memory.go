package kv

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"

	"ledgervault/pkg/status"
)

// Memory 是进程内的 Store，用于测试和不落盘的场景
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, status.New(status.IllegalState, "kv: store closed")
	}
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

func (m *Memory) Has(ctx context.Context, key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, status.New(status.IllegalState, "kv: store closed")
	}
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *Memory) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	// 1. 在锁内取快照，回调期间不持锁 (回调里可能再读 Store)
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return status.New(status.IllegalState, "kv: store closed")
	}
	p := string(prefix)
	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = m.data[k]
	}
	m.mu.RUnlock()

	// 2. 按序回调
	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn([]byte(k), values[i]); err != nil {
			return err
		}
	}
	return nil
}

type memOp struct {
	key    string
	value  []byte
	delete bool
}

type memBatch struct {
	ops []memOp
}

func (b *memBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, memOp{key: string(key), value: bytes.Clone(value)})
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.ops = append(b.ops, memOp{key: string(key), delete: true})
	return nil
}

func (m *Memory) Update(ctx context.Context, fn func(Batch) error) error {
	b := &memBatch{}
	if err := fn(b); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return status.New(status.IllegalState, "kv: store closed")
	}
	for _, op := range b.ops {
		if op.delete {
			delete(m.data, op.key)
		} else {
			m.data[op.key] = op.value
		}
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
