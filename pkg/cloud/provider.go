// Package cloud 实现云端同步通道：对象和提交记录存放在一个共享的云存储里，
// 每个副本上传自己的提交，再按游标拉取别人的提交。
package cloud

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"ledgervault/pkg/meta"
	"ledgervault/pkg/pagestorage"
	"ledgervault/pkg/status"
	"ledgervault/pkg/types"
)

// Provider 是云存储后端
type Provider interface {
	AddObject(ctx context.Context, key types.Hash, data []byte) error
	// GetObject 不存在时返回 NOT_FOUND
	GetObject(ctx context.Context, key types.Hash) ([]byte, error)
	HasObject(ctx context.Context, key types.Hash) (bool, error)

	// AddCommits 追加提交记录，重复追加无害
	AddCommits(ctx context.Context, page types.PageID, commits []pagestorage.RemoteCommit) error
	// GetCommits 返回 cursor 之后的提交记录和新的游标。空游标表示从头开始。
	// 结果可能包含已经见过的记录；skip 返回 true 的记录不下载也不返回，但仍然推进游标。
	// skip 可以为 nil。
	GetCommits(ctx context.Context, page types.PageID, cursor string, skip SkipFunc) ([]pagestorage.RemoteCommit, string, error)
}

// SkipFunc 判断某个提交是否已经在本地，不需要再下载
type SkipFunc func(id types.Hash) bool

// CursorStore 持久化每个页面的下载位置 (meta.Repository 实现了它)
type CursorStore interface {
	GetCursor(ctx context.Context, name string) (string, int64, error)
	UpdateCursor(ctx context.Context, name, position string, oldVersion int64) error
}

var _ CursorStore = (*meta.Repository)(nil)

// -----------------------------------------------------------------------------
// 内存实现，用于测试和单进程多副本
// -----------------------------------------------------------------------------

type MemoryProvider struct {
	mu      sync.RWMutex
	objects map[types.Hash][]byte
	pages   map[types.PageID][]pagestorage.RemoteCommit
	seen    map[types.Hash]struct{}
}

var _ Provider = (*MemoryProvider)(nil)

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		objects: make(map[types.Hash][]byte),
		pages:   make(map[types.PageID][]pagestorage.RemoteCommit),
		seen:    make(map[types.Hash]struct{}),
	}
}

func (m *MemoryProvider) AddObject(_ context.Context, key types.Hash, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		m.objects[key] = append([]byte(nil), data...)
	}
	return nil
}

func (m *MemoryProvider) GetObject(_ context.Context, key types.Hash) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, status.Errorf(status.NotFound, "cloud object %s not found", key.Short())
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryProvider) HasObject(_ context.Context, key types.Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryProvider) AddCommits(_ context.Context, page types.PageID, commits []pagestorage.RemoteCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range commits {
		if _, ok := m.seen[c.ID]; ok {
			continue
		}
		m.seen[c.ID] = struct{}{}
		m.pages[page] = append(m.pages[page], pagestorage.RemoteCommit{ID: c.ID, Data: append([]byte(nil), c.Data...)})
	}
	return nil
}

// GetCommits 的游标是已读记录数
func (m *MemoryProvider) GetCommits(_ context.Context, page types.PageID, cursor string, skip SkipFunc) ([]pagestorage.RemoteCommit, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, "", status.Errorf(status.ParseError, "invalid cursor %q", cursor)
		}
		start = n
	}
	all := m.pages[page]
	if start > len(all) {
		start = len(all)
	}
	var out []pagestorage.RemoteCommit
	for _, c := range all[start:] {
		if skip != nil && skip(c.ID) {
			continue
		}
		out = append(out, c)
	}
	return out, strconv.Itoa(len(all)), nil
}

// ObjectKeys 返回已上传对象的 key，按字典序
func (m *MemoryProvider) ObjectKeys() []types.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]types.Hash, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// MemoryCursors 是不落盘的 CursorStore
type MemoryCursors struct {
	mu      sync.Mutex
	entries map[string]memoryCursor
}

type memoryCursor struct {
	position string
	version  int64
}

var _ CursorStore = (*MemoryCursors)(nil)

func NewMemoryCursors() *MemoryCursors {
	return &MemoryCursors{entries: make(map[string]memoryCursor)}
}

func (m *MemoryCursors) GetCursor(_ context.Context, name string) (string, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.entries[name]
	if !ok {
		return "", 0, meta.ErrCursorNotFound
	}
	return c.position, c.version, nil
}

func (m *MemoryCursors) UpdateCursor(_ context.Context, name, position string, oldVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.entries[name]
	if c.version != oldVersion {
		return meta.ErrConcurrentUpdate
	}
	m.entries[name] = memoryCursor{position: position, version: oldVersion + 1}
	return nil
}

// isCursorMissing 兼容 meta 的 NOT_FOUND 哨兵
func isCursorMissing(err error) bool {
	return errors.Is(err, meta.ErrCursorNotFound) || status.CodeOf(err) == status.NotFound
}
