// pkg/index/index.go
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"ledgervault/pkg/core"
	"ledgervault/pkg/journal"
)

// Op 是暂存操作的类型
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Entry 代表暂存区中的一条待提交操作
type Entry struct {
	Key        string        `json:"key"`
	Op         Op            `json:"op"`
	Digest     string        `json:"digest,omitempty"` // ObjectDigest 的十六进制
	Priority   core.Priority `json:"priority"`
	Size       uint64        `json:"size,omitempty"`   // 逻辑大小
	Source     string        `json:"source,omitempty"` // 来源文件，便于 status 展示
	ModifiedAt time.Time     `json:"modified_at"`
}

// Identifier 解析暂存的对象标识
func (e Entry) Identifier() (core.ObjectIdentifier, error) {
	d, err := core.ParseObjectDigestHex(e.Digest)
	if err != nil {
		return core.ObjectIdentifier{}, fmt.Errorf("staged key %q: %w", e.Key, err)
	}
	return core.NewObjectIdentifier(d), nil
}

// Index 管理一个页面的暂存区，在多次 CLI 调用之间持久化
type Index struct {
	path    string           // 物理文件路径 (.ledger/index/<page>.json)
	Entries map[string]Entry `json:"entries"`
	mu      sync.RWMutex
}

// NewIndex 加载或创建一个新的 Index
func NewIndex(indexPath string) (*Index, error) {
	idx := &Index{
		path:    indexPath,
		Entries: make(map[string]Entry),
	}

	// 尝试加载现有文件
	if _, err := os.Stat(indexPath); err == nil {
		data, err := os.ReadFile(indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read index: %w", err)
		}
		if err := json.Unmarshal(data, idx); err != nil {
			return nil, fmt.Errorf("corrupted index file: %w", err)
		}
		if idx.Entries == nil {
			idx.Entries = make(map[string]Entry)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return idx, nil
}

// Put 暂存一次写入，覆盖同一 key 上之前的操作
func (i *Index) Put(key string, id core.ObjectIdentifier, p core.Priority, size uint64, source string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.Entries[key] = Entry{
		Key:        key,
		Op:         OpPut,
		Digest:     id.Digest.String(),
		Priority:   p,
		Size:       size,
		Source:     source,
		ModifiedAt: time.Now(),
	}
}

// Delete 暂存一次删除
func (i *Index) Delete(key string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.Entries[key] = Entry{
		Key:        key,
		Op:         OpDelete,
		ModifiedAt: time.Now(),
	}
}

// Unstage 撤销 key 上的暂存操作
func (i *Index) Unstage(key string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.Entries, key)
}

// Save 将暂存区持久化到磁盘
func (i *Index) Save() error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(i.path), 0o755); err != nil {
		return err
	}

	// 先写临时文件再 rename，避免写一半的暂存区
	tmp := i.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, i.path)
}

// Snapshot 返回当前 Entry 的副本，用于并发安全的读取
func (i *Index) Snapshot() map[string]Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()

	snap := make(map[string]Entry, len(i.Entries))
	maps.Copy(snap, i.Entries)
	return snap
}

// Sorted 按 key 排序返回所有暂存操作
func (i *Index) Sorted() []Entry {
	snap := i.Snapshot()
	keys := slices.Sorted(maps.Keys(snap))
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, snap[k])
	}
	return out
}

// Apply 把暂存操作写进 Journal
func (i *Index) Apply(ctx context.Context, j *journal.Journal) error {
	for _, e := range i.Sorted() {
		switch e.Op {
		case OpDelete:
			if err := j.Delete(ctx, []byte(e.Key)); err != nil {
				return err
			}
		case OpPut:
			id, err := e.Identifier()
			if err != nil {
				return err
			}
			if err := j.Put(ctx, []byte(e.Key), id, e.Priority); err != nil {
				return err
			}
		default:
			return fmt.Errorf("staged key %q has unknown op %q", e.Key, e.Op)
		}
	}
	return nil
}

func (i *Index) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Entries = make(map[string]Entry)
}

// IsEmpty 检查暂存区是否有内容
func (i *Index) IsEmpty() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.Entries) == 0
}

// CleanPath 把文件路径规范成 key
func CleanPath(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}
