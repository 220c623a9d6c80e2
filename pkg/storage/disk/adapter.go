package disk

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ledgervault/pkg/status"
	"ledgervault/pkg/storage"
	"ledgervault/pkg/types"
)

// Adapter 实现了 storage.Store 接口
type Adapter struct {
	rootPath string // 比如: /home/user/.ledger/objects
}

var _ storage.Store = (*Adapter)(nil)

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(root string) (*Adapter, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	return &Adapter{rootPath: root}, nil
}

// layout 返回哈希对应的物理路径
// 策略：使用前 2 个字符作为子目录 (Sharding)
// Example: hash "aabbcc..." -> root/aa/bbcc...
func (s *Adapter) layout(hash types.Hash) string {
	h := string(hash)
	if len(h) < 2 {
		return filepath.Join(s.rootPath, h)
	}
	return filepath.Join(s.rootPath, h[:2], h[2:])
}

func (s *Adapter) Put(ctx context.Context, hash types.Hash, data []byte) error {
	if !hash.IsValid() {
		return status.Errorf(status.ParseError, "invalid piece hash %q", hash)
	}
	targetPath := s.layout(hash)

	// 1. 检查是否存在 (幂等性)
	if _, err := os.Stat(targetPath); err == nil {
		return nil
	}

	// 2. 准备目录
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return status.Wrap(status.IOError, err, "mkdir shard")
	}

	// 3. 原子写入: 先写临时文件再 Rename
	tempFile, err := os.CreateTemp(dir, "temp-*")
	if err != nil {
		return status.Wrap(status.IOError, err, "create temp")
	}
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return status.Wrap(status.IOError, err, "write temp")
	}
	if err := tempFile.Close(); err != nil {
		return status.Wrap(status.IOError, err, "close temp")
	}

	// 4. 移动到最终位置
	if err := os.Rename(tempFile.Name(), targetPath); err != nil {
		return status.Wrap(status.IOError, err, "rename piece")
	}
	return nil
}

func (s *Adapter) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	f, err := os.Open(s.layout(hash))
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, status.Wrap(status.IOError, err, "open piece")
	}
	return f, nil
}

func (s *Adapter) Has(ctx context.Context, hash types.Hash) (bool, error) {
	_, err := os.Stat(s.layout(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, status.Wrap(status.IOError, err, "stat piece")
}

// ExpandHash 在分片目录里按前缀查找
func (s *Adapter) ExpandHash(ctx context.Context, prefix types.HashPrefix) (types.Hash, error) {
	if err := storage.CheckPrefix(prefix); err != nil {
		return "", err
	}
	p := string(prefix)

	entries, err := os.ReadDir(filepath.Join(s.rootPath, p[:2]))
	if os.IsNotExist(err) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", status.Wrap(status.IOError, err, "read shard dir")
	}

	var matches []types.Hash
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "temp-") {
			continue
		}
		if strings.HasPrefix(name, p[2:]) {
			matches = append(matches, types.Hash(p[:2]+name))
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] < matches[j] })
	return storage.PickUnique(matches)
}
