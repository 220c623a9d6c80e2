package storage

import (
	"context"
	"io"
	"strings"

	"ledgervault/pkg/status"
	"ledgervault/pkg/types"
)

// MinPrefixLen 是 ExpandHash 接受的最短前缀
const MinPrefixLen = 4

var (
	ErrNotFound       = status.New(status.NotFound, "object not found")
	ErrAmbiguousHash  = status.New(status.ParseError, "ambiguous hash prefix")
	ErrPrefixTooShort = status.New(status.ParseError, "hash prefix too short")
)

// Store 是原始分片 (piece) 的存储后端，按内容哈希寻址。
// 实现可以是本地磁盘、S3、KV 或内存。
type Store interface {
	// Put 持久化一个分片。hash 由调用方计算，相同 hash 重复写入是幂等的。
	Put(ctx context.Context, hash types.Hash, data []byte) error

	// Get 根据 Hash 读取原始数据
	// 返回 io.ReadCloser 以支持大分片的流式读取
	Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error)

	// Has 检查分片是否存在 (用于去重逻辑)
	Has(ctx context.Context, hash types.Hash) (bool, error)

	// ExpandHash 把短哈希扩展成唯一的完整哈希
	ExpandHash(ctx context.Context, prefix types.HashPrefix) (types.Hash, error)
}

// ReadAll 读取整个分片
func ReadAll(ctx context.Context, s Store, hash types.Hash) ([]byte, error) {
	rc, err := s.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, status.Wrap(status.IOError, err, "read piece "+hash.Short())
	}
	return data, nil
}

// CheckPrefix 校验短哈希的格式
func CheckPrefix(prefix types.HashPrefix) error {
	p := string(prefix)
	if len(p) < MinPrefixLen {
		return ErrPrefixTooShort
	}
	if strings.Trim(p, "0123456789abcdef") != "" {
		return status.Errorf(status.ParseError, "invalid hash prefix %q", p)
	}
	return nil
}

// PickUnique 从候选里选出唯一匹配
func PickUnique(matches []types.Hash) (types.Hash, error) {
	switch len(matches) {
	case 0:
		return "", ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return "", ErrAmbiguousHash
	}
}
