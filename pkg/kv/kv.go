// Package kv 定义页面存储所依赖的有序 key/value 协作者。
// 实现必须保证 Update 的原子性 (崩溃一致)。
package kv

import (
	"context"

	"ledgervault/pkg/status"
)

var ErrKeyNotFound = status.New(status.NotFound, "kv: key not found")

// Batch 收集一次原子更新里的写操作
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Store 是有序 KV 存储
type Store interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Has(ctx context.Context, key []byte) (bool, error)

	// Scan 按 key 升序遍历前缀下的所有条目。fn 返回错误时停止遍历。
	// 回调参数只在回调期间有效。
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error

	// Update 原子地提交 fn 写入 Batch 的全部操作；fn 返回错误时什么都不写
	Update(ctx context.Context, fn func(Batch) error) error

	Close() error
}

// Key 把若干段拼成 "/" 分隔的键
func Key(parts ...string) []byte {
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	buf := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, '/')
		}
		buf = append(buf, p...)
	}
	return buf
}
