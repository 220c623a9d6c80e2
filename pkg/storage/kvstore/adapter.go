// Package kvstore 把分片存进页面所用的同一个 kv.Store。
// 小仓库不需要单独的对象目录时使用。
package kvstore

import (
	"bytes"
	"context"
	"errors"
	"io"

	"ledgervault/pkg/kv"
	"ledgervault/pkg/storage"
	"ledgervault/pkg/types"
)

const keyPrefix = "o/"

// Adapter 实现了 storage.Store 接口
type Adapter struct {
	db kv.Store
}

var _ storage.Store = (*Adapter)(nil)

func NewAdapter(db kv.Store) *Adapter {
	return &Adapter{db: db}
}

func key(hash types.Hash) []byte {
	return []byte(keyPrefix + string(hash))
}

func (a *Adapter) Put(ctx context.Context, hash types.Hash, data []byte) error {
	exists, err := a.db.Has(ctx, key(hash))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return a.db.Update(ctx, func(b kv.Batch) error {
		return b.Put(key(hash), data)
	})
}

func (a *Adapter) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	data, err := a.db.Get(ctx, key(hash))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (a *Adapter) Has(ctx context.Context, hash types.Hash) (bool, error) {
	return a.db.Has(ctx, key(hash))
}

func (a *Adapter) ExpandHash(ctx context.Context, prefix types.HashPrefix) (types.Hash, error) {
	if err := storage.CheckPrefix(prefix); err != nil {
		return "", err
	}
	var matches []types.Hash
	err := a.db.Scan(ctx, []byte(keyPrefix+string(prefix)), func(k, _ []byte) error {
		matches = append(matches, types.Hash(k[len(keyPrefix):]))
		if len(matches) > 1 {
			return storage.ErrAmbiguousHash
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return storage.PickUnique(matches)
}
