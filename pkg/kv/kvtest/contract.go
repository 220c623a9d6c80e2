// Package kvtest 提供所有 kv.Store 实现共享的契约测试
package kvtest

import (
	"context"
	"errors"
	"testing"

	"ledgervault/pkg/kv"
	"ledgervault/pkg/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunContract 对 newStore 返回的实例运行通用行为检查
func RunContract(t *testing.T, newStore func(t *testing.T) kv.Store) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, []byte("nope"))
		assert.ErrorIs(t, err, kv.ErrKeyNotFound)
		assert.Equal(t, status.NotFound, status.CodeOf(err))

		ok, err := s.Has(ctx, []byte("nope"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("UpdateIsAtomic", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Update(ctx, func(b kv.Batch) error {
			require.NoError(t, b.Put([]byte("a"), []byte("1")))
			return b.Put([]byte("b"), []byte("2"))
		}))

		// fn 返回错误: 一个都不写
		boom := errors.New("boom")
		err := s.Update(ctx, func(b kv.Batch) error {
			require.NoError(t, b.Put([]byte("c"), []byte("3")))
			require.NoError(t, b.Delete([]byte("a")))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		v, err := s.Get(ctx, []byte("a"))
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), v)
		ok, err := s.Has(ctx, []byte("c"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ScanPrefixOrdered", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Update(ctx, func(b kv.Batch) error {
			for _, k := range []string{"p/2", "p/1", "q/1", "p/3", "o/9"} {
				if err := b.Put([]byte(k), []byte("v"+k)); err != nil {
					return err
				}
			}
			return nil
		}))

		var keys []string
		require.NoError(t, s.Scan(ctx, []byte("p/"), func(k, v []byte) error {
			keys = append(keys, string(k))
			assert.Equal(t, "v"+string(k), string(v))
			return nil
		}))
		assert.Equal(t, []string{"p/1", "p/2", "p/3"}, keys)
	})

	t.Run("DeleteRemoves", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Update(ctx, func(b kv.Batch) error { return b.Put([]byte("k"), []byte("v")) }))
		require.NoError(t, s.Update(ctx, func(b kv.Batch) error { return b.Delete([]byte("k")) }))

		ok, err := s.Has(ctx, []byte("k"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ScanStopsOnError", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Update(ctx, func(b kv.Batch) error {
			_ = b.Put([]byte("x/1"), nil)
			return b.Put([]byte("x/2"), nil)
		}))
		stop := errors.New("stop")
		calls := 0
		err := s.Scan(ctx, []byte("x/"), func(k, v []byte) error {
			calls++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, calls)
	})
}
