// Package storetest 提供 storage.Store 实现共享的测试
package storetest

import (
	"context"
	"io"
	"testing"

	"ledgervault/pkg/storage"
	"ledgervault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	HashA = types.Hash("1111aaaa00000000000000000000000000000000000000000000000000000000")
	HashB = types.Hash("1111bbbb00000000000000000000000000000000000000000000000000000000")
	HashC = types.Hash("2222cccc00000000000000000000000000000000000000000000000000000000")
)

// RunContract 检查 Put / Get / Has / ExpandHash 的通用语义
func RunContract(t *testing.T, store storage.Store) {
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, HashA, []byte("A")))
	require.NoError(t, store.Put(ctx, HashB, []byte("B")))
	require.NoError(t, store.Put(ctx, HashC, []byte("C")))
	// 幂等
	require.NoError(t, store.Put(ctx, HashC, []byte("C")))

	t.Run("Get", func(t *testing.T) {
		rc, err := store.Get(ctx, HashA)
		require.NoError(t, err)
		defer rc.Close()
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, []byte("A"), content)

		_, err = store.Get(ctx, "ffff000000000000000000000000000000000000000000000000000000000000")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Has", func(t *testing.T) {
		ok, err := store.Has(ctx, HashB)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Has(ctx, "ffff000000000000000000000000000000000000000000000000000000000000")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ExpandHash", func(t *testing.T) {
		tests := []struct {
			name      string
			input     string
			wantHash  types.Hash
			errString string
		}{
			{"Exact match", string(HashC), HashC, ""},
			{"Unique prefix (4 chars)", "2222", HashC, ""},
			{"Unique prefix (long)", "1111aa", HashA, ""},
			{"Ambiguous prefix", "1111", "", "ambiguous"},
			{"Not found", "ffff", "", "not found"},
			{"Too short", "123", "", "too short"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := store.ExpandHash(ctx, types.HashPrefix(tt.input))
				if tt.errString != "" {
					require.Error(t, err)
					assert.Contains(t, err.Error(), tt.errString)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tt.wantHash, got)
			})
		}
	})
}
