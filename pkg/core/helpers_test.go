package core

import (
	"testing"

	"ledgervault/pkg/types"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// -----------------------------------------------------------------------------
// 辅助工具
// -----------------------------------------------------------------------------

// mockHash 生成一个合法的 32 字节 Hex 字符串 (64字符长度)
func mockHash(input string) types.Hash {
	return CalculateBlobHash([]byte(input))
}

// valueID 返回一段内容对应的 VALUE 标识符
func valueID(content string) ObjectIdentifier {
	return NewObjectIdentifier(ComputeObjectDigest(TypeValue, []byte(content)))
}

// mustNewCommit 创建 Commit，如果失败直接终止测试
func mustNewCommit(t *testing.T, root ObjectIdentifier, parents []types.Hash, gen uint64, ts int64, msgAndArgs ...any) *Commit {
	t.Helper()
	c, err := NewCommit(root, parents, gen, ts)
	require.NoError(t, err, msgAndArgs...)
	return c
}

func mustNewTree(t *testing.T, entries ...Entry) *Tree {
	t.Helper()
	tree, err := NewTree(entries)
	require.NoError(t, err)
	return tree
}

// genIdentifier 是 rapid 生成器：随机的合法标识符
func genIdentifier() *rapid.Generator[ObjectIdentifier] {
	return rapid.Custom(func(t *rapid.T) ObjectIdentifier {
		content := rapid.SliceOf(rapid.Byte()).Draw(t, "content")
		kind := TypeValue
		if rapid.Bool().Draw(t, "index") {
			kind = TypeIndex
		}
		return ObjectIdentifier{
			KeyIndex:        rapid.Uint32().Draw(t, "keyIndex"),
			DeletionScopeID: rapid.Uint32().Draw(t, "scope"),
			Digest:          ComputeObjectDigest(kind, content),
		}
	})
}

func genChildren() *rapid.Generator[[]FileIndexChild] {
	return rapid.SliceOfN(rapid.Custom(func(t *rapid.T) FileIndexChild {
		return FileIndexChild{
			Identifier: genIdentifier().Draw(t, "id"),
			Size:       rapid.Uint64Range(0, 1<<40).Draw(t, "size"),
		}
	}), 0, 64)
}
