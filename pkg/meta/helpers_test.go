package meta

import (
	"context"
	"testing"

	"ledgervault/pkg/core"
	"ledgervault/pkg/types"

	"github.com/stretchr/testify/require"
)

// mockHash 生成合法的测试用 Hash
func mockHash(input string) types.Hash {
	return core.CalculateBlobHash([]byte(input))
}

func mockRoot(input string) core.ObjectIdentifier {
	return core.NewObjectIdentifier(core.ComputeObjectDigest(core.TypeValue, []byte(input)))
}

// mustNewCommit 创建 Commit，如果失败直接终止测试
func mustNewCommit(t *testing.T, root string, parents []types.Hash, gen uint64, ts int64, msgAndArgs ...any) *core.Commit {
	t.Helper()
	c, err := core.NewCommit(mockRoot(root), parents, gen, ts)
	require.NoError(t, err, msgAndArgs...)
	return c
}

// mustIndexCommit 强制索引 Commit，失败则终止
func mustIndexCommit(t *testing.T, repo *Repository, page types.PageID, c *core.Commit, msgAndArgs ...any) {
	t.Helper()
	err := repo.IndexCommit(context.Background(), page, c, types.ChannelP2P)
	require.NoError(t, err, msgAndArgs...)
}

// mustUpdateCursor 适用于预期成功的场景
func mustUpdateCursor(t *testing.T, repo *Repository, name, position string, oldVersion int64, msgAndArgs ...any) {
	t.Helper()
	err := repo.UpdateCursor(context.Background(), name, position, oldVersion)
	require.NoError(t, err, msgAndArgs...)
}
