package treebuilder

import (
	"errors"
	"testing"

	"ledgervault/pkg/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitAt(t *testing.T, ts int64, seed string) *core.Commit {
	t.Helper()
	c, err := core.NewCommit(valueID(seed), nil, 1, ts)
	require.NoError(t, err)
	return c
}

func valueOf(t *testing.T, tree *core.Tree, key string) (core.ObjectIdentifier, bool) {
	t.Helper()
	e, ok := tree.Get([]byte(key))
	return e.Identifier, ok
}

func TestMerge_OneSidedChanges(t *testing.T) {
	base := mustTree(t, map[string]string{"keep": "0", "edit": "0", "drop": "0"})
	left := mustTree(t, map[string]string{"keep": "0", "edit": "L", "drop": "0", "new-left": "1"})
	right := mustTree(t, map[string]string{"keep": "0", "edit": "0", "new-right": "2"})

	got, err := Merge(base, left, right, commitAt(t, 1, "l"), commitAt(t, 2, "r"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"edit", "keep", "new-left", "new-right"}, treeKeys(got))

	v, _ := valueOf(t, got, "edit")
	assert.Equal(t, valueID("L"), v, "只有左边改了 edit")
}

func TestMerge_LastWriterWins(t *testing.T) {
	base := mustTree(t, map[string]string{"k": "0"})
	left := mustTree(t, map[string]string{"k": "L"})
	right := mustTree(t, map[string]string{"k": "R"})
	older, newer := commitAt(t, 100, "a"), commitAt(t, 200, "b")

	got, err := Merge(base, left, right, older, newer, LastWriterWins{})
	require.NoError(t, err)
	v, _ := valueOf(t, got, "k")
	assert.Equal(t, valueID("R"), v)

	// 交换左右结果不变
	swapped, err := Merge(base, right, left, newer, older, LastWriterWins{})
	require.NoError(t, err)
	assert.Equal(t, got.Bytes(), swapped.Bytes())
}

func TestMerge_TieBreaksOnID(t *testing.T) {
	base := mustTree(t, map[string]string{})
	left := mustTree(t, map[string]string{"k": "L"})
	right := mustTree(t, map[string]string{"k": "R"})
	a, b := commitAt(t, 5, "a"), commitAt(t, 5, "b")

	m1, err := Merge(base, left, right, a, b, nil)
	require.NoError(t, err)
	m2, err := Merge(base, right, left, b, a, nil)
	require.NoError(t, err)
	assert.Equal(t, m1.Bytes(), m2.Bytes())

	want := valueID("R")
	if a.ID() > b.ID() {
		want = valueID("L")
	}
	v, _ := valueOf(t, m1, "k")
	assert.Equal(t, want, v)
}

func TestMerge_DeleteVersusEdit(t *testing.T) {
	base := mustTree(t, map[string]string{"k": "0"})
	// 左边删除，右边修改
	left := mustTree(t, map[string]string{})
	right := mustTree(t, map[string]string{"k": "R"})

	// 删除一边更新
	got, err := Merge(base, left, right, commitAt(t, 9, "l"), commitAt(t, 1, "r"), nil)
	require.NoError(t, err)
	_, ok := valueOf(t, got, "k")
	assert.False(t, ok)
}

type failingStrategy struct{}

func (failingStrategy) Resolve(Conflict) (*core.Entry, error) { return nil, errors.New("manual merge required") }

func TestMerge_CustomStrategy(t *testing.T) {
	base := mustTree(t, map[string]string{"k": "0"})
	left := mustTree(t, map[string]string{"k": "L"})
	right := mustTree(t, map[string]string{"k": "R"})

	_, err := Merge(base, left, right, commitAt(t, 1, "l"), commitAt(t, 2, "r"), failingStrategy{})
	assert.EqualError(t, err, "manual merge required")

	// 两边改成一样的值不算冲突
	same, err := Merge(base, left, left, commitAt(t, 1, "l"), commitAt(t, 2, "r"), failingStrategy{})
	require.NoError(t, err)
	v, _ := valueOf(t, same, "k")
	assert.Equal(t, valueID("L"), v)
}
