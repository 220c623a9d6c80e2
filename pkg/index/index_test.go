package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ledgervault/pkg/core"
	"ledgervault/pkg/kv"
	"ledgervault/pkg/objectstore"
	"ledgervault/pkg/pagestorage"
	"ledgervault/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digestOf(s string) core.ObjectIdentifier {
	return core.NewObjectIdentifier(core.DefaultDigestPolicy.Compute(core.TypeValue, []byte(s)))
}

func TestIndex_Persistence_RoundTrip(t *testing.T) {
	// 1. Setup
	tmpDir := t.TempDir()
	indexPath := filepath.Join(tmpDir, "index", "main.json")

	// 2. 创建并写入数据
	idx1, err := NewIndex(indexPath)
	require.NoError(t, err)

	model := digestOf("model weights that are longer than the inline threshold")
	idx1.Put("data/model.bin", model, core.PriorityLazy, 1024, "/tmp/model.bin")
	idx1.Delete("readme.md")

	require.NoError(t, idx1.Save())
	_, err = os.Stat(indexPath + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")

	// 3. 重新加载 (模拟第二次运行程序)
	idx2, err := NewIndex(indexPath)
	require.NoError(t, err)

	// 4. 验证数据一致性
	assert.Equal(t, 2, len(idx2.Entries))

	entry, exists := idx2.Entries["data/model.bin"]
	require.True(t, exists)
	assert.Equal(t, OpPut, entry.Op)
	assert.Equal(t, core.PriorityLazy, entry.Priority)
	assert.Equal(t, uint64(1024), entry.Size)
	assert.False(t, entry.ModifiedAt.IsZero())

	id, err := entry.Identifier()
	require.NoError(t, err)
	assert.Equal(t, model, id)

	assert.Equal(t, OpDelete, idx2.Entries["readme.md"].Op)
}

func TestIndex_Corrupted(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(indexPath, []byte("{not json"), 0o644))

	_, err := NewIndex(indexPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupted index file")
}

func TestIndex_Concurrency(t *testing.T) {
	idx, err := NewIndex(filepath.Join(t.TempDir(), "index.json"))
	require.NoError(t, err)

	id := digestOf("v")
	done := make(chan bool)
	for range 10 {
		go func() {
			idx.Put("file", id, core.PriorityEager, 1, "") // 反复写同一个 key
			done <- true
		}()
	}
	for range 10 {
		<-done
	}

	assert.Equal(t, 1, len(idx.Snapshot()))
}

func TestIndex_Lifecycle(t *testing.T) {
	idx, err := NewIndex(filepath.Join(t.TempDir(), "index.json"))
	require.NoError(t, err)

	// 1. Put & IsEmpty
	assert.True(t, idx.IsEmpty())
	idx.Put("src/main.go", digestOf("x"), core.PriorityEager, 1, "")
	assert.False(t, idx.IsEmpty())

	// 2. Delete 覆盖同一 key 上的 Put
	idx.Delete("src/main.go")
	assert.Equal(t, OpDelete, idx.Snapshot()["src/main.go"].Op)

	// 3. Unstage 幂等
	idx.Unstage("src/main.go")
	idx.Unstage("ghost.file")
	assert.True(t, idx.IsEmpty())

	// 4. Reset
	idx.Put("b", digestOf("h2"), core.PriorityEager, 2, "")
	idx.Put("a", digestOf("h1"), core.PriorityEager, 1, "")
	assert.Equal(t, []string{"a", "b"}, []string{idx.Sorted()[0].Key, idx.Sorted()[1].Key})
	idx.Reset()
	assert.True(t, idx.IsEmpty(), "Index should be empty after Reset")
}

func TestIndex_ApplyToJournal(t *testing.T) {
	ctx := context.Background()
	ps, err := pagestorage.Open(ctx, pagestorage.Config{
		Page:    "staging",
		KV:      kv.NewMemory(),
		Objects: objectstore.New(storage.NewMemoryStore(), objectstore.Config{Policy: core.DefaultDigestPolicy}),
	})
	require.NoError(t, err)

	a, err := ps.AddBytes(ctx, []byte("alpha"))
	require.NoError(t, err)
	b, err := ps.AddBytes(ctx, []byte("bravo"))
	require.NoError(t, err)

	// 1. 第一次提交 a 和 b
	idx, err := NewIndex(filepath.Join(t.TempDir(), "index.json"))
	require.NoError(t, err)
	idx.Put("a", a, core.PriorityEager, 5, "")
	idx.Put("b", b, core.PriorityLazy, 5, "")

	j, err := ps.StartJournal()
	require.NoError(t, err)
	require.NoError(t, idx.Apply(ctx, j))
	_, err = j.Commit(ctx)
	require.NoError(t, err)
	idx.Reset()

	// 2. 第二次删除 a
	idx.Delete("a")
	j, err = ps.StartJournal()
	require.NoError(t, err)
	require.NoError(t, idx.Apply(ctx, j))
	head, err := j.Commit(ctx)
	require.NoError(t, err)

	tree, err := ps.GetTree(ctx, head)
	require.NoError(t, err)
	require.Equal(t, 1, tree.Len())
	e, ok := tree.Get([]byte("b"))
	require.True(t, ok)
	assert.Equal(t, core.PriorityLazy, e.Priority)
	assert.Equal(t, b, e.Identifier)
}

func TestIndex_ApplyRejectsBadDigest(t *testing.T) {
	idx, err := NewIndex(filepath.Join(t.TempDir(), "index.json"))
	require.NoError(t, err)
	idx.Entries["k"] = Entry{Key: "k", Op: OpPut, Digest: "zz"}

	ps, err := pagestorage.Open(context.Background(), pagestorage.Config{
		Page:    "staging",
		KV:      kv.NewMemory(),
		Objects: objectstore.New(storage.NewMemoryStore(), objectstore.Config{Policy: core.DefaultDigestPolicy}),
	})
	require.NoError(t, err)
	j, err := ps.StartJournal()
	require.NoError(t, err)
	defer j.Rollback()

	assert.Error(t, idx.Apply(context.Background(), j))
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"a/b/c", "a/b/c"},
		{"./a/b", "a/b"},
		{"a//b", "a/b"},
		{"a/../b", "b"},
		{".", "."},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, CleanPath(tt.input))
	}
}
