package pagestorage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ledgervault/pkg/core"
	"ledgervault/pkg/kv"
	"ledgervault/pkg/objectstore"
	"ledgervault/pkg/status"
	"ledgervault/pkg/storage"
	"ledgervault/pkg/types"

	"github.com/stretchr/testify/require"
)

type replica struct {
	ps      *PageStorage
	pieces  *storage.MemoryStore
	clockMu sync.Mutex
	now     time.Time
}

func (r *replica) tick() time.Time {
	r.clockMu.Lock()
	defer r.clockMu.Unlock()
	r.now = r.now.Add(time.Second)
	return r.now
}

func newReplica(t *testing.T, page types.PageID) *replica {
	t.Helper()
	return newReplicaWithKV(t, page, kv.NewMemory())
}

func newReplicaWithKV(t *testing.T, page types.PageID, db kv.Store) *replica {
	t.Helper()
	r := &replica{
		pieces: storage.NewMemoryStore(),
		now:    time.Unix(1700000000, 0),
	}
	ps, err := Open(context.Background(), Config{
		Page:    page,
		KV:      db,
		Objects: objectstore.New(r.pieces, objectstore.Config{Policy: core.DefaultDigestPolicy}),
		Clock:   r.tick,
	})
	require.NoError(t, err)
	r.ps = ps
	return r
}

// put 写入一个值并提交
func (r *replica) put(t *testing.T, key, value string) *core.Commit {
	t.Helper()
	ctx := context.Background()
	id, err := r.ps.AddBytes(ctx, []byte(value))
	require.NoError(t, err)
	j, err := r.ps.StartJournal()
	require.NoError(t, err)
	require.NoError(t, j.Put(ctx, []byte(key), id, core.PriorityEager))
	c, err := j.Commit(ctx)
	require.NoError(t, err)
	return c
}

// pushTo 把 from 上 to 缺少的提交交给 to，对象从 from 的本地分片读取
func pushTo(t *testing.T, from, to *replica, source types.Channel) {
	t.Helper()
	ctx := context.Background()
	commits, err := from.ps.GetUnsyncedCommits(ctx, source)
	require.NoError(t, err)

	remote := make([]RemoteCommit, 0, len(commits))
	for _, c := range commits {
		remote = append(remote, RemoteCommit{ID: c.ID(), Data: c.Bytes()})
	}
	fetch := objectstore.FetcherFunc(from.ps.GetLocalPiece)
	require.NoError(t, to.ps.AddCommitsFromSync(ctx, remote, source, fetch))
	for _, c := range commits {
		require.NoError(t, from.ps.MarkCommitSynced(ctx, source, c.ID()))
	}
}

func headIDs(t *testing.T, ps *PageStorage) []types.Hash {
	t.Helper()
	heads, err := ps.GetHeadCommits(context.Background())
	require.NoError(t, err)
	ids := make([]types.Hash, 0, len(heads))
	for _, h := range heads {
		ids = append(ids, h.ID())
	}
	return ids
}

func keysOf(t *testing.T, ps *PageStorage) []string {
	t.Helper()
	ctx := context.Background()
	head, err := ps.Head(ctx)
	require.NoError(t, err)
	tree, err := ps.GetTree(ctx, head)
	require.NoError(t, err)
	keys := make([]string, 0, tree.Len())
	for _, e := range tree.Entries {
		keys = append(keys, string(e.Key))
	}
	return keys
}

// faultyKV 让指定次数的 Update 失败，用来模拟磁盘写入错误
type faultyKV struct {
	kv.Store
	skip atomic.Int32 // 先放行的 Update 次数
	fail atomic.Int32 // 随后失败的 Update 次数
}

// failAfter 放行 skip 次 Update 之后让接下来的 fail 次失败
func (f *faultyKV) failAfter(skip, fail int32) {
	f.skip.Store(skip)
	f.fail.Store(fail)
}

func (f *faultyKV) Update(ctx context.Context, fn func(kv.Batch) error) error {
	if f.skip.Add(-1) < 0 && f.fail.Add(-1) >= 0 {
		return status.New(status.IOError, "disk full")
	}
	return f.Store.Update(ctx, fn)
}

// unsyncedIDs 返回每个通道的未同步提交 id
func unsyncedIDs(t require.TestingT, ps *PageStorage) map[types.Channel][]types.Hash {
	out := make(map[types.Channel][]types.Hash)
	for _, ch := range types.AllChannels {
		commits, err := ps.GetUnsyncedCommits(context.Background(), ch)
		require.NoError(t, err)
		for _, c := range commits {
			out[ch] = append(out[ch], c.ID())
		}
	}
	return out
}
