package pagesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"ledgervault/pkg/backoff"
	"ledgervault/pkg/core"
	"ledgervault/pkg/kv"
	"ledgervault/pkg/objectstore"
	"ledgervault/pkg/pagestorage"
	"ledgervault/pkg/status"
	"ledgervault/pkg/storage"
	"ledgervault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel 记录调用，错误由测试注入
type fakeChannel struct {
	mu        sync.Mutex
	client    ChannelClient
	uploaded  []types.Hash
	attempts  int
	fetches   int
	uploadErr func(attempt int) error
	fetch     func(ctx context.Context, client ChannelClient) error
	pieces    map[core.ObjectIdentifier][]byte
	closed    bool
}

func (f *fakeChannel) UploadCommit(_ context.Context, c *core.Commit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.uploadErr != nil {
		if err := f.uploadErr(f.attempts); err != nil {
			return err
		}
	}
	f.uploaded = append(f.uploaded, c.ID())
	return nil
}

func (f *fakeChannel) FetchCommits(ctx context.Context) error {
	f.mu.Lock()
	f.fetches++
	fetch, client := f.fetch, f.client
	f.mu.Unlock()
	if fetch != nil {
		return fetch(ctx, client)
	}
	return nil
}

func (f *fakeChannel) GetPiece(_ context.Context, id core.ObjectIdentifier) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data, ok := f.pieces[id]; ok {
		return data, nil
	}
	return nil, status.Errorf(status.NotFound, "no piece %s", id)
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) snapshot() (attempts int, uploaded []types.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts, append([]types.Hash(nil), f.uploaded...)
}

type fakeCloud struct{ ch *fakeChannel }

func (c fakeCloud) CreatePageSync(_ Storage, client ChannelClient) (ChannelPageSync, error) {
	c.ch.client = client
	return c.ch, nil
}

type fakeP2P struct{ ch *fakeChannel }

func (p fakeP2P) GetPageCommunicator(_ Storage, client ChannelClient) (ChannelPageSync, error) {
	p.ch.client = client
	return p.ch, nil
}

// stateRecorder 记录状态通知
type stateRecorder struct {
	mu     sync.Mutex
	events map[types.Channel][]SyncState
}

func (r *stateRecorder) OnSyncStateChanged(ch types.Channel, s SyncState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[types.Channel][]SyncState)
	}
	r.events[ch] = append(r.events[ch], s)
}

func (r *stateRecorder) channels() map[types.Channel]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[types.Channel]int)
	for ch, ev := range r.events {
		out[ch] = len(ev)
	}
	return out
}

func newPage(t *testing.T) *pagestorage.PageStorage {
	t.Helper()
	ps, err := pagestorage.Open(context.Background(), pagestorage.Config{
		Page:    "page",
		KV:      kv.NewMemory(),
		Objects: objectstore.New(storage.NewMemoryStore(), objectstore.Config{Policy: core.DefaultDigestPolicy}),
	})
	require.NoError(t, err)
	return ps
}

func commit(t *testing.T, ps *pagestorage.PageStorage, key, value string) *core.Commit {
	t.Helper()
	ctx := context.Background()
	id, err := ps.AddBytes(ctx, []byte(value))
	require.NoError(t, err)
	j, err := ps.StartJournal()
	require.NoError(t, err)
	require.NoError(t, j.Put(ctx, []byte(key), id, core.PriorityEager))
	c, err := j.Commit(ctx)
	require.NoError(t, err)
	return c
}

func fastBackoff() backoff.Factory {
	f, _ := backoff.NewFactory(backoff.Config{Initial: time.Millisecond, Factor: 2, Max: 5 * time.Millisecond}, backoff.NoJitter())
	return f
}

func newLedgerSync(t *testing.T, cloud CloudSync, p2p P2PSync) *LedgerSync {
	t.Helper()
	ls, err := New(Config{Cloud: cloud, P2P: p2p, Backoffs: fastBackoff()})
	require.NoError(t, err)
	return ls
}

func TestCreatePageSync_NoChannels(t *testing.T) {
	ctx := context.Background()
	page := newPage(t)
	ls := newLedgerSync(t, nil, nil)
	assert.Empty(t, ls.Channels())

	ps, err := ls.CreatePageSync(page, nil, nil)
	require.NoError(t, err)
	ps.Start()

	// 离线时本地写入照常
	commit(t, page, "k", "v")
	assert.NoError(t, ps.SyncOnce(ctx))
	assert.Equal(t, StateStopped, ps.State(types.ChannelCloud))

	_, err = ps.GetPiece(ctx, core.ObjectIdentifier{})
	assert.Equal(t, status.NotFound, status.CodeOf(err))
	require.NoError(t, ps.Close())
	require.NoError(t, ps.Close())
}

func TestCreatePageSync_PeerOnly(t *testing.T) {
	page := newPage(t)
	peer := &fakeChannel{}
	rec := &stateRecorder{}
	var errs []error

	ls := newLedgerSync(t, nil, fakeP2P{peer})
	ps, err := ls.CreatePageSync(page, rec, func(err error) { errs = append(errs, err) })
	require.NoError(t, err)
	assert.Equal(t, []types.Channel{types.ChannelP2P}, ps.Channels())
	ps.Start()
	defer ps.Close()

	c := commit(t, page, "k", "v")
	assert.Eventually(t, func() bool {
		_, up := peer.snapshot()
		return len(up) == 1 && up[0] == c.ID()
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, ps.Close())
	got := rec.channels()
	assert.NotContains(t, got, types.ChannelCloud)
	assert.Contains(t, got, types.ChannelP2P)
	assert.Empty(t, errs)
	assert.True(t, peer.closed)
}

func TestUploadOrderAndMarks(t *testing.T) {
	ctx := context.Background()
	page := newPage(t)
	c1 := commit(t, page, "a", "1")
	c2 := commit(t, page, "b", "2")
	c3 := commit(t, page, "c", "3")

	cloud := &fakeChannel{}
	ls := newLedgerSync(t, fakeCloud{cloud}, nil)
	ps, err := ls.CreatePageSync(page, nil, nil)
	require.NoError(t, err)
	defer ps.Close()

	require.NoError(t, ps.SyncOnce(ctx))
	_, up := cloud.snapshot()
	assert.Equal(t, []types.Hash{c1.ID(), c2.ID(), c3.ID()}, up)

	un, err := page.GetUnsyncedCommits(ctx, types.ChannelCloud)
	require.NoError(t, err)
	assert.Empty(t, un)
	// 未配置的通道标记保留
	un, err = page.GetUnsyncedCommits(ctx, types.ChannelP2P)
	require.NoError(t, err)
	assert.Len(t, un, 3)
}

func TestUploadStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	page := newPage(t)
	c1 := commit(t, page, "a", "1")
	c2 := commit(t, page, "b", "2")

	cloud := &fakeChannel{uploadErr: func(attempt int) error {
		if attempt == 2 {
			return status.Network(types.ChannelCloud, assert.AnError)
		}
		return nil
	}}
	ls := newLedgerSync(t, fakeCloud{cloud}, nil)
	ps, err := ls.CreatePageSync(page, nil, nil)
	require.NoError(t, err)
	defer ps.Close()

	err = ps.SyncOnce(ctx)
	assert.Equal(t, status.NetworkError, status.CodeOf(err))
	un, err := page.GetUnsyncedCommits(ctx, types.ChannelCloud)
	require.NoError(t, err)
	require.Len(t, un, 1)
	assert.Equal(t, c2.ID(), un[0].ID())

	// 下一轮从失败处继续
	require.NoError(t, ps.SyncOnce(ctx))
	_, up := cloud.snapshot()
	assert.Equal(t, []types.Hash{c1.ID(), c2.ID()}, up)
}

func TestUnrecoverableCloudDoesNotStopPeer(t *testing.T) {
	page := newPage(t)
	commit(t, page, "k", "v")

	cloud := &fakeChannel{uploadErr: func(int) error {
		return status.Unrecoverablef(types.ChannelCloud, "credentials revoked")
	}}
	peer := &fakeChannel{uploadErr: func(attempt int) error {
		if attempt <= 3 {
			return status.Network(types.ChannelP2P, assert.AnError)
		}
		return nil
	}}

	var (
		mu   sync.Mutex
		errs []error
	)
	ls := newLedgerSync(t, fakeCloud{cloud}, fakeP2P{peer})
	ps, err := ls.CreatePageSync(page, nil, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	})
	require.NoError(t, err)
	ps.Start()
	defer ps.Close()

	// 对端按自己的退避重试直到成功
	assert.Eventually(t, func() bool {
		_, up := peer.snapshot()
		return len(up) == 1
	}, 2*time.Second, 5*time.Millisecond)
	peerAttempts, _ := peer.snapshot()
	assert.Equal(t, 4, peerAttempts)

	assert.Eventually(t, func() bool {
		return ps.State(types.ChannelCloud) == StateStopped
	}, time.Second, 5*time.Millisecond)

	// 云端停止之后不再尝试，新提交也不会唤醒它
	commit(t, page, "k2", "v2")
	ps.SyncNow()
	assert.Eventually(t, func() bool {
		_, up := peer.snapshot()
		return len(up) == 2
	}, time.Second, 5*time.Millisecond)
	cloudAttempts, _ := cloud.snapshot()
	assert.Equal(t, 1, cloudAttempts)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1)
	assert.Equal(t, status.Unrecoverable, status.CodeOf(errs[0]))
	assert.Equal(t, types.ChannelCloud, status.ChannelOf(errs[0]))
}

func TestParseErrorIsNotRetried(t *testing.T) {
	page := newPage(t)
	cloud := &fakeChannel{fetch: func(context.Context, ChannelClient) error {
		return status.New(status.ParseError, "corrupt commit record")
	}}
	ls := newLedgerSync(t, fakeCloud{cloud}, nil)
	ps, err := ls.CreatePageSync(page, nil, nil)
	require.NoError(t, err)
	ps.Start()
	defer ps.Close()

	assert.Eventually(t, func() bool {
		cloud.mu.Lock()
		defer cloud.mu.Unlock()
		return cloud.fetches == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	cloud.mu.Lock()
	assert.Equal(t, 1, cloud.fetches)
	cloud.mu.Unlock()
	assert.Equal(t, StateIdle, ps.State(types.ChannelCloud))
}

func TestRemoteCommitsAppliedThroughClient(t *testing.T) {
	ctx := context.Background()
	src := newPage(t)
	c1 := commit(t, src, "a", "1")
	c2 := commit(t, src, "b", "2")

	// 通道从 src 拉取提交，缺失的分片由 src 提供
	dst := newPage(t)
	peer := &fakeChannel{pieces: make(map[core.ObjectIdentifier][]byte)}
	for _, c := range []*core.Commit{c1, c2} {
		ids, err := src.CollectCommitPieces(ctx, c)
		require.NoError(t, err)
		for _, id := range ids {
			data, err := src.GetLocalPiece(ctx, id)
			require.NoError(t, err)
			peer.pieces[id] = data
		}
	}
	peer.fetch = func(ctx context.Context, client ChannelClient) error {
		return client.ApplyRemoteCommits(ctx, []pagestorage.RemoteCommit{
			{ID: c2.ID(), Data: c2.Bytes()},
			{ID: c1.ID(), Data: c1.Bytes()},
		})
	}

	ls := newLedgerSync(t, nil, fakeP2P{peer})
	ps, err := ls.CreatePageSync(dst, nil, nil)
	require.NoError(t, err)
	defer ps.Close()

	require.NoError(t, ps.SyncOnce(ctx))
	head, err := dst.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, c2.ID(), head.ID())

	got, err := dst.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	// 来自对端的提交不会回传给对端
	un, err := dst.GetUnsyncedCommits(ctx, types.ChannelP2P)
	require.NoError(t, err)
	assert.Empty(t, un)
}

func TestGetPiecePrefersPeers(t *testing.T) {
	ctx := context.Background()
	page := newPage(t)
	id := core.NewObjectIdentifier(core.ComputeObjectDigest(core.TypeValue, []byte("only in cloud, long enough to hash!")))

	peer := &fakeChannel{pieces: map[core.ObjectIdentifier][]byte{}}
	cloud := &fakeChannel{pieces: map[core.ObjectIdentifier][]byte{id: []byte("only in cloud, long enough to hash!")}}
	ls := newLedgerSync(t, fakeCloud{cloud}, fakeP2P{peer})
	ps, err := ls.CreatePageSync(page, nil, nil)
	require.NoError(t, err)
	defer ps.Close()
	assert.Equal(t, []types.Channel{types.ChannelP2P, types.ChannelCloud}, ps.Channels())

	data, err := ps.GetPiece(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "only in cloud, long enough to hash!", string(data))

	// 页面读取经由协调器取回
	got, err := page.ReadObject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, ps.Close())
	_, err = page.ReadObject(ctx, core.NewObjectIdentifier(core.ComputeObjectDigest(core.TypeValue, []byte("another value that is not inlined"))))
	assert.Equal(t, status.NotFound, status.CodeOf(err))
}

func TestRemoteBatchDiscardedAfterClose(t *testing.T) {
	ctx := context.Background()
	src := newPage(t)
	c1 := commit(t, src, "a", "1")

	dst := newPage(t)
	cloudCh := &fakeChannel{}
	ls := newLedgerSync(t, fakeCloud{cloudCh}, nil)
	ps, err := ls.CreatePageSync(dst, nil, nil)
	require.NoError(t, err)
	require.NoError(t, ps.Close())

	// 通道在关闭后才交回批次：不能写入页面，也不能被当成成功
	err = cloudCh.client.ApplyRemoteCommits(ctx, []pagestorage.RemoteCommit{{ID: c1.ID(), Data: c1.Bytes()}})
	assert.Equal(t, status.IllegalState, status.CodeOf(err))

	has, err := dst.HasCommit(ctx, c1.ID())
	require.NoError(t, err)
	assert.False(t, has)
}
