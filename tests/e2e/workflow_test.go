package e2e

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	meshrpc "ledgervault/pkg/api/meshrpc/v1"
	"ledgervault/pkg/app"
	"ledgervault/pkg/cloud"
	"ledgervault/pkg/config"
	"ledgervault/pkg/core"
	"ledgervault/pkg/exporter"
	"ledgervault/pkg/ingester"
	"ledgervault/pkg/objectstore"
	"ledgervault/pkg/server"
	"ledgervault/pkg/service"
	"ledgervault/pkg/storage"
	"ledgervault/pkg/storage/cache"
	"ledgervault/pkg/storage/disk"
	"ledgervault/pkg/types"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MetricStore 统计底层存储被调用的次数，用于验证缓存命中
type MetricStore struct {
	storage.Store // 组合真正的 Store
	putCount      int32
	hasCount      int32
}

func (m *MetricStore) Put(ctx context.Context, hash types.Hash, data []byte) error {
	atomic.AddInt32(&m.putCount, 1)
	return m.Store.Put(ctx, hash, data)
}

func (m *MetricStore) Has(ctx context.Context, hash types.Hash) (bool, error) {
	atomic.AddInt32(&m.hasCount, 1)
	return m.Store.Has(ctx, hash)
}

// newDevice 按当前 Viper 配置在独立仓库里组装一个完整的 App
func newDevice(t *testing.T, configure func(), opts ...app.Option) *app.App {
	t.Helper()
	viper.Reset()
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, config.Load(""))

	repo := t.TempDir()
	viper.Set("repo", repo)
	viper.Set("storage.path", filepath.Join(repo, "objects"))
	viper.Set("kv.path", filepath.Join(repo, "kv"))
	viper.Set("database.dsn", filepath.Join(repo, "meta.db"))
	viper.Set("sync.backoff.initial", time.Millisecond)
	viper.Set("sync.backoff.max", 10*time.Millisecond)
	viper.Set("sync.poll_interval", 0)
	if configure != nil {
		configure()
	}

	log, _ := test.NewNullLogger()
	a, err := app.NewApp(context.Background(), append(opts, app.WithLogger(log))...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func put(t *testing.T, p *app.Page, key string, value []byte, prio core.Priority) *core.Commit {
	t.Helper()
	ctx := context.Background()
	id, _, err := p.Storage.AddObject(ctx, bytes.NewReader(value))
	require.NoError(t, err)
	j, err := p.Storage.StartJournal()
	require.NoError(t, err)
	require.NoError(t, j.Put(ctx, []byte(key), id, prio))
	c, err := j.Commit(ctx)
	require.NoError(t, err)
	return c
}

func headIDs(t *testing.T, p *app.Page) []types.Hash {
	t.Helper()
	heads, err := p.Storage.GetHeadCommits(context.Background())
	require.NoError(t, err)
	ids := make([]types.Hash, 0, len(heads))
	for _, h := range heads {
		ids = append(ids, h.ID())
	}
	return ids
}

// TestTwoDevices_CloudSync 两台设备通过共享的云端同步同一个页面：
// 首次同步 -> 懒加载大对象 -> 并发修改后收敛到同一个合并提交
func TestTwoDevices_CloudSync(t *testing.T) {
	ctx := context.Background()
	remote := cloud.NewMemoryProvider()

	phone := newDevice(t, nil, app.WithCloudProvider(remote))
	laptop := newDevice(t, nil, app.WithCloudProvider(remote))

	pp, err := phone.OpenPage(ctx, "journal", nil, nil)
	require.NoError(t, err)
	lp, err := laptop.OpenPage(ctx, "journal", nil, nil)
	require.NoError(t, err)

	// 1. 手机写入，两边各同步一轮
	photo := make([]byte, 300*1024)
	_, err = rand.Read(photo)
	require.NoError(t, err)
	put(t, pp, "entry/1", []byte("first entry written on the phone"), core.PriorityEager)
	put(t, pp, "photo/1", photo, core.PriorityLazy)

	require.NoError(t, pp.Sync.SyncOnce(ctx))
	require.NoError(t, lp.Sync.SyncOnce(ctx))
	assert.Equal(t, headIDs(t, pp), headIDs(t, lp))

	got, err := lp.Storage.Get(ctx, []byte("entry/1"))
	require.NoError(t, err)
	assert.Equal(t, "first entry written on the phone", string(got))

	// 2. 懒加载的值在第一次读取时从云端取回
	got, err = lp.Storage.Get(ctx, []byte("photo/1"))
	require.NoError(t, err)
	assert.Equal(t, photo, got)

	// 3. 并发修改同一个 key
	put(t, pp, "entry/2", []byte("phone edit"), core.PriorityEager)
	put(t, lp, "entry/2", []byte("laptop edit"), core.PriorityEager)

	require.NoError(t, pp.Sync.SyncOnce(ctx))
	require.NoError(t, lp.Sync.SyncOnce(ctx))
	require.NoError(t, pp.Sync.SyncOnce(ctx))
	require.NoError(t, lp.Sync.SyncOnce(ctx))

	require.Len(t, headIDs(t, pp), 1)
	assert.Equal(t, headIDs(t, pp), headIDs(t, lp), "replicas converge on the same merge commit")

	a, err := pp.Storage.Get(ctx, []byte("entry/2"))
	require.NoError(t, err)
	b, err := lp.Storage.Get(ctx, []byte("entry/2"))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// 4. 再同步一轮后所有提交都已经上传 (合并提交两边 id 相同，云端去重)
	require.NoError(t, pp.Sync.SyncOnce(ctx))
	pending, err := pp.Storage.GetUnsyncedCommits(ctx, types.ChannelCloud)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// serveMesh 在已有的监听器上为设备启动 gRPC 网格服务
func serveMesh(t *testing.T, a *app.App, lis net.Listener) {
	t.Helper()
	log, _ := test.NewNullLogger()
	srv := server.NewServer(log)
	meshrpc.RegisterMeshServer(srv, service.NewMeshService(a.P2P))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
}

func peerDevice(t *testing.T, id string, peer string, peerLis net.Listener) *app.App {
	t.Helper()
	return newDevice(t, func() {
		viper.Set("p2p.enabled", true)
		viper.Set("p2p.node_id", id)
		viper.Set("p2p.peers", []string{fmt.Sprintf("%s@%s", peer, peerLis.Addr())})
	})
}

// TestTwoDevices_PeerSyncOverGRPC 两个节点互为对端，通过真实的 TCP gRPC 连接同步
func TestTwoDevices_PeerSyncOverGRPC(t *testing.T) {
	ctx := context.Background()

	// 1. 先占好两个端口，客户端连接是惰性的
	lisA, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	lisB, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	devB := peerDevice(t, "b", "a", lisA)
	bp, err := devB.OpenPage(ctx, "shared", nil, nil)
	require.NoError(t, err)
	serveMesh(t, devB, lisB)

	devA := peerDevice(t, "a", "b", lisB)
	ap, err := devA.OpenPage(ctx, "shared", nil, nil)
	require.NoError(t, err)
	serveMesh(t, devA, lisA)

	// 2. A 的后台同步把新提交推给 B，B 从 A 取回树和值
	ap.Sync.Start()
	c := put(t, ap, "greeting", []byte("hello from device a over the mesh"), core.PriorityEager)

	assert.Eventually(t, func() bool {
		ok, err := bp.Storage.HasCommit(ctx, c.ID())
		return err == nil && ok
	}, 5*time.Second, 10*time.Millisecond)

	got, err := bp.Storage.Get(ctx, []byte("greeting"))
	require.NoError(t, err)
	assert.Equal(t, "hello from device a over the mesh", string(got))

	assert.Eventually(t, func() bool {
		pending, err := ap.Storage.GetUnsyncedCommits(ctx, types.ChannelP2P)
		return err == nil && len(pending) == 0
	}, 5*time.Second, 10*time.Millisecond)

	// 3. 反方向：B 手动同步一轮，A 拉取
	c2 := put(t, bp, "reply", []byte("hello back from device b"), core.PriorityLazy)
	require.NoError(t, bp.Sync.SyncOnce(ctx))

	assert.Eventually(t, func() bool {
		ok, err := ap.Storage.HasCommit(ctx, c2.ID())
		return err == nil && ok
	}, 5*time.Second, 10*time.Millisecond)

	got, err = ap.Storage.Get(ctx, []byte("reply"))
	require.NoError(t, err)
	assert.Equal(t, "hello back from device b", string(got))
}

// TestCachedIngest_Dedup 验证 Redis 存在性缓存让重复导入不再写底层存储
func TestCachedIngest_Dedup(t *testing.T) {
	redisAddr := "localhost:6379"
	if conn, err := net.DialTimeout("tcp", redisAddr, 1*time.Second); err != nil {
		t.Skip("Skipping E2E test: Redis not available")
	} else {
		conn.Close()
	}

	ctx := context.Background()
	diskStore, err := disk.NewAdapter(filepath.Join(t.TempDir(), "objects"))
	require.NoError(t, err)
	spy := &MetricStore{Store: diskStore}

	cachedStore, err := cache.NewCachedStore(spy, cache.Config{
		RedisURL: fmt.Sprintf("redis://%s/0", redisAddr),
		TTL:      time.Hour,
	})
	require.NoError(t, err)
	defer cachedStore.Close()

	objects := objectstore.New(cachedStore, objectstore.Config{Policy: core.DefaultDigestPolicy})
	ing := ingester.NewIngester(objects)

	data := make([]byte, 4*1024*1024)
	_, err = rand.Read(data)
	require.NoError(t, err)

	// 1. 冷导入
	id1, size, err := ing.Ingest(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), size)
	putsAfterCold := atomic.LoadInt32(&spy.putCount)
	assert.Greater(t, int(putsAfterCold), 1)

	// 2. 热导入：所有分片都被缓存挡住
	id2, _, err := ing.Ingest(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, putsAfterCold, atomic.LoadInt32(&spy.putCount))

	// 3. 还原一致
	var buf bytes.Buffer
	_, err = exporter.NewExporter(objects).Export(ctx, id1, &buf)
	require.NoError(t, err)
	assert.Equal(t, data, buf.Bytes())
}
