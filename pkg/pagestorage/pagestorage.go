// Package pagestorage 是单个页面的存储：Commit DAG、head 集合、同步状态和对象访问。
// 所有写入 (本地 Journal 与远端 Commit) 都串行经过同一把写锁。
package pagestorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"ledgervault/pkg/core"
	"ledgervault/pkg/exporter"
	"ledgervault/pkg/ingester"
	"ledgervault/pkg/journal"
	"ledgervault/pkg/kv"
	"ledgervault/pkg/objectstore"
	"ledgervault/pkg/refs"
	"ledgervault/pkg/status"
	"ledgervault/pkg/treebuilder"
	"ledgervault/pkg/types"

	"github.com/sirupsen/logrus"
)

// SourceLocal 标记本地产生的提交
const SourceLocal types.Channel = ""

// CommitIndexer 是可选的提交索引 (meta.Repository)，失败不影响写入
type CommitIndexer interface {
	IndexCommit(ctx context.Context, page types.PageID, c *core.Commit, source types.Channel) error
}

// CommitWatcher 在新提交持久化之后被调用。source 为空表示本地提交。
// 回调在写锁之外执行，但不应阻塞。
type CommitWatcher interface {
	OnNewCommits(commits []*core.Commit, source types.Channel)
}

type CommitWatcherFunc func(commits []*core.Commit, source types.Channel)

func (f CommitWatcherFunc) OnNewCommits(commits []*core.Commit, source types.Channel) {
	f(commits, source)
}

// RemoteCommit 是从同步通道收到的提交记录
type RemoteCommit struct {
	ID   types.Hash
	Data []byte
}

type Config struct {
	Page    types.PageID
	KV      kv.Store
	Objects *objectstore.Store

	// 可选
	Indexer       CommitIndexer
	MergeStrategy treebuilder.MergeStrategy
	Ingester      []ingester.Option
	// Channels 是需要维护未同步标记的通道，默认全部
	Channels []types.Channel
	Clock    func() time.Time
	Logger   logrus.FieldLogger
}

type PageStorage struct {
	page     types.PageID
	db       kv.Store
	objects  *objectstore.Store
	ingester *ingester.Ingester
	builder  *treebuilder.Builder
	heads    *refs.Manager
	indexer  CommitIndexer
	strategy treebuilder.MergeStrategy
	channels []types.Channel
	clock    func() time.Time
	log      logrus.FieldLogger

	// writeMu 保证单写者
	writeMu sync.Mutex

	mu          sync.Mutex
	openJournal types.JournalID
	watchers    map[int]CommitWatcher
	nextWatcher int
	delegate    objectstore.Fetcher
}

var _ journal.Committer = (*PageStorage)(nil)

// ValidatePageID 页面 ID 会出现在 KV 键和对象路径里，只允许安全字符
func ValidatePageID(page types.PageID) error {
	if len(page) == 0 || len(page) > 128 {
		return status.Errorf(status.ParseError, "page id length %d out of range", len(page))
	}
	for _, r := range page {
		ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '.'
		if !ok {
			return status.Errorf(status.ParseError, "page id %q contains %q", page, r)
		}
	}
	return nil
}

func Open(ctx context.Context, cfg Config) (*PageStorage, error) {
	if err := ValidatePageID(cfg.Page); err != nil {
		return nil, err
	}
	if cfg.KV == nil || cfg.Objects == nil {
		return nil, fmt.Errorf("page storage requires a kv store and an object store")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.MergeStrategy == nil {
		cfg.MergeStrategy = treebuilder.LastWriterWins{}
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = types.AllChannels
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	ing := ingester.NewIngester(cfg.Objects, cfg.Ingester...)
	ps := &PageStorage{
		page:     cfg.Page,
		db:       cfg.KV,
		objects:  cfg.Objects,
		ingester: ing,
		builder:  treebuilder.NewBuilder(ing, cfg.Objects),
		heads:    refs.NewManager(cfg.KV, cfg.Page),
		indexer:  cfg.Indexer,
		strategy: cfg.MergeStrategy,
		channels: cfg.Channels,
		clock:    cfg.Clock,
		log:      cfg.Logger.WithField("page", string(cfg.Page)),
		watchers: make(map[int]CommitWatcher),
	}

	heads, err := ps.heads.Heads(ctx)
	if err != nil {
		return nil, err
	}
	ps.log.WithField("heads", len(heads)).Debug("page storage opened")
	return ps, nil
}

func (ps *PageStorage) ID() types.PageID { return ps.page }
func (ps *PageStorage) Objects() *objectstore.Store { return ps.objects }

// AddObject 切分并存储一个值，返回可以放进 Journal 的标识符
func (ps *PageStorage) AddObject(ctx context.Context, r io.Reader) (core.ObjectIdentifier, uint64, error) {
	return ps.ingester.Ingest(ctx, r)
}

func (ps *PageStorage) AddBytes(ctx context.Context, data []byte) (core.ObjectIdentifier, error) {
	id, _, err := ps.ingester.IngestBytes(ctx, data)
	return id, err
}

// -----------------------------------------------------------------------------
// KV 布局: p/<page>/c/<id>  p/<page>/h/<id>  p/<page>/u/<channel>/<gen>/<id>
// -----------------------------------------------------------------------------

func (ps *PageStorage) commitKey(id types.Hash) []byte {
	return kv.Key("p", string(ps.page), "c", string(id))
}

func (ps *PageStorage) unsyncedPrefix(ch types.Channel) []byte {
	return append(kv.Key("p", string(ps.page), "u", string(ch)), '/')
}

func (ps *PageStorage) unsyncedKey(ch types.Channel, c *core.Commit) []byte {
	return kv.Key("p", string(ps.page), "u", string(ch), fmt.Sprintf("%016x", c.Generation), string(c.ID()))
}

// -----------------------------------------------------------------------------
// 读取
// -----------------------------------------------------------------------------

func (ps *PageStorage) GetCommit(ctx context.Context, id types.Hash) (*core.Commit, error) {
	data, err := ps.db.Get(ctx, ps.commitKey(id))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, status.Errorf(status.NotFound, "commit %s not found", id.Short())
	}
	if err != nil {
		return nil, err
	}
	return core.DecodeCommit(data)
}

func (ps *PageStorage) HasCommit(ctx context.Context, id types.Hash) (bool, error) {
	return ps.db.Has(ctx, ps.commitKey(id))
}

// GetHeadCommits 返回按 (代数, 时间戳, ID) 排序的 head
func (ps *PageStorage) GetHeadCommits(ctx context.Context) ([]*core.Commit, error) {
	ids, err := ps.heads.Heads(ctx)
	if err != nil {
		return nil, err
	}
	commits := make([]*core.Commit, 0, len(ids))
	for _, id := range ids {
		c, err := ps.GetCommit(ctx, id)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	core.SortCommits(commits)
	return commits, nil
}

// Head 返回最新的 head；空页面返回 refs.ErrNoHead
func (ps *PageStorage) Head(ctx context.Context) (*core.Commit, error) {
	heads, err := ps.GetHeadCommits(ctx)
	if err != nil {
		return nil, err
	}
	if len(heads) == 0 {
		return nil, refs.ErrNoHead
	}
	return heads[len(heads)-1], nil
}

// GetTree 读取 Commit 对应的页面状态
func (ps *PageStorage) GetTree(ctx context.Context, c *core.Commit) (*core.Tree, error) {
	if err := ps.objects.EnsureObject(ctx, c.Root, ps.syncDelegate()); err != nil {
		return nil, err
	}
	return ps.builder.Load(ctx, c.Root)
}

// GetEntry 查找 Commit 上的一个 key
func (ps *PageStorage) GetEntry(ctx context.Context, c *core.Commit, key []byte) (core.Entry, error) {
	tree, err := ps.GetTree(ctx, c)
	if err != nil {
		return core.Entry{}, err
	}
	e, ok := tree.Get(key)
	if !ok {
		return core.Entry{}, status.Errorf(status.NotFound, "key %q not found", key)
	}
	return e, nil
}

// ReadObject 读取完整对象。本地缺失的分片 (LAZY 值) 通过同步委托取回。
func (ps *PageStorage) ReadObject(ctx context.Context, id core.ObjectIdentifier) ([]byte, error) {
	if err := ps.objects.EnsureObject(ctx, id, ps.syncDelegate()); err != nil {
		return nil, err
	}
	return exporter.NewExporter(ps.objects).ReadObject(ctx, id)
}

// Export 把对象按顺序写进 w，缺失的分片先取回
func (ps *PageStorage) Export(ctx context.Context, id core.ObjectIdentifier, w io.Writer) (uint64, error) {
	if err := ps.objects.EnsureObject(ctx, id, ps.syncDelegate()); err != nil {
		return 0, err
	}
	return exporter.NewExporter(ps.objects).Export(ctx, id, w)
}

// Get 读取最新 head 上 key 的值
func (ps *PageStorage) Get(ctx context.Context, key []byte) ([]byte, error) {
	head, err := ps.Head(ctx)
	if err != nil {
		return nil, err
	}
	e, err := ps.GetEntry(ctx, head, key)
	if err != nil {
		return nil, err
	}
	return ps.ReadObject(ctx, e.Identifier)
}

// GetLocalPiece 只读本地分片，供对端拉取，不会触发再次转发
func (ps *PageStorage) GetLocalPiece(ctx context.Context, id core.ObjectIdentifier) ([]byte, error) {
	return ps.objects.GetPiece(ctx, id)
}

// CollectCommitPieces 返回上传一个 Commit 需要的全部分片 (子对象在前)：
// Tree 对象、EAGER 值，以及本地已有的 LAZY 值
func (ps *PageStorage) CollectCommitPieces(ctx context.Context, c *core.Commit) ([]core.ObjectIdentifier, error) {
	pieces, err := ps.objects.CollectPieces(ctx, c.Root)
	if err != nil {
		return nil, err
	}
	tree, err := ps.builder.Load(ctx, c.Root)
	if err != nil {
		return nil, err
	}

	for _, e := range tree.Entries {
		if e.Priority == core.PriorityLazy {
			has, err := ps.objects.HasPiece(ctx, e.Identifier)
			if err != nil {
				return nil, err
			}
			if !has {
				continue
			}
		}
		sub, err := ps.objects.CollectPieces(ctx, e.Identifier)
		if err != nil {
			return nil, err
		}
		pieces = append(pieces, sub...)
	}
	return dedupe(pieces), nil
}

func dedupe(ids []core.ObjectIdentifier) []core.ObjectIdentifier {
	seen := make(map[core.ObjectIdentifier]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Log 从 head 开始按 (代数, 时间戳, ID) 倒序遍历历史
func (ps *PageStorage) Log(ctx context.Context, limit int) ([]*core.Commit, error) {
	frontier, err := ps.GetHeadCommits(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[types.Hash]struct{})
	for _, c := range frontier {
		seen[c.ID()] = struct{}{}
	}

	var out []*core.Commit
	for len(frontier) > 0 && (limit <= 0 || len(out) < limit) {
		// 取出最新的一个
		core.SortCommits(frontier)
		c := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		out = append(out, c)

		for _, p := range c.ParentIDs() {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			pc, err := ps.GetCommit(ctx, p)
			if err != nil {
				return nil, err
			}
			frontier = append(frontier, pc)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// 观察者与同步委托
// -----------------------------------------------------------------------------

// Watch 注册观察者，返回取消函数
func (ps *PageStorage) Watch(w CommitWatcher) func() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	id := ps.nextWatcher
	ps.nextWatcher++
	ps.watchers[id] = w
	return func() {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		delete(ps.watchers, id)
	}
}

func (ps *PageStorage) notify(commits []*core.Commit, source types.Channel) {
	if len(commits) == 0 {
		return
	}
	ps.mu.Lock()
	ws := make([]CommitWatcher, 0, len(ps.watchers))
	for _, w := range ps.watchers {
		ws = append(ws, w)
	}
	ps.mu.Unlock()

	for _, w := range ws {
		w.OnNewCommits(commits, source)
	}
}

// SetSyncDelegate 设置本地缺失对象的取回途径 (通常是 PageSync)
func (ps *PageStorage) SetSyncDelegate(f objectstore.Fetcher) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.delegate = f
}

func (ps *PageStorage) syncDelegate() objectstore.Fetcher {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.delegate
}
