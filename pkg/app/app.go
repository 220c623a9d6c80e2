// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ledgervault/pkg/backoff"
	"ledgervault/pkg/client"
	"ledgervault/pkg/cloud"
	"ledgervault/pkg/cloud/s3provider"
	"ledgervault/pkg/config"
	"ledgervault/pkg/core"
	"ledgervault/pkg/index"
	"ledgervault/pkg/ingester"
	"ledgervault/pkg/kv"
	"ledgervault/pkg/kv/badgerkv"
	"ledgervault/pkg/meta"
	"ledgervault/pkg/objectstore"
	"ledgervault/pkg/p2p"
	"ledgervault/pkg/pagestorage"
	"ledgervault/pkg/pagesync"
	"ledgervault/pkg/status"
	"ledgervault/pkg/storage"
	"ledgervault/pkg/storage/cache"
	"ledgervault/pkg/storage/disk"
	"ledgervault/pkg/storage/kvstore"
	storages3 "ledgervault/pkg/storage/s3"
	"ledgervault/pkg/types"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务，页面通过 OpenPage 按需打开
type App struct {
	Config  *config.Config
	Log     *logrus.Logger
	KV      kv.Store
	Store   storage.Store
	Objects *objectstore.Store
	DB      *meta.DB
	Meta    *meta.Repository
	Sync    *pagesync.LedgerSync
	// P2P 为空表示未启用对端通道
	P2P      *p2p.Synchronizer
	Peers    *p2p.PeerSet
	RepoPath string

	ingest  []ingester.Option
	closers []func() error

	mu    sync.Mutex
	pages map[types.PageID]*Page
}

// Option 在组装时替换某个组件，测试和进程内多副本场景使用
type Option func(*options)

type options struct {
	cloudProvider cloud.Provider
	logger        *logrus.Logger
}

// WithCloudProvider 使用给定的云端实现并启用云通道，忽略 cloud.provider 配置
func WithCloudProvider(p cloud.Provider) Option {
	return func(o *options) { o.cloudProvider = p }
}

func WithLogger(log *logrus.Logger) Option {
	return func(o *options) { o.logger = log }
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(ctx context.Context, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := config.Current()
	if err != nil {
		return nil, err
	}
	if cfg.Repo == "" {
		return nil, fmt.Errorf("repo path not set")
	}
	if _, err := os.Stat(cfg.Repo); err != nil {
		return nil, fmt.Errorf("repository not initialized at %s: %w", cfg.Repo, err)
	}

	log := o.logger
	if log == nil {
		if log, err = config.NewLogger(); err != nil {
			return nil, err
		}
	}

	a := &App{
		Config:   cfg,
		Log:      log,
		RepoPath: cfg.Repo,
		pages:    make(map[types.PageID]*Page),
	}
	// 组装到一半失败时释放已经打开的资源
	if err := a.assemble(ctx, o); err != nil {
		if cerr := a.Close(); cerr != nil {
			log.WithError(cerr).Warn("failed to release partially initialized app")
		}
		return nil, err
	}
	return a, nil
}

// assemble 按顺序打开各个组件，每打开一个就登记关闭函数
func (a *App) assemble(ctx context.Context, o options) error {
	cfg, log := a.Config, a.Log

	// 1. 页面 KV (badger)
	db, err := badgerkv.Open(badgerkv.Config{
		Path:       cfg.KV.Path,
		InMemory:   cfg.KV.InMemory,
		SyncWrites: cfg.KV.SyncWrites,
		Logger:     log.WithField("component", "kv"),
	})
	if err != nil {
		return fmt.Errorf("failed to open kv: %w", err)
	}
	a.KV = db
	a.closers = append(a.closers, db.Close)

	// 2. 分片存储 + 对象层
	store, err := initStore(ctx, a.RepoPath, db)
	if err != nil {
		return err
	}
	if cfg.Storage.Cache.RedisURL != "" {
		cached, err := cache.NewCachedStore(store, cache.Config{
			RedisURL: cfg.Storage.Cache.RedisURL,
			TTL:      cfg.Storage.Cache.TTL,
			Logger:   log.WithField("component", "cache"),
		})
		if err != nil {
			return err
		}
		store = cached
		a.closers = append(a.closers, cached.Close)
	}
	a.Store = store

	policy, err := core.NewDigestPolicy(cfg.Objects.InlineThreshold)
	if err != nil {
		return fmt.Errorf("invalid objects.inline_threshold: %w", err)
	}
	a.Objects = objectstore.New(store, objectstore.Config{Policy: policy, Logger: log.WithField("component", "objects")})
	a.ingest = []ingester.Option{
		ingester.WithChunker(cfg.Objects.Chunker),
		ingester.WithMaxChildren(cfg.Objects.MaxChildren),
	}

	// 3. 元数据库：提交索引 + 云端游标
	mdb, err := meta.NewDB(ctx, meta.Config{
		Driver:   cfg.Database.Driver,
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		Verbose:  cfg.Database.Verbose,
	})
	if err != nil {
		return fmt.Errorf("failed to init metadata: %w", err)
	}
	a.DB = mdb
	a.Meta = meta.NewRepository(mdb)
	a.closers = append(a.closers, mdb.Close)

	// 4. 同步通道
	return a.initSync(ctx, o)
}

// initStore 按 storage.type 创建分片后端。db 只在 kv 类型下使用。
func initStore(ctx context.Context, repoPath string, db kv.Store) (storage.Store, error) {
	storeType := viper.GetString("storage.type")

	switch storeType {
	case "disk", "":
		storePath := viper.GetString("storage.path")
		if storePath == "" {
			storePath = filepath.Join(repoPath, "objects")
		}
		store, err := disk.NewAdapter(storePath)
		if err != nil {
			return nil, fmt.Errorf("failed to init disk storage: %w", err)
		}
		return store, nil

	case "s3":
		bucket := viper.GetString("storage.s3.bucket")
		if bucket == "" {
			return nil, fmt.Errorf("storage.s3.bucket is required for s3 storage")
		}
		store, err := storages3.NewAdapter(ctx, storages3.Config{
			Endpoint:        viper.GetString("storage.s3.endpoint"),
			Region:          viper.GetString("storage.s3.region"),
			Bucket:          bucket,
			AccessKeyID:     viper.GetString("storage.s3.access_key_id"),
			SecretAccessKey: viper.GetString("storage.s3.secret_access_key"),
			KeyPrefix:       viper.GetString("storage.s3.prefix"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init s3 storage: %w", err)
		}
		return store, nil

	case "kv":
		if db == nil {
			return nil, fmt.Errorf("kv storage requires the page kv store")
		}
		return kvstore.NewAdapter(db), nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storeType)
	}
}

func (a *App) initSync(ctx context.Context, o options) error {
	cfg := a.Config
	log := a.Log.WithField("component", "sync")
	syncCfg := pagesync.Config{
		Backoff: backoff.Config{
			Initial: cfg.Sync.Backoff.Initial,
			Factor:  cfg.Sync.Backoff.Factor,
			Max:     cfg.Sync.Backoff.Max,
		},
		PollInterval: cfg.Sync.PollInterval,
		Logger:       log,
	}

	// 1. 云通道
	provider := o.cloudProvider
	if provider == nil && cfg.Cloud.Enabled {
		p, err := newCloudProvider(ctx, cfg.Cloud, log)
		if err != nil {
			return err
		}
		provider = p
	}
	if provider != nil {
		cs, err := cloud.NewSynchronizer(cloud.Config{
			Provider:          provider,
			Cursors:           a.Meta,
			UploadConcurrency: cfg.Cloud.UploadConcurrency,
			Logger:            log.WithField("channel", types.ChannelCloud),
		})
		if err != nil {
			return err
		}
		syncCfg.Cloud = cs
	}

	// 2. 对端通道
	if cfg.P2P.Enabled {
		addrs, err := cfg.P2P.ParsePeers()
		if err != nil {
			return err
		}
		a.Peers = p2p.NewPeerSet()
		for _, pa := range addrs {
			mc, err := client.NewMeshClient(pa.ID, pa.Addr, cfg.P2P.Timeout)
			if err != nil {
				return fmt.Errorf("failed to dial peer %s: %w", pa.ID, err)
			}
			a.Peers.Add(mc)
			a.closers = append(a.closers, mc.Close)
		}
		ps, err := p2p.NewSynchronizer(p2p.Config{
			NodeID:    cfg.P2P.NodeID,
			Transport: a.Peers,
			Logger:    log.WithField("channel", types.ChannelP2P),
		})
		if err != nil {
			return err
		}
		a.P2P = ps
		syncCfg.P2P = ps
	}

	ls, err := pagesync.New(syncCfg)
	if err != nil {
		return err
	}
	a.Sync = ls
	return nil
}

func newCloudProvider(ctx context.Context, cfg config.CloudConfig, log logrus.FieldLogger) (cloud.Provider, error) {
	switch cfg.Provider {
	case "s3", "":
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("cloud.s3.bucket is required for the s3 cloud provider")
		}
		p, err := s3provider.New(ctx, s3provider.Config{
			S3: storages3.Config{
				Endpoint:        cfg.S3.Endpoint,
				Region:          cfg.S3.Region,
				Bucket:          cfg.S3.Bucket,
				AccessKeyID:     cfg.S3.AccessKeyID,
				SecretAccessKey: cfg.S3.SecretAccessKey,
				KeyPrefix:       cfg.S3.Prefix,
				Logger:          log,
			},
			Overlap: cfg.Overlap,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init s3 cloud provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported cloud provider: %s", cfg.Provider)
	}
}

// IndexPath 返回页面暂存区文件
func (a *App) IndexPath(page types.PageID) string {
	return filepath.Join(a.RepoPath, "index", string(page)+".json")
}

// Page 是一个打开的页面：存储、同步协调器和 CLI 暂存区
type Page struct {
	Storage *pagestorage.PageStorage
	Sync    *pagesync.PageSync
	Index   *index.Index

	app *App
}

// OpenPage 打开页面并挂上同步协调器。同步不会自动开始，调用方决定 Start 或 SyncOnce。
// 同一页面在一个 App 里只能打开一次。
func (a *App) OpenPage(ctx context.Context, id types.PageID, syncClient pagesync.PageSyncClient, onError func(error)) (*Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pages[id]; ok {
		return nil, status.Errorf(status.IllegalState, "page %s is already open", id)
	}

	ps, err := pagestorage.Open(ctx, pagestorage.Config{
		Page:     id,
		KV:       a.KV,
		Objects:  a.Objects,
		Indexer:  a.Meta,
		Ingester: a.ingest,
		Logger:   a.Log.WithField("component", "page"),
	})
	if err != nil {
		return nil, err
	}

	if onError == nil {
		onError = func(err error) {
			a.Log.WithError(err).WithField("page", string(id)).Error("sync channel stopped")
		}
	}
	psync, err := a.Sync.CreatePageSync(ps, syncClient, onError)
	if err != nil {
		return nil, err
	}

	idx, err := index.NewIndex(a.IndexPath(id))
	if err != nil {
		_ = psync.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	p := &Page{Storage: ps, Sync: psync, Index: idx, app: a}
	a.pages[id] = p
	return p, nil
}

// Close 停止页面同步，之后可以重新打开
func (p *Page) Close() error {
	p.app.mu.Lock()
	delete(p.app.pages, p.Storage.ID())
	p.app.mu.Unlock()
	return p.Sync.Close()
}

// Close 关闭所有页面，再按打开的逆序释放资源
func (a *App) Close() error {
	a.mu.Lock()
	pages := make([]*Page, 0, len(a.pages))
	for _, p := range a.pages {
		pages = append(pages, p)
	}
	a.mu.Unlock()

	var errs []error
	for _, p := range pages {
		errs = append(errs, p.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
